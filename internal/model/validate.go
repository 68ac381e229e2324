package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validate checks every structural invariant of a container and returns the
// first violation as an ErrValidation error naming the offending field.
//
// The at-most-one-active-window rule is advisory and not checked here.
func (c *Container) Validate() error {
	if c == nil {
		return &Error{Kind: ErrValidation, Field: "container", Err: fmt.Errorf("container is nil")}
	}
	if err := CheckVersion(c.Version); err != nil {
		return &Error{Kind: ErrValidation, Field: "version", Err: err}
	}
	if !c.Format.Valid() {
		return Errorf(ErrValidation, "format", "unknown format %q", c.Format)
	}
	if err := checkText(
		"metadata.name", c.Metadata.Name,
		"metadata.application", c.Metadata.Application,
		"metadata.os", c.Metadata.OS,
	); err != nil {
		return err
	}

	for id, g := range c.Groups {
		if id == "" {
			return Errorf(ErrValidation, "groups", "group id is empty")
		}
		if !utf8.ValidString(g.Name) {
			return Errorf(ErrValidation, "groups."+id+".name", "text is not valid UTF-8")
		}
		if !g.Color.Valid() {
			return Errorf(ErrValidation, "groups."+id+".color", "color %q is not in the palette", g.Color)
		}
	}

	seen := make(map[string]bool, len(c.Windows))
	for _, w := range c.Windows {
		field := "windows." + w.Key
		if w.Key == "" {
			return Errorf(ErrValidation, "windows", "window key is empty")
		}
		if seen[w.Key] {
			return Errorf(ErrValidation, field, "duplicate window key")
		}
		seen[w.Key] = true
		if len(w.Tabs) == 0 {
			return Errorf(ErrValidation, field+".tabs", "window has no tabs")
		}
		if err := validateTabs(c, field, w.Tabs); err != nil {
			return err
		}
	}

	if got := c.CountTabs(); c.Metadata.TabCount != got {
		return Errorf(ErrValidation, "metadata.tab_count", "tab_count is %d, container holds %d tabs", c.Metadata.TabCount, got)
	}
	if got := c.CountWindows(); c.Metadata.WindowCount != got {
		return Errorf(ErrValidation, "metadata.window_count", "window_count is %d, container holds %d windows", c.Metadata.WindowCount, got)
	}
	return nil
}

func validateTabs(c *Container, windowField string, tabs []Tab) error {
	ids := make(map[int]bool, len(tabs))
	for i, t := range tabs {
		field := fmt.Sprintf("%s.tabs[%d]", windowField, i)
		if t.ID <= 0 {
			return Errorf(ErrValidation, field+".id", "tab id %d is not positive", t.ID)
		}
		if ids[t.ID] {
			return Errorf(ErrValidation, field+".id", "duplicate tab id %d", t.ID)
		}
		ids[t.ID] = true
		if err := checkText(
			field+".url", t.URL,
			field+".title", t.Title,
			field+".favicon", t.Favicon,
		); err != nil {
			return err
		}
		if err := CheckURL(t.URL); err != nil {
			return &Error{Kind: ErrValidation, Field: field + ".url", Err: err}
		}
		if t.Favicon != "" && !ValidFavicon(t.Favicon) {
			return Errorf(ErrValidation, field+".favicon", "favicon is not a short absolute http(s) URL")
		}
		if t.GroupID != "" {
			if _, ok := c.Groups[t.GroupID]; !ok {
				return Errorf(ErrValidation, field+".group_id", "group %q does not exist", t.GroupID)
			}
		}
	}
	return nil
}

// checkText rejects strings that are not UTF-8. The encoder would replace
// the bad bytes, so the stored text would differ from what was validated.
// pairs alternates field path and value.
func checkText(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if !utf8.ValidString(pairs[i+1]) {
			return Errorf(ErrValidation, pairs[i], "text is not valid UTF-8")
		}
	}
	return nil
}

// CheckVersion accepts any revision of the current major format version.
func CheckVersion(v string) error {
	if v == "" {
		return fmt.Errorf("version is empty")
	}
	major, _, _ := strings.Cut(v, ".")
	want, _, _ := strings.Cut(FormatVersion, ".")
	if major != want {
		return fmt.Errorf("format version %q is not supported (want %s.x)", v, want)
	}
	return nil
}
