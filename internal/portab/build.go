package portab

import (
	"runtime"
	"strings"
	"time"

	"portab/internal/model"
)

// BuildOptions carries the metadata a Snapshot does not have.
type BuildOptions struct {
	Name        string
	Application string // defaults to "portab"
	OS          string // defaults to runtime.GOOS
	Format      model.Format
	CreatedAt   time.Time
	Redaction   Redaction
}

// BuildStats reports what Build filtered out.
type BuildStats struct {
	DroppedTabs     int // invalid or internal URLs
	DroppedWindows  int // windows left without tabs
	DroppedGroupRef int // tabs that pointed at a group the snapshot lacks
}

// validUTF8 replaces each run of bytes that is not UTF-8 with U+FFFD, the
// same substitution a JSON round trip makes, so the digest of a built
// container survives Parse.
func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// cleanText collapses whitespace. Titles are plain text and otherwise kept
// verbatim; renderers escape them for their own medium.
func cleanText(s string) string {
	return strings.Join(strings.Fields(validUTF8(s)), " ")
}

// Build turns a raw snapshot into a valid container in one step.
//
// Tabs whose URL fails model.CheckURL are dropped, then windows left empty
// are dropped. Kept windows are keyed window_1.. in snapshot order and
// their tabs numbered from 1. The first focused window is the active one.
// Only groups that a kept tab references are carried over. The redaction
// in opts is applied last.
func Build(snap *Snapshot, opts BuildOptions) (*model.Container, BuildStats, error) {
	var stats BuildStats
	if snap == nil {
		return nil, stats, model.Errorf(model.ErrValidation, "snapshot", "snapshot is nil")
	}

	format := opts.Format
	if format == "" {
		format = model.FormatPlain
	}
	if !format.Valid() {
		return nil, stats, model.Errorf(model.ErrValidation, "format", "unknown format %q", format)
	}

	rawGroups := make(map[GroupRef]RawGroup, len(snap.Groups))
	for _, g := range snap.Groups {
		if g.ID == NoGroup {
			continue
		}
		if _, dup := rawGroups[g.ID]; !dup {
			rawGroups[g.ID] = g
		}
	}

	c := &model.Container{
		Version: model.FormatVersion,
		Format:  format,
	}
	used := make(map[GroupRef]bool)
	haveActive := false

	for _, rw := range snap.Windows {
		var tabs []model.Tab
		for _, rt := range rw.Tabs {
			url := validUTF8(strings.TrimSpace(rt.URL))
			if !model.ValidURL(url) {
				stats.DroppedTabs++
				continue
			}

			tab := model.Tab{
				ID:     len(tabs) + 1,
				URL:    url,
				Title:  cleanText(rt.Title),
				Pinned: rt.Pinned,
			}
			if tab.Title == "" {
				tab.Title = tab.URL
			}
			if fav := validUTF8(rt.FavIconURL); model.ValidFavicon(fav) {
				tab.Favicon = fav
			}
			if rt.GroupID != NoGroup {
				if _, ok := rawGroups[rt.GroupID]; ok {
					tab.GroupID = string(rt.GroupID)
					used[rt.GroupID] = true
				} else {
					stats.DroppedGroupRef++
				}
			}
			tabs = append(tabs, tab)
		}

		if len(tabs) == 0 {
			stats.DroppedWindows++
			continue
		}

		active := rw.Focused && !haveActive
		haveActive = haveActive || active
		c.Windows = append(c.Windows, model.Window{
			Key:       model.WindowKey(len(c.Windows) + 1),
			Active:    active,
			Incognito: rw.Incognito,
			Tabs:      tabs,
		})
	}

	if len(used) > 0 {
		c.Groups = make(map[string]model.Group, len(used))
		for id := range used {
			g := rawGroups[id]
			c.Groups[string(id)] = model.Group{
				Name:  cleanText(g.Title),
				Color: model.NormalizeColor(g.Color),
			}
		}
	}

	c.Metadata = model.Metadata{
		CreatedAt:   opts.CreatedAt,
		Name:        cleanText(opts.Name),
		Application: validUTF8(opts.Application),
		OS:          validUTF8(opts.OS),
		TabCount:    c.CountTabs(),
		WindowCount: c.CountWindows(),
	}
	if c.Metadata.Application == "" {
		c.Metadata.Application = "portab"
	}
	if c.Metadata.OS == "" {
		c.Metadata.OS = runtime.GOOS
	}

	if opts.Redaction.Any() {
		c = Redact(c, opts.Redaction)
	}
	if err := c.Validate(); err != nil {
		return nil, stats, err
	}
	return c, stats, nil
}
