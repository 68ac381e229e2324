package main

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"

	"portab/internal/app"
	"portab/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	windowStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	pinStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// groupColors maps the palette onto ANSI 256 colors.
var groupColors = map[model.Color]lipgloss.Color{
	model.ColorGrey:   "245",
	model.ColorBlue:   "33",
	model.ColorRed:    "160",
	model.ColorYellow: "220",
	model.ColorGreen:  "34",
	model.ColorPink:   "205",
	model.ColorPurple: "93",
	model.ColorCyan:   "44",
	model.ColorOrange: "208",
}

// htmlPolicy limits `inspect -o html` to headings, lists and links, drops
// hrefs outside http, https and mailto, and marks links nofollow.
var htmlPolicy = bluemonday.UGCPolicy().AddTargetBlankToFullyQualifiedLinks(true)

// termText makes container text safe to print: escape sequences are
// removed and other control characters become spaces.
func termText(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, ansi.Strip(s))
}

// containerView is the json/yaml shape of `portab inspect`.
type containerView struct {
	Name        string       `json:"name" yaml:"name"`
	Version     string       `json:"version" yaml:"version"`
	Format      string       `json:"format" yaml:"format"`
	CreatedAt   time.Time    `json:"created_at" yaml:"created_at"`
	Application string       `json:"application" yaml:"application"`
	OS          string       `json:"os" yaml:"os"`
	WindowCount int          `json:"window_count" yaml:"window_count"`
	TabCount    int          `json:"tab_count" yaml:"tab_count"`
	PrivacyMode bool         `json:"privacy_mode" yaml:"privacy_mode"`
	SecureMode  bool         `json:"secure_mode" yaml:"secure_mode"`
	Windows     []windowView `json:"windows" yaml:"windows"`
}

type windowView struct {
	Key       string    `json:"key" yaml:"key"`
	Active    bool      `json:"active,omitempty" yaml:"active,omitempty"`
	Incognito bool      `json:"incognito,omitempty" yaml:"incognito,omitempty"`
	Tabs      []tabView `json:"tabs" yaml:"tabs"`
}

type tabView struct {
	ID     int    `json:"id" yaml:"id"`
	Title  string `json:"title" yaml:"title"`
	URL    string `json:"url" yaml:"url"`
	Pinned bool   `json:"pinned,omitempty" yaml:"pinned,omitempty"`
	Group  string `json:"group,omitempty" yaml:"group,omitempty"`
}

func newContainerView(c *model.Container) containerView {
	v := containerView{
		Name:        c.Metadata.Name,
		Version:     c.Version,
		Format:      string(c.Format),
		CreatedAt:   c.Metadata.CreatedAt,
		Application: c.Metadata.Application,
		OS:          c.Metadata.OS,
		WindowCount: c.Metadata.WindowCount,
		TabCount:    c.Metadata.TabCount,
		PrivacyMode: c.Metadata.PrivacyMode,
		SecureMode:  c.Metadata.SecureMode,
	}
	for _, w := range c.Windows {
		wv := windowView{Key: w.Key, Active: w.Active, Incognito: w.Incognito}
		for _, t := range w.Tabs {
			tv := tabView{ID: t.ID, Title: t.Title, URL: t.URL, Pinned: t.Pinned}
			if g, ok := c.Groups[t.GroupID]; ok {
				tv.Group = g.Name
			}
			wv.Tabs = append(wv.Tabs, tv)
		}
		v.Windows = append(v.Windows, wv)
	}
	return v
}

// renderContainer writes c in one of the inspect formats: text, json,
// yaml or html.
func renderContainer(w io.Writer, c *model.Container, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newContainerView(c))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(newContainerView(c)); err != nil {
			return err
		}
		return enc.Close()
	case "html":
		return renderContainerHTML(w, c)
	case "text", "":
		renderContainerText(w, c)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json, yaml or html)", format)
	}
}

func containerName(c *model.Container) string {
	if c.Metadata.Name == "" {
		return "Untitled"
	}
	return c.Metadata.Name
}

// renderContainerHTML writes a standalone page with one list of links per
// window.
func renderContainerHTML(w io.Writer, c *model.Container) error {
	var body strings.Builder
	fmt.Fprintf(&body, "<h1>%s</h1>\n", html.EscapeString(containerName(c)))
	for _, win := range c.Windows {
		fmt.Fprintf(&body, "<h2>%s</h2>\n<ul>\n", html.EscapeString(win.Key))
		for _, t := range win.Tabs {
			fmt.Fprintf(&body, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(t.URL), html.EscapeString(t.Title))
		}
		body.WriteString("</ul>\n")
	}

	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(containerName(c)), htmlPolicy.Sanitize(body.String()))
	return err
}

func renderContainerText(w io.Writer, c *model.Container) {
	name := termText(containerName(c))
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s  (%s, %d windows, %d tabs)",
		name, c.Format, c.Metadata.WindowCount, c.Metadata.TabCount)))

	created := fmt.Sprintf("created %s", c.Metadata.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	if c.Metadata.Application != "" {
		created += " by " + termText(c.Metadata.Application)
	}
	if c.Metadata.OS != "" {
		created += " on " + termText(c.Metadata.OS)
	}
	var modes []string
	if c.Metadata.PrivacyMode {
		modes = append(modes, "privacy")
	}
	if c.Metadata.SecureMode {
		modes = append(modes, "secure")
	}
	if len(modes) > 0 {
		created += " [" + strings.Join(modes, ", ") + " mode]"
	}
	fmt.Fprintln(w, dimStyle.Render(created))

	for _, win := range c.Windows {
		fmt.Fprintln(w)
		label := termText(win.Key)
		if win.Active {
			label += " (active)"
		}
		if win.Incognito {
			label += " (incognito)"
		}
		fmt.Fprintln(w, windowStyle.Render(label))

		for _, t := range win.Tabs {
			var tags []string
			if t.Pinned {
				tags = append(tags, pinStyle.Render("[pinned]"))
			}
			if g, ok := c.Groups[t.GroupID]; ok {
				style := lipgloss.NewStyle().Foreground(groupColors[g.Color])
				tags = append(tags, style.Render("["+termText(g.Name)+"]"))
			}
			line := fmt.Sprintf("%4d  %s", t.ID, termText(t.Title))
			if len(tags) > 0 {
				line += "  " + strings.Join(tags, " ")
			}
			fmt.Fprintln(w, line)
			fmt.Fprintln(w, "      "+dimStyle.Render(termText(t.URL)))
		}
	}
}

func renderArchives(w io.Writer, archives []*model.Archive) {
	if len(archives) == 0 {
		fmt.Fprintln(w, "No archives recorded.")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d archive(s)", len(archives))))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tFORMAT\tWINDOWS\tTABS\tSIZE\tCREATED")
	for _, a := range archives {
		windows, tabs := "-", "-"
		if a.Format == model.FormatPlain {
			windows, tabs = fmt.Sprint(a.WindowCount), fmt.Sprint(a.TabCount)
		}
		format := string(a.Format)
		if a.Encrypted {
			format += "+enc"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(a.ID), termText(a.Name), format, windows, tabs, humanSize(a.Size),
			a.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func renderHistory(w io.Writer, ops []*model.Operation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "No operations recorded.")
		return
	}
	for _, op := range ops {
		duration := ""
		if op.FinishedAt.Valid {
			d := op.FinishedAt.Time.Sub(op.StartedAt)
			duration = d.Truncate(time.Millisecond).String()
		}
		fmt.Fprintf(w, "#%d  %-15s  %s  %-10s  %s\n",
			op.ID,
			op.Operation,
			op.StartedAt.Format("2006-01-02 15:04:05"),
			op.Status,
			duration,
		)
	}
}

func renderPushResults(w io.Writer, results []app.PushResult) {
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "%s  %s: %v\n", failStyle.Render("failed"), r.Path, r.Err)
		case r.Created:
			fmt.Fprintf(w, "%s  %s  %s\n", okStyle.Render("stored"), shortID(r.Archive.ID), r.Path)
		default:
			fmt.Fprintf(w, "%s  %s  %s\n", dimStyle.Render("exists"), shortID(r.Archive.ID), r.Path)
		}
	}
}

func renderVerify(w io.Writer, path string, report *app.VerifyReport) {
	detail := "integrity ok"
	switch {
	case report.Container != nil:
		detail = fmt.Sprintf("%s, %d windows, %d tabs", detail,
			report.Container.Metadata.WindowCount, report.Container.Metadata.TabCount)
	default:
		detail = "well-formed envelope, not opened"
	}
	fmt.Fprintf(w, "%s  %s  %s (%s)\n", okStyle.Render("ok"), path, report.Kind, detail)
}

// shortID abbreviates an archive id for display; `archive pull` accepts
// any unique prefix.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
