package model

import (
	"strconv"
	"time"
)

// FormatVersion is the container format revision written by this package.
const FormatVersion = "1.0"

// Format tells a reader whether the payload is wrapped in an envelope.
type Format string

const (
	FormatPlain  Format = "plain"
	FormatSecure Format = "secure"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return f == FormatPlain || f == FormatSecure
}

// Container is one exported browser session: ordered windows, their tabs,
// the tab groups they reference and descriptive metadata.
//
// Containers are values. Build, Reduce and Redact return new containers and
// never mutate their input.
type Container struct {
	Version  string
	Format   Format
	Metadata Metadata
	Windows  []Window         // ordered; Window.Key is unique
	Groups   map[string]Group // group id -> group
}

// Metadata describes where and when a container was produced.
// TabCount and WindowCount always equal the actual counts.
type Metadata struct {
	CreatedAt   time.Time
	Name        string
	Application string // producing application, e.g. "portab/1.0" or "chrome"
	OS          string // producing operating system, e.g. "linux"
	TabCount    int
	WindowCount int
	PrivacyMode bool // tracking parameters stripped, titles redacted, favicons dropped
	SecureMode  bool // titles hidden, favicons dropped
}

// Window is an ordered list of tabs. Tab order is restoration order.
type Window struct {
	Key       string
	Active    bool
	Incognito bool
	Tabs      []Tab
}

// Tab is a single restorable page. ID is unique within its window only.
type Tab struct {
	ID      int
	URL     string
	Title   string
	Pinned  bool
	Favicon string // optional absolute http(s) URL
	GroupID string // optional key into Container.Groups
}

// Group is a named, colored tab group.
type Group struct {
	Name  string
	Color Color
}

// CountTabs returns the total number of tabs across all windows.
func (c *Container) CountTabs() int {
	n := 0
	for _, w := range c.Windows {
		n += len(w.Tabs)
	}
	return n
}

// CountWindows returns the number of non-empty windows.
func (c *Container) CountWindows() int {
	n := 0
	for _, w := range c.Windows {
		if len(w.Tabs) > 0 {
			n++
		}
	}
	return n
}

// Window returns the window with the given key.
func (c *Container) Window(key string) (*Window, bool) {
	for i := range c.Windows {
		if c.Windows[i].Key == key {
			return &c.Windows[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of c.
func (c *Container) Clone() *Container {
	out := &Container{
		Version:  c.Version,
		Format:   c.Format,
		Metadata: c.Metadata,
		Windows:  make([]Window, len(c.Windows)),
	}
	for i, w := range c.Windows {
		out.Windows[i] = w
		out.Windows[i].Tabs = append([]Tab(nil), w.Tabs...)
	}
	if c.Groups != nil {
		out.Groups = make(map[string]Group, len(c.Groups))
		for id, g := range c.Groups {
			out.Groups[id] = g
		}
	}
	return out
}

// WindowKey returns the canonical key of the n-th (1-based) window.
func WindowKey(n int) string {
	return "window_" + strconv.Itoa(n)
}
