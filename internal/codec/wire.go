package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"portab/internal/model"
)

// wireContainer is the on-disk shape of a plain or inner (sealed) container.
// Field order here is the canonical field order.
type wireContainer struct {
	Version   string               `json:"version"`
	Format    model.Format         `json:"format"`
	Metadata  wireMetadata         `json:"metadata"`
	Windows   wireWindows          `json:"windows"`
	Groups    map[string]wireGroup `json:"groups"`
	Signature string               `json:"signature,omitempty"`
}

type wireMetadata struct {
	CreatedAt   time.Time `json:"created_at"`
	Name        string    `json:"name"`
	Application string    `json:"application"`
	OS          string    `json:"os"`
	TabCount    int       `json:"tab_count"`
	WindowCount int       `json:"window_count"`
	PrivacyMode bool      `json:"privacy_mode"`
	SecureMode  bool      `json:"secure_mode"`
}

type wireWindow struct {
	Active    bool      `json:"active"`
	Incognito bool      `json:"incognito"`
	Tabs      []wireTab `json:"tabs"`
}

type wireTab struct {
	ID      int    `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Pinned  bool   `json:"pinned"`
	Favicon string `json:"favicon,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}

type wireGroup struct {
	Name  string      `json:"name"`
	Color model.Color `json:"color"`
}

type keyedWindow struct {
	Key    string
	Window wireWindow
}

// wireWindows encodes as a JSON object whose member order is window order.
// encoding/json maps lose order, so both directions are written by hand.
type wireWindows []keyedWindow

// marshal encodes v as JSON without escaping '<', '>' and '&', so URLs
// are stored as written and the digest matches any producer that hashes
// plain JSON. The encoder's trailing newline is dropped.
func marshal(v any, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (ws wireWindows) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kw := range ws {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshal(kw.Key, false)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		win, err := marshal(kw.Window, false)
		if err != nil {
			return nil, fmt.Errorf("encoding window %q: %w", kw.Key, err)
		}
		buf.Write(win)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps duplicate keys so validation can report them.
func (ws *wireWindows) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*ws = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("windows must be an object")
	}

	var out wireWindows
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("windows key must be a string")
		}
		var w wireWindow
		if err := dec.Decode(&w); err != nil {
			return fmt.Errorf("window %q: %w", key, err)
		}
		out = append(out, keyedWindow{Key: key, Window: w})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*ws = out
	return nil
}

func toWire(c *model.Container) *wireContainer {
	w := &wireContainer{
		Version: c.Version,
		Format:  c.Format,
		Metadata: wireMetadata{
			CreatedAt:   c.Metadata.CreatedAt,
			Name:        c.Metadata.Name,
			Application: c.Metadata.Application,
			OS:          c.Metadata.OS,
			TabCount:    c.Metadata.TabCount,
			WindowCount: c.Metadata.WindowCount,
			PrivacyMode: c.Metadata.PrivacyMode,
			SecureMode:  c.Metadata.SecureMode,
		},
		Windows: make(wireWindows, 0, len(c.Windows)),
		Groups:  make(map[string]wireGroup, len(c.Groups)),
	}
	for _, win := range c.Windows {
		tabs := make([]wireTab, len(win.Tabs))
		for i, t := range win.Tabs {
			tabs[i] = wireTab(t)
		}
		w.Windows = append(w.Windows, keyedWindow{
			Key:    win.Key,
			Window: wireWindow{Active: win.Active, Incognito: win.Incognito, Tabs: tabs},
		})
	}
	for id, g := range c.Groups {
		w.Groups[id] = wireGroup(g)
	}
	return w
}

func fromWire(w *wireContainer) *model.Container {
	c := &model.Container{
		Version: w.Version,
		Format:  w.Format,
		Metadata: model.Metadata{
			CreatedAt:   w.Metadata.CreatedAt,
			Name:        w.Metadata.Name,
			Application: w.Metadata.Application,
			OS:          w.Metadata.OS,
			TabCount:    w.Metadata.TabCount,
			WindowCount: w.Metadata.WindowCount,
			PrivacyMode: w.Metadata.PrivacyMode,
			SecureMode:  w.Metadata.SecureMode,
		},
	}
	for _, kw := range w.Windows {
		win := model.Window{
			Key:       kw.Key,
			Active:    kw.Window.Active,
			Incognito: kw.Window.Incognito,
		}
		if len(kw.Window.Tabs) > 0 {
			win.Tabs = make([]model.Tab, len(kw.Window.Tabs))
			for i, t := range kw.Window.Tabs {
				win.Tabs[i] = model.Tab(t)
			}
		}
		c.Windows = append(c.Windows, win)
	}
	if len(w.Groups) > 0 {
		c.Groups = make(map[string]model.Group, len(w.Groups))
		for id, g := range w.Groups {
			c.Groups[id] = model.Group(g)
		}
	}
	return c
}
