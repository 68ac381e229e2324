package portab

import (
	"fmt"
	"strconv"
	"strings"

	"portab/internal/model"
)

// TabRef names one tab of a container: the key of the window it is in and
// its id within that window.
type TabRef struct {
	Window string
	Tab    int
}

func (r TabRef) String() string {
	return r.Window + ":" + strconv.Itoa(r.Tab)
}

// ParseTabRef parses "window_key:tab_id".
func ParseTabRef(s string) (TabRef, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return TabRef{}, model.Errorf(model.ErrValidation, "selection", "tab reference %q is not window:tab", s)
	}
	id, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return TabRef{}, model.Errorf(model.ErrValidation, "selection", "tab reference %q has a non-numeric tab id", s)
	}
	return TabRef{Window: s[:i], Tab: id}, nil
}

// Reduce returns a new container holding only the referenced tabs.
//
// Output windows follow the order in which refs first mention each source
// window; within a window, tabs keep their source order whatever order refs
// lists them in. Windows are rekeyed window_1.., tabs renumbered from 1.
// The first output window is active and none is incognito. Counts are
// recomputed and only groups still referenced are kept.
func Reduce(c *model.Container, refs []TabRef) (*model.Container, error) {
	if len(refs) == 0 {
		return nil, model.Errorf(model.ErrValidation, "selection", "selection is empty")
	}

	var order []string
	selected := make(map[string]map[int]bool)
	for i, ref := range refs {
		w, ok := c.Window(ref.Window)
		if !ok {
			return nil, model.Errorf(model.ErrValidation, fmt.Sprintf("selection[%d].window", i), "no window %q", ref.Window)
		}
		if !hasTab(w, ref.Tab) {
			return nil, model.Errorf(model.ErrValidation, fmt.Sprintf("selection[%d].tab", i), "window %q has no tab %d", ref.Window, ref.Tab)
		}
		if selected[ref.Window] == nil {
			selected[ref.Window] = make(map[int]bool)
			order = append(order, ref.Window)
		}
		selected[ref.Window][ref.Tab] = true
	}

	out := &model.Container{
		Version:  c.Version,
		Format:   c.Format,
		Metadata: c.Metadata,
		Windows:  make([]model.Window, 0, len(order)),
	}
	used := make(map[string]bool)
	for n, key := range order {
		src, _ := c.Window(key)
		w := model.Window{
			Key:    model.WindowKey(n + 1),
			Active: n == 0,
		}
		for _, t := range src.Tabs {
			if !selected[key][t.ID] {
				continue
			}
			t.ID = len(w.Tabs) + 1
			if t.GroupID != "" {
				used[t.GroupID] = true
			}
			w.Tabs = append(w.Tabs, t)
		}
		out.Windows = append(out.Windows, w)
	}

	if len(used) > 0 {
		out.Groups = make(map[string]model.Group, len(used))
		for id := range used {
			out.Groups[id] = c.Groups[id]
		}
	}
	out.Metadata.TabCount = out.CountTabs()
	out.Metadata.WindowCount = out.CountWindows()
	return out, nil
}

// AllTabs returns a ref for every tab of c in container order.
func AllTabs(c *model.Container) []TabRef {
	refs := make([]TabRef, 0, c.CountTabs())
	for _, w := range c.Windows {
		for _, t := range w.Tabs {
			refs = append(refs, TabRef{Window: w.Key, Tab: t.ID})
		}
	}
	return refs
}

func hasTab(w *model.Window, id int) bool {
	for _, t := range w.Tabs {
		if t.ID == id {
			return true
		}
	}
	return false
}
