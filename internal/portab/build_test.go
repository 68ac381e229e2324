package portab_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"portab/internal/codec"
	"portab/internal/model"
	"portab/internal/portab"
	"portab/internal/testutil"
)

func TestBuild_DropsUnrestorableTabs(t *testing.T) {
	t.Parallel()

	snap := &portab.Snapshot{Windows: []portab.RawWindow{{
		ID: 1,
		Tabs: []portab.RawTab{
			{ID: 1, URL: "https://a.example", Pinned: true},
			{ID: 2, URL: "javascript:alert(1)"},
			{ID: 3, URL: "https://b.example"},
		},
	}}}

	c, stats, err := portab.Build(snap, testutil.SampleBuildOptions())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(c.Windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(c.Windows))
	}
	tabs := c.Windows[0].Tabs
	if len(tabs) != 2 {
		t.Fatalf("got %d tabs, want 2", len(tabs))
	}
	if c.Metadata.TabCount != 2 {
		t.Errorf("TabCount = %d, want 2", c.Metadata.TabCount)
	}
	if !tabs[0].Pinned {
		t.Error("first tab should be pinned")
	}
	if tabs[1].URL != "https://b.example" || tabs[1].ID != 2 {
		t.Errorf("second tab = %+v, want https://b.example renumbered to 2", tabs[1])
	}
	if stats.DroppedTabs != 1 {
		t.Errorf("DroppedTabs = %d, want 1", stats.DroppedTabs)
	}
}

func TestBuild_SampleSnapshot(t *testing.T) {
	t.Parallel()

	c, stats, err := portab.Build(testutil.SampleSnapshot(), testutil.SampleBuildOptions())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if diff := cmp.Diff(testutil.SampleContainer(), c); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(portab.BuildStats{DroppedTabs: 1}, stats); diff != "" {
		t.Errorf("BuildStats mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Windows(t *testing.T) {
	t.Parallel()

	snap := &portab.Snapshot{Windows: []portab.RawWindow{
		{ID: 1, Tabs: []portab.RawTab{{URL: "about:blank"}}},
		{ID: 2, Incognito: true, Tabs: []portab.RawTab{{URL: "https://a.example"}}},
		{ID: 3, Focused: true, Tabs: []portab.RawTab{{URL: "https://b.example"}}},
		{ID: 4, Focused: true, Tabs: []portab.RawTab{{URL: "https://c.example"}}},
		{ID: 5},
	}}

	c, stats, err := portab.Build(snap, testutil.SampleBuildOptions())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	type win struct {
		Key       string
		Active    bool
		Incognito bool
	}
	var got []win
	for _, w := range c.Windows {
		got = append(got, win{w.Key, w.Active, w.Incognito})
	}
	want := []win{
		{"window_1", false, true},
		{"window_2", true, false},
		{"window_3", false, false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("windows mismatch (-want +got):\n%s", diff)
	}
	if stats.DroppedWindows != 2 {
		t.Errorf("DroppedWindows = %d, want 2", stats.DroppedWindows)
	}
	if c.Metadata.WindowCount != 3 {
		t.Errorf("WindowCount = %d, want 3", c.Metadata.WindowCount)
	}
}

func TestBuild_Groups(t *testing.T) {
	t.Parallel()

	snap := &portab.Snapshot{
		Windows: []portab.RawWindow{{Tabs: []portab.RawTab{
			{URL: "https://a.example", GroupID: "1"},
			{URL: "https://b.example", GroupID: "404"},
			{URL: "https://c.example", GroupID: portab.NoGroup},
		}}},
		Groups: []portab.RawGroup{
			{ID: "1", Title: "Work", Color: "Magenta"},
			{ID: "2", Title: "Unused", Color: "red"},
		},
	}

	c, stats, err := portab.Build(snap, testutil.SampleBuildOptions())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	wantGroups := map[string]model.Group{"1": {Name: "Work", Color: model.NormalizeColor("Magenta")}}
	if diff := cmp.Diff(wantGroups, c.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
	tabs := c.Windows[0].Tabs
	if tabs[0].GroupID != "1" || tabs[1].GroupID != "" || tabs[2].GroupID != "" {
		t.Errorf("group ids = %q %q %q, want \"1\" \"\" \"\"", tabs[0].GroupID, tabs[1].GroupID, tabs[2].GroupID)
	}
	if stats.DroppedGroupRef != 1 {
		t.Errorf("DroppedGroupRef = %d, want 1", stats.DroppedGroupRef)
	}
}

func TestBuild_Text(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tab     portab.RawTab
		wantTab model.Tab
	}{
		{
			name:    "angle brackets kept",
			tab:     portab.RawTab{URL: "https://a.example", Title: "std::vector<int> reference"},
			wantTab: model.Tab{ID: 1, URL: "https://a.example", Title: "std::vector<int> reference"},
		},
		{
			name:    "comparison kept",
			tab:     portab.RawTab{URL: "https://a.example", Title: "if a<b then"},
			wantTab: model.Tab{ID: 1, URL: "https://a.example", Title: "if a<b then"},
		},
		{
			name:    "markup and entities stored verbatim",
			tab:     portab.RawTab{URL: "https://a.example", Title: "<b>Go</b> &amp; more"},
			wantTab: model.Tab{ID: 1, URL: "https://a.example", Title: "<b>Go</b> &amp; more"},
		},
		{
			name:    "invalid utf-8 replaced",
			tab:     portab.RawTab{URL: "https://a.example/\xff\xfe", Title: "caf\xe9 menu"},
			wantTab: model.Tab{ID: 1, URL: "https://a.example/\ufffd", Title: "caf\ufffd menu"},
		},
		{
			name:    "whitespace collapsed",
			tab:     portab.RawTab{URL: "https://a.example", Title: "  spaced \n\t out  "},
			wantTab: model.Tab{ID: 1, URL: "https://a.example", Title: "spaced out"},
		},
		{
			name:    "empty title falls back to url",
			tab:     portab.RawTab{URL: "https://a.example/page"},
			wantTab: model.Tab{ID: 1, URL: "https://a.example/page", Title: "https://a.example/page"},
		},
		{
			name:    "data favicon dropped",
			tab:     portab.RawTab{URL: "https://a.example", Title: "A", FavIconURL: "data:image/png;base64,AAAA"},
			wantTab: model.Tab{ID: 1, URL: "https://a.example", Title: "A"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap := &portab.Snapshot{Windows: []portab.RawWindow{{Tabs: []portab.RawTab{tt.tab}}}}
			c, _, err := portab.Build(snap, testutil.SampleBuildOptions())
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if diff := cmp.Diff(tt.wantTab, c.Windows[0].Tabs[0]); diff != "" {
				t.Errorf("tab mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild_ExportParses(t *testing.T) {
	t.Parallel()

	snap := &portab.Snapshot{
		Windows: []portab.RawWindow{{Tabs: []portab.RawTab{
			{URL: "https://a.example/\xff\xfe", Title: "caf\xe9 menu", GroupID: "1"},
			{URL: "https://b.example/?q=a&b=<c>", Title: "std::vector<int> & friends"},
			{URL: "https://c.example", Title: "👩\u200d💻 \x80 notes"},
		}}},
		Groups: []portab.RawGroup{{ID: "1", Title: "caf\xe9", Color: "red"}},
	}
	opts := testutil.SampleBuildOptions()
	opts.Name = "menu \xff"

	built, _, err := portab.Build(snap, opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	data, _, err := codec.Serialize(built)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	parsed, err := codec.Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if diff := cmp.Diff(built, parsed, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("export changed the container (-built +parsed):\n%s", diff)
	}
}

func TestBuild_Redaction(t *testing.T) {
	t.Parallel()

	opts := testutil.SampleBuildOptions()
	opts.Redaction = portab.Redaction{Privacy: true}
	c, _, err := portab.Build(testutil.SampleSnapshot(), opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !c.Metadata.PrivacyMode || c.Metadata.SecureMode {
		t.Errorf("mode flags = privacy %v secure %v, want privacy only", c.Metadata.PrivacyMode, c.Metadata.SecureMode)
	}
	got := c.Windows[0].Tabs[1]
	if got.URL != "https://pkg.go.dev/net/url?tab=doc" {
		t.Errorf("URL = %q, want tracking stripped", got.URL)
	}
	if got.Title != portab.RedactedTitle {
		t.Errorf("Title = %q, want %q", got.Title, portab.RedactedTitle)
	}
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		snap      *portab.Snapshot
		opts      portab.BuildOptions
		wantField string
	}{
		{
			name:      "nil snapshot",
			wantField: "snapshot",
		},
		{
			name:      "unknown format",
			snap:      testutil.SampleSnapshot(),
			opts:      portab.BuildOptions{Format: "zip"},
			wantField: "format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := portab.Build(tt.snap, tt.opts)
			assertKind(t, err, model.ErrValidation, tt.wantField)
		})
	}
}
