package testutil

import (
	"portab/internal/model"
	"portab/internal/portab"
)

// SampleSnapshot is two browser windows: a focused one with a pinned docs
// tab, a grouped tab and an internal page that Build drops, and a second
// window holding a single tab.
func SampleSnapshot() *portab.Snapshot {
	return &portab.Snapshot{
		Windows: []portab.RawWindow{
			{
				ID:      101,
				Focused: true,
				Tabs: []portab.RawTab{
					{ID: 7, URL: "https://go.dev/doc/", Title: "Documentation - The Go Programming Language", Pinned: true, FavIconURL: "https://go.dev/images/favicon-gopher.png"},
					{ID: 8, URL: "https://pkg.go.dev/net/url?utm_source=newsletter&tab=doc", Title: "url package - net/url", GroupID: "12"},
					{ID: 9, URL: "chrome://settings/", Title: "Settings"},
				},
			},
			{
				ID: 102,
				Tabs: []portab.RawTab{
					{ID: 20, URL: "https://example.com/", Title: "Example Domain"},
				},
			},
		},
		Groups: []portab.RawGroup{
			{ID: "12", Title: "Reading", Color: "blue"},
		},
	}
}

// SampleContainer is the container Build makes of SampleSnapshot, stamped
// with FixedTime.
func SampleContainer() *model.Container {
	return &model.Container{
		Version: model.FormatVersion,
		Format:  model.FormatPlain,
		Metadata: model.Metadata{
			CreatedAt:   FixedTime,
			Name:        "Research",
			Application: "portab",
			OS:          "linux",
			TabCount:    3,
			WindowCount: 2,
		},
		Windows: []model.Window{
			{
				Key:    "window_1",
				Active: true,
				Tabs: []model.Tab{
					{ID: 1, URL: "https://go.dev/doc/", Title: "Documentation - The Go Programming Language", Pinned: true, Favicon: "https://go.dev/images/favicon-gopher.png"},
					{ID: 2, URL: "https://pkg.go.dev/net/url?utm_source=newsletter&tab=doc", Title: "url package - net/url", GroupID: "12"},
				},
			},
			{
				Key: "window_2",
				Tabs: []model.Tab{
					{ID: 1, URL: "https://example.com/", Title: "Example Domain"},
				},
			},
		},
		Groups: map[string]model.Group{
			"12": {Name: "Reading", Color: model.ColorBlue},
		},
	}
}

// SampleBuildOptions matches the metadata of SampleContainer.
func SampleBuildOptions() portab.BuildOptions {
	return portab.BuildOptions{
		Name:        "Research",
		Application: "portab",
		OS:          "linux",
		CreatedAt:   FixedTime,
	}
}
