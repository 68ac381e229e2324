package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"portab/internal/testutil"
)

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("portab %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"export without snapshot", []string{"export"}},
		{"inspect without file", []string{"inspect"}},
		{"select without refs", []string{"select", "a.portab"}},
		{"seal two files", []string{"seal", "a.portab", "b.portab"}},
		{"verify nothing", []string{"verify"}},
		{"pull without id", []string{"archive", "pull"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Errorf("portab %v: expected error", tt.args)
			}
		})
	}
}

// TestEndToEnd drives the CLI through a fresh install: config, export,
// inspect, seal, verify, archive and history. Flags keep their values
// between Execute calls, so each step sets the flags it relies on.
func TestEndToEnd(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("PORTAB_HOME", home)
	t.Setenv("PORTAB_CONFIG_PATH", filepath.Join(home, "portab.toml"))
	t.Setenv("PORTAB_TEST_PASSWORD", "correct horse battery staple")

	out := mustRun(t, "config", "init")
	if !strings.Contains(out, "Configuration initialized") {
		t.Fatalf("config init output = %q", out)
	}
	if _, err := run(t, "config", "init"); err == nil {
		t.Fatal("second config init expected error")
	}

	data, err := json.Marshal(testutil.SampleSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	snapshot := filepath.Join(work, "snapshot.json")
	if err := os.WriteFile(snapshot, data, 0644); err != nil {
		t.Fatal(err)
	}

	plain := filepath.Join(work, "research.portab")
	mustRun(t, "export", snapshot, "-o", filepath.Join(work, "research"), "--name", "Research")
	if _, err := os.Stat(plain); err != nil {
		t.Fatalf("export did not write %s: %v", plain, err)
	}

	out = mustRun(t, "inspect", plain, "-o", "yaml")
	if !strings.Contains(out, "name: Research") || !strings.Contains(out, "tab_count: 3") {
		t.Errorf("inspect yaml = %q", out)
	}

	sealed := filepath.Join(work, "research.sportab")
	mustRun(t, "seal", plain, "-o", sealed, "--out-password-env", "PORTAB_TEST_PASSWORD")

	out = mustRun(t, "inspect", sealed, "-o", "json", "--password-env", "PORTAB_TEST_PASSWORD")
	var view containerView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("inspect json: %v\n%s", err, out)
	}
	if view.Format != "secure" || view.TabCount != 3 {
		t.Errorf("sealed view = %+v", view)
	}

	out = mustRun(t, "verify", plain, sealed)
	if strings.Count(out, "ok  ") != 2 {
		t.Errorf("verify output = %q", out)
	}

	mustRun(t, "keys", "init", "--passphrase-env", "PORTAB_TEST_PASSWORD")

	out = mustRun(t, "archive", "push", work, "-r")
	if strings.Count(out, "stored") != 2 {
		t.Fatalf("archive push output = %q", out)
	}

	out = mustRun(t, "archive", "list", "-n", "10")
	if !strings.Contains(out, "2 archive(s)") || !strings.Contains(out, "Research") {
		t.Errorf("archive list output = %q", out)
	}

	out = mustRun(t, "history", "-n", "10")
	if !strings.Contains(out, "ArchivePush") || !strings.Contains(out, "success") {
		t.Errorf("history output = %q", out)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseApp(t *testing.T) {
	errUpload := errors.New("uploading catalog to vault: disk full")
	errRun := errors.New("push failed")

	tests := []struct {
		name     string
		runErr   error
		closeErr error
		want     []error
		wantMsg  string
	}{
		{name: "both succeed"},
		{name: "close fails", closeErr: errUpload, want: []error{errUpload}, wantMsg: "closing: "},
		{name: "run fails", runErr: errRun, want: []error{errRun}},
		{name: "both fail", runErr: errRun, closeErr: errUpload, want: []error{errRun, errUpload}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.runErr
			closeApp(closerFunc(func() error { return tt.closeErr }), &err)
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("err = %v, want nil", err)
				}
				return
			}
			for _, w := range tt.want {
				if !errors.Is(err, w) {
					t.Errorf("err = %v, want it to wrap %v", err, w)
				}
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}
