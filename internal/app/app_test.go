package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"portab/internal/codec"
	"portab/internal/config"
	"portab/internal/model"
	"portab/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("host-test", t.TempDir())
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	cfg.Envelope.KDFIterations = testutil.TestIterations
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	a, err := NewApp(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	return a
}

func writeSnapshot(t *testing.T, dir string) string {
	t.Helper()
	data, err := json.Marshal(testutil.SampleSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "snapshot.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApp_ExportAndInspect(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a := newTestApp(t, cfg, Options{Operation: "Export", Offline: true})
	defer a.Close()

	dir := t.TempDir()
	snap := writeSnapshot(t, dir)

	t.Run("plain", func(t *testing.T) {
		res, out, err := a.Export(ctx, ExportParams{Input: snap, Output: filepath.Join(dir, "research")})
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		if want := filepath.Join(dir, "research.portab"); out != want {
			t.Errorf("output = %q, want %q", out, want)
		}
		if res.Container.Metadata.Name != "research" {
			t.Errorf("name = %q, want it taken from the file name", res.Container.Metadata.Name)
		}

		c, err := a.Inspect(ctx, out, "")
		if err != nil {
			t.Fatalf("Inspect() error = %v", err)
		}
		if diff := cmp.Diff(res.Container, c); diff != "" {
			t.Errorf("inspected container mismatch (-exported +inspected):\n%s", diff)
		}
	})

	t.Run("sealed", func(t *testing.T) {
		_, out, err := a.Export(ctx, ExportParams{Input: snap, Output: filepath.Join(dir, "vault-notes"), Name: "Notes", Password: "hunter2"})
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		if filepath.Ext(out) != codec.ExtSealed {
			t.Fatalf("output = %q, want %s extension", out, codec.ExtSealed)
		}
		sealed, err := IsSealed(out)
		if err != nil || !sealed {
			t.Fatalf("IsSealed() = %v, %v; want true", sealed, err)
		}

		c, err := a.Inspect(ctx, out, "hunter2")
		if err != nil {
			t.Fatalf("Inspect() error = %v", err)
		}
		if c.Metadata.Name != "Notes" || c.Format != model.FormatSecure {
			t.Errorf("got name %q format %q", c.Metadata.Name, c.Format)
		}

		_, err = a.Inspect(ctx, out, "hunter3")
		if got := model.KindOf(err); got != model.ErrWrongPasswordOrTampered {
			t.Errorf("wrong password: KindOf(err) = %v, want %v", got, model.ErrWrongPasswordOrTampered)
		}
		_, err = a.Inspect(ctx, out, "")
		if got := model.KindOf(err); got != model.ErrValidation {
			t.Errorf("no password: KindOf(err) = %v, want %v", got, model.ErrValidation)
		}
	})

	t.Run("selection and privacy", func(t *testing.T) {
		res, _, err := a.Export(ctx, ExportParams{
			Input:     snap,
			Output:    filepath.Join(dir, "one.portab"),
			Selection: []string{"window_1:2"},
			Privacy:   true,
		})
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		c := res.Container
		if c.Metadata.TabCount != 1 || c.Metadata.WindowCount != 1 {
			t.Fatalf("counts = %d tabs / %d windows, want 1/1", c.Metadata.TabCount, c.Metadata.WindowCount)
		}
		if !c.Metadata.PrivacyMode {
			t.Error("PrivacyMode not recorded")
		}
		if got := c.Windows[0].Tabs[0].URL; strings.Contains(got, "utm_source") {
			t.Errorf("tracking parameter kept: %s", got)
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		out := filepath.Join(dir, "twice.portab")
		if _, _, err := a.Export(ctx, ExportParams{Input: snap, Output: out}); err != nil {
			t.Fatalf("first Export() error = %v", err)
		}
		if _, _, err := a.Export(ctx, ExportParams{Input: snap, Output: out}); err == nil {
			t.Fatal("second Export() expected error")
		}
		if _, _, err := a.Export(ctx, ExportParams{Input: snap, Output: out, Overwrite: true}); err != nil {
			t.Fatalf("Export() with Overwrite error = %v", err)
		}
	})

	t.Run("bad selection", func(t *testing.T) {
		_, _, err := a.Export(ctx, ExportParams{Input: snap, Output: filepath.Join(dir, "bad"), Selection: []string{"window_9:1"}})
		if got := model.KindOf(err); got != model.ErrValidation {
			t.Errorf("KindOf(err) = %v, want %v", got, model.ErrValidation)
		}
	})
}

func TestApp_Rewrite(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), Options{Operation: "Seal", Offline: true})
	defer a.Close()

	dir := t.TempDir()
	orig, plainPath, err := a.Export(ctx, ExportParams{Input: writeSnapshot(t, dir), Output: filepath.Join(dir, "s.portab")})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	_, sealedPath, err := a.Rewrite(ctx, RewriteParams{Input: plainPath, Output: filepath.Join(dir, "s"), OutPassword: "pw"})
	if err != nil {
		t.Fatalf("seal: Rewrite() error = %v", err)
	}
	if filepath.Ext(sealedPath) != codec.ExtSealed {
		t.Fatalf("sealed output = %q", sealedPath)
	}

	opened, openPath, err := a.Rewrite(ctx, RewriteParams{Input: sealedPath, Output: filepath.Join(dir, "opened.portab"), InPassword: "pw"})
	if err != nil {
		t.Fatalf("open: Rewrite() error = %v", err)
	}
	if diff := cmp.Diff(orig.Container, opened.Container); diff != "" {
		t.Errorf("seal/open changed the container (-want +got):\n%s", diff)
	}
	want, _ := os.ReadFile(plainPath)
	got, _ := os.ReadFile(openPath)
	if !bytes.Equal(want, got) {
		t.Error("opened file is not byte-identical to the original plain file")
	}

	sel, _, err := a.Rewrite(ctx, RewriteParams{Input: openPath, Output: filepath.Join(dir, "sel"), Selection: []string{"window_2:1,window_1:1"}})
	if err != nil {
		t.Fatalf("select: Rewrite() error = %v", err)
	}
	if got := sel.Container.Windows[0].Tabs[0].URL; got != "https://example.com/" {
		t.Errorf("first selected tab = %s, want the window_2 tab first", got)
	}

	_, _, err = a.Rewrite(ctx, RewriteParams{Input: openPath, Output: filepath.Join(dir, "wrong.portab"), OutPassword: "pw"})
	if got := model.KindOf(err); got != model.ErrValidation {
		t.Errorf("mismatched extension: KindOf(err) = %v, want %v", got, model.ErrValidation)
	}
}

func TestApp_Verify(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), Options{Operation: "Verify", Offline: true})
	defer a.Close()

	dir := t.TempDir()
	snap := writeSnapshot(t, dir)
	_, plainPath, err := a.Export(ctx, ExportParams{Input: snap, Output: filepath.Join(dir, "p")})
	if err != nil {
		t.Fatal(err)
	}
	_, sealedPath, err := a.Export(ctx, ExportParams{Input: snap, Output: filepath.Join(dir, "s"), Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}

	tampered := filepath.Join(dir, "tampered.portab")
	data, _ := os.ReadFile(plainPath)
	data = bytes.Replace(data, []byte("example.com"), []byte("example.org"), 1)
	if err := os.WriteFile(tampered, data, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		path          string
		password      string
		wantKind      codec.Kind
		wantContainer bool
		wantErr       model.Kind
	}{
		{"plain", plainPath, "", codec.KindContainer, true, ""},
		{"sealed structure only", sealedPath, "", codec.KindEnvelope, false, ""},
		{"sealed opened", sealedPath, "pw", codec.KindEnvelope, true, ""},
		{"sealed wrong password", sealedPath, "nope", 0, false, model.ErrWrongPasswordOrTampered},
		{"tampered plain", tampered, "", 0, false, model.ErrIntegrityMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := a.Verify(ctx, tt.path, tt.password)
			if tt.wantErr != "" {
				if got := model.KindOf(err); got != tt.wantErr {
					t.Fatalf("KindOf(err) = %v, want %v (err = %v)", got, tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if report.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", report.Kind, tt.wantKind)
			}
			if (report.Container != nil) != tt.wantContainer {
				t.Errorf("Container present = %v, want %v", report.Container != nil, tt.wantContainer)
			}
			if len(report.Checksum) != 64 {
				t.Errorf("Checksum = %q", report.Checksum)
			}
		})
	}
}

func TestApp_VerifyAll(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), Options{Operation: "Verify", Offline: true})
	defer a.Close()

	dir := t.TempDir()
	snap := writeSnapshot(t, dir)
	var paths []string
	for _, name := range []string{"a", "b", "c"} {
		_, p, err := a.Export(ctx, ExportParams{Input: snap, Output: filepath.Join(dir, name), Password: "pw"})
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	_, plainPath, err := a.Export(ctx, ExportParams{Input: snap, Output: filepath.Join(dir, "plain")})
	if err != nil {
		t.Fatal(err)
	}
	paths = append(paths, plainPath, filepath.Join(dir, "missing.sportab"))

	results := a.VerifyAll(ctx, paths, "pw")
	if len(results) != len(paths) {
		t.Fatalf("got %d results, want %d", len(results), len(paths))
	}
	for i, res := range results[:4] {
		if res.Path != paths[i] {
			t.Errorf("results[%d].Path = %q, want %q", i, res.Path, paths[i])
		}
		if res.Err != nil {
			t.Errorf("%s: %v", res.Path, res.Err)
			continue
		}
		if res.Report.Container == nil || res.Report.Container.Metadata.TabCount == 0 {
			t.Errorf("%s: container not opened", res.Path)
		}
	}
	if results[4].Err == nil {
		t.Error("missing file verified without error")
	}

	wrong := a.VerifyAll(ctx, paths[:2], "nope")
	for _, res := range wrong {
		if got := model.KindOf(res.Err); got != model.ErrWrongPasswordOrTampered {
			t.Errorf("%s: KindOf(err) = %v, want %v", res.Path, got, model.ErrWrongPasswordOrTampered)
		}
		if res.Report != nil {
			t.Errorf("%s: report kept after a failed open", res.Path)
		}
	}
}

// pushFixture exports two containers into a directory, plus one under a
// subdirectory that .portabignore excludes.
func pushFixture(t *testing.T, cfg *config.Config) (dir string, plain, sealed string) {
	t.Helper()
	ctx := context.Background()
	a := newTestApp(t, cfg, Options{Operation: "Export", Offline: true})
	defer a.Close()

	dir = t.TempDir()
	snap := writeSnapshot(t, t.TempDir())
	var err error
	if _, plain, err = a.Export(ctx, ExportParams{Input: snap, Output: filepath.Join(dir, "research")}); err != nil {
		t.Fatal(err)
	}
	if _, sealed, err = a.Export(ctx, ExportParams{Input: snap, Output: filepath.Join(dir, "private"), Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "old"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, _, err = a.Export(ctx, ExportParams{Input: snap, Output: filepath.Join(dir, "old", "stale"), Name: "stale"}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".portabignore"), []byte("old/\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, plain, sealed
}

func TestApp_ArchivePushPull(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	dir, plain, sealed := pushFixture(t, cfg)

	a := newTestApp(t, cfg, Options{Operation: "ArchivePush", Args: []string{dir}})
	results, err := a.ArchivePush(ctx, []string{dir}, true)
	if err != nil {
		t.Fatalf("ArchivePush() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("pushed %d files, want 2 (old/ is ignored): %+v", len(results), results)
	}
	byPath := map[string]*model.Archive{}
	for _, r := range results {
		if r.Err != nil || !r.Created {
			t.Fatalf("push %s: created=%v err=%v", r.Path, r.Created, r.Err)
		}
		byPath[r.Path] = r.Archive
	}
	if got := byPath[sealed]; got.Name != "private" || got.Format != model.FormatSecure {
		t.Errorf("sealed archive = %+v, want name from file and secure format", got)
	}
	if got := byPath[plain]; got.Name != "research" || got.TabCount != 3 || !got.Encrypted {
		t.Errorf("plain archive = %+v", got)
	}

	t.Run("second push dedupes", func(t *testing.T) {
		a := newTestApp(t, cfg, Options{Operation: "ArchivePush"})
		defer a.Close()
		results, err := a.ArchivePush(ctx, []string{plain}, false)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 || results[0].Created {
			t.Errorf("results = %+v, want one existing archive", results)
		}
		if results[0].Archive.ID != byPath[plain].ID {
			t.Errorf("dedupe returned id %s, want %s", results[0].Archive.ID, byPath[plain].ID)
		}
	})

	t.Run("pull by prefix", func(t *testing.T) {
		a := newTestApp(t, cfg, Options{Operation: "ArchivePull"})
		defer a.Close()

		id := byPath[sealed].ID
		needs, err := a.NeedsPassphrase(id[:8])
		if err != nil || !needs {
			t.Fatalf("NeedsPassphrase() = %v, %v; want true", needs, err)
		}

		_, _, err = a.ArchivePull(ctx, PullParams{ID: id[:8], Output: filepath.Join(t.TempDir(), "x")})
		if got := model.KindOf(err); got != model.ErrValidation {
			t.Errorf("pull without passphrase: KindOf(err) = %v, want %v", got, model.ErrValidation)
		}

		out := filepath.Join(t.TempDir(), "restored")
		archive, written, err := a.ArchivePull(ctx, PullParams{ID: id[:8], Output: out, Passphrase: testutil.TestPassphrase})
		if err != nil {
			t.Fatalf("ArchivePull() error = %v", err)
		}
		if archive.ID != id {
			t.Errorf("pulled %s, want %s", archive.ID, id)
		}
		if written != out+codec.ExtSealed {
			t.Errorf("written to %s", written)
		}
		want, _ := os.ReadFile(sealed)
		got, _ := os.ReadFile(written)
		if !bytes.Equal(want, got) {
			t.Error("pulled bytes differ from pushed bytes")
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		a := newTestApp(t, cfg, Options{Operation: "ArchivePull"})
		defer a.Close()
		if _, err := a.ResolveArchive("zzzz"); err == nil {
			t.Fatal("ResolveArchive() expected error")
		}
	})

	t.Run("list and history", func(t *testing.T) {
		a := newTestApp(t, cfg, Options{Operation: "History"})
		defer a.Close()

		archives, err := a.ListArchives(0)
		if err != nil {
			t.Fatal(err)
		}
		if len(archives) != 2 {
			t.Errorf("ListArchives() = %d entries, want 2", len(archives))
		}

		ops, err := a.GetHistory(10)
		if err != nil {
			t.Fatal(err)
		}
		if len(ops) != 2 {
			t.Fatalf("GetHistory() = %d operations, want 2", len(ops))
		}
		for _, op := range ops {
			if op.Operation != "ArchivePush" || op.Status != StatusSuccess || !op.FinishedAt.Valid {
				t.Errorf("operation = %+v", op)
			}
		}
	})
}

func TestApp_StaleCatalog(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	_, plain, _ := pushFixture(t, cfg)

	a := newTestApp(t, cfg, Options{Operation: "ArchivePush"})
	if _, err := a.ArchivePush(ctx, []string{plain}, false); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dbPath := filepath.Join(cfg.Database.DataDir, cfg.HostID+".db")
	if err := os.Remove(dbPath); err != nil {
		t.Fatal(err)
	}

	_, err := NewApp(ctx, cfg, Options{Operation: "ArchiveList"})
	if err == nil || !strings.Contains(err.Error(), "behind the vault") {
		t.Fatalf("NewApp() error = %v, want stale catalog error", err)
	}

	version, err := RestoreCatalog(ctx, cfg)
	if err != nil {
		t.Fatalf("RestoreCatalog() error = %v", err)
	}
	if version != 1 {
		t.Errorf("restored version = %d, want 1", version)
	}

	a = newTestApp(t, cfg, Options{Operation: "ArchiveList"})
	defer a.Close()
	archives, err := a.ListArchives(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(archives) != 1 || archives[0].Name != "research" {
		t.Errorf("archives after restore = %+v", archives)
	}
}

func TestRestoreCatalog_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing uploaded", func(t *testing.T) {
		if _, err := RestoreCatalog(ctx, testConfig(t)); err == nil {
			t.Fatal("RestoreCatalog() expected error")
		}
	})

	t.Run("memory database", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Database = config.DatabaseConfig{Type: "memory"}
		if _, err := RestoreCatalog(ctx, cfg); err == nil {
			t.Fatal("RestoreCatalog() expected error")
		}
	})
}

func TestNewApp_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no vaults", func(c *config.Config) { c.Vaults = nil }},
		{"unknown vault", func(c *config.Config) { c.Vaults[0].Type = "tape" }},
		{"unknown database", func(c *config.Config) { c.Database.Type = "oracle" }},
		{"unknown encryption", func(c *config.Config) { c.Encryption.Type = "rot13" }},
		{"unknown algorithm", func(c *config.Config) { c.Envelope.Algorithm = "DES" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if a, err := NewApp(ctx, cfg, Options{Operation: "Test"}); err == nil {
				a.Close()
				t.Fatal("NewApp() expected error")
			}
		})
	}
}

func TestApp_InitKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption = config.NewConfig("h", cfg.BaseDir).Encryption

	a := newTestApp(t, cfg, Options{Operation: "KeysInit"})
	defer a.Close()

	if err := a.InitKeys("correct horse"); err != nil {
		t.Fatalf("InitKeys() error = %v", err)
	}
	if _, err := os.Stat(cfg.Encryption.PrivateKeyPath); err != nil {
		t.Errorf("private key not written: %v", err)
	}
	if err := a.InitKeys("again"); err == nil {
		t.Error("second InitKeys() expected error")
	}

	none := testConfig(t)
	none.Encryption.Type = "none"
	b := newTestApp(t, none, Options{Operation: "KeysInit"})
	defer b.Close()
	if err := b.InitKeys("x"); err == nil {
		t.Error("InitKeys() with encryption none expected error")
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		out, ext string
		want     string
		wantErr  bool
	}{
		{"", codec.ExtPlain, "-", false},
		{"-", codec.ExtSealed, "-", false},
		{"session", codec.ExtPlain, "session.portab", false},
		{"session.json", codec.ExtSealed, "session.json.sportab", false},
		{"session.portab", codec.ExtPlain, "session.portab", false},
		{"session.SPORTAB", codec.ExtSealed, "session.SPORTAB", false},
		{"session.portab", codec.ExtSealed, "", true},
		{"session.sportab", codec.ExtPlain, "", true},
	}
	for _, tt := range tests {
		got, err := outputPath(tt.out, tt.ext)
		if (err != nil) != tt.wantErr {
			t.Errorf("outputPath(%q, %q) error = %v, wantErr %v", tt.out, tt.ext, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("outputPath(%q, %q) = %q, want %q", tt.out, tt.ext, got, tt.want)
		}
	}
}

func TestParseRefs(t *testing.T) {
	got, err := parseRefs([]string{"window_1:2, window_2:1", "window_1:1", ""})
	if err != nil {
		t.Fatalf("parseRefs() error = %v", err)
	}
	var strs []string
	for _, r := range got {
		strs = append(strs, r.String())
	}
	if diff := cmp.Diff([]string{"window_1:2", "window_2:1", "window_1:1"}, strs); diff != "" {
		t.Errorf("parseRefs() mismatch (-want +got):\n%s", diff)
	}

	if _, err := parseRefs([]string{"window_1"}); err == nil {
		t.Error("parseRefs() expected error for ref without tab id")
	}
}

func TestArchiveFileName(t *testing.T) {
	tests := []struct {
		archive model.Archive
		want    string
	}{
		{model.Archive{ID: "a1", Name: "Research", Format: model.FormatPlain}, "Research.portab"},
		{model.Archive{ID: "a2", Name: "work/today", Format: model.FormatSecure}, "work_today.sportab"},
		{model.Archive{ID: "a3", Name: "  ", Format: model.FormatPlain}, "a3.portab"},
	}
	for _, tt := range tests {
		if got := archiveFileName(&tt.archive); got != tt.want {
			t.Errorf("archiveFileName(%+v) = %q, want %q", tt.archive, got, tt.want)
		}
	}
}
