package portab_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/klauspost/compress/zstd"

	"portab/internal/codec"
	"portab/internal/database"
	"portab/internal/encryption"
	"portab/internal/model"
	"portab/internal/portab"
	"portab/internal/testutil"
	"portab/internal/vault"
)

type serviceFixture struct {
	svc     *portab.Service
	sealer  *encryption.PasswordSealer
	vault   *vault.MemoryVault
	catalog *database.SQLiteDatabase
	dc      portab.DecryptionContext
}

// newService wires a Service over in-memory collaborators. encrypted
// selects whether archive blobs go through a TestEncryptor.
func newService(t *testing.T, encrypted bool, encoder *codec.Encoder) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		sealer:  testutil.NewTestSealer(t),
		vault:   testutil.NewTestVault(),
		catalog: testutil.NewTestDatabase(t),
	}
	var enc portab.Encryptor
	if encrypted {
		var te *encryption.TestEncryptor
		te, f.dc = testutil.NewTestEncryptor(t)
		enc = te
	}
	f.svc = portab.NewService(f.sealer, encoder, f.vault, f.catalog, enc,
		portab.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	return f
}

func sampleRequest(password string) portab.ExportRequest {
	return portab.ExportRequest{
		Snapshot: testutil.SampleSnapshot(),
		Options:  testutil.SampleBuildOptions(),
		Password: password,
	}
}

func TestService_ExportImportPlain(t *testing.T) {
	t.Parallel()
	f := newService(t, false, nil)
	ctx := context.Background()

	out, err := f.svc.Export(ctx, sampleRequest(""))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if out.Extension != codec.ExtPlain {
		t.Errorf("Extension = %q, want %q", out.Extension, codec.ExtPlain)
	}
	if out.Stats.DroppedTabs != 1 {
		t.Errorf("DroppedTabs = %d, want 1", out.Stats.DroppedTabs)
	}

	got, err := f.svc.Import(ctx, out.Data, "")
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if diff := cmp.Diff(testutil.SampleContainer(), got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Import() mismatch (-want +got):\n%s", diff)
	}
}

func TestService_ExportImportSealed(t *testing.T) {
	t.Parallel()
	f := newService(t, false, nil)
	ctx := context.Background()

	out, err := f.svc.Export(ctx, sampleRequest("correct-horse-42"))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if out.Extension != codec.ExtSealed {
		t.Errorf("Extension = %q, want %q", out.Extension, codec.ExtSealed)
	}
	if bytes.Contains(out.Data, []byte("go.dev")) {
		t.Error("sealed output contains a tab URL")
	}

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.svc.Import(ctx, out.Data, "wrong-password")
		if !errors.Is(err, model.ErrWrongPasswordOrTampered) {
			t.Errorf("Import() error = %v, want ErrWrongPasswordOrTampered", err)
		}
		if !model.IsRetryable(err) {
			t.Error("wrong password should be retryable")
		}
	})

	t.Run("missing password", func(t *testing.T) {
		_, err := f.svc.Import(ctx, out.Data, "")
		assertKind(t, err, model.ErrValidation, "password")
	})

	t.Run("right password", func(t *testing.T) {
		got, err := f.svc.Import(ctx, out.Data, "correct-horse-42")
		if err != nil {
			t.Fatalf("Import() error = %v", err)
		}
		want := testutil.SampleContainer()
		want.Format = model.FormatSecure
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("Import() mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestService_SealedPlaintextIsByteIdentical(t *testing.T) {
	t.Parallel()
	f := newService(t, false, nil)
	ctx := context.Background()

	c := testutil.SampleContainer()
	out, err := f.svc.Encode(ctx, c, "correct-horse-42")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	secure := c.Clone()
	secure.Format = model.FormatSecure
	want, _, err := codec.Serialize(secure)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	env, err := codec.ParseEnvelope(out.Data)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	got, err := f.sealer.Open(ctx, env, "correct-horse-42")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("opened plaintext differs from the sealed serialization")
	}
	if c.Format != model.FormatPlain {
		t.Error("Encode() mutated its input")
	}
}

func TestService_ExportSelection(t *testing.T) {
	t.Parallel()
	f := newService(t, false, nil)

	req := sampleRequest("")
	req.Selection = []portab.TabRef{{Window: "window_2", Tab: 1}, {Window: "window_1", Tab: 2}}
	out, err := f.svc.Export(context.Background(), req)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if got := urls(out.Container); !cmp.Equal(got, [][]string{{"https://example.com/"}, {"https://pkg.go.dev/net/url?utm_source=newsletter&tab=doc"}}) {
		t.Errorf("selected urls = %v", got)
	}

	req.Selection = []portab.TabRef{{Window: "window_9", Tab: 1}}
	_, err = f.svc.Export(context.Background(), req)
	assertKind(t, err, model.ErrValidation, "selection[0].window")
}

func TestService_ExportWarnsOnSize(t *testing.T) {
	t.Parallel()
	f := newService(t, false, &codec.Encoder{WarnSize: 64})

	out, err := f.svc.Export(context.Background(), sampleRequest(""))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(out.Warnings) != 1 || out.Warnings[0].Code != codec.WarnOversize {
		t.Errorf("Warnings = %v, want one %s warning", out.Warnings, codec.WarnOversize)
	}
}

func TestService_ImportRejectsTamperedPlain(t *testing.T) {
	t.Parallel()
	f := newService(t, false, nil)
	ctx := context.Background()

	out, err := f.svc.Export(ctx, sampleRequest(""))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	tampered := bytes.Replace(out.Data, []byte("example.com"), []byte("example.org"), 1)
	_, err = f.svc.Import(ctx, tampered, "")
	if !errors.Is(err, model.ErrIntegrityMismatch) {
		t.Errorf("Import() error = %v, want ErrIntegrityMismatch", err)
	}
}

func TestService_ArchiveRetrieve(t *testing.T) {
	t.Parallel()

	for _, encrypted := range []bool{false, true} {
		name := "compressed"
		if encrypted {
			name = "encrypted"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newService(t, encrypted, nil)
			ctx := context.Background()

			out, err := f.svc.Export(ctx, sampleRequest(""))
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}

			a, created, err := f.svc.Archive(ctx, out.Data, "")
			if err != nil {
				t.Fatalf("Archive() error = %v", err)
			}
			if !created {
				t.Error("first Archive() should create a record")
			}
			want := &model.Archive{
				ID:          "archive-1",
				Name:        "Research",
				Checksum:    portab.Checksum(out.Data),
				Format:      model.FormatPlain,
				Size:        int64(len(out.Data)),
				Encrypted:   encrypted,
				WindowCount: 2,
				TabCount:    3,
				CreatedAt:   testutil.FixedTime,
			}
			if diff := cmp.Diff(want, a); diff != "" {
				t.Errorf("Archive() mismatch (-want +got):\n%s", diff)
			}

			var stored bytes.Buffer
			if err := f.vault.GetContent(ctx, a.Checksum, &stored); err != nil {
				t.Fatalf("vault GetContent() error = %v", err)
			}
			if bytes.Equal(stored.Bytes(), out.Data) {
				t.Error("vault holds the raw container bytes")
			}

			data, got, err := f.svc.Retrieve(ctx, a.ID, f.dc)
			if err != nil {
				t.Fatalf("Retrieve() error = %v", err)
			}
			if !bytes.Equal(data, out.Data) {
				t.Error("Retrieve() bytes differ from the archived bytes")
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Retrieve() archive mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestService_ArchiveDeduplicates(t *testing.T) {
	t.Parallel()
	f := newService(t, false, nil)
	ctx := context.Background()

	out, err := f.svc.Export(ctx, sampleRequest(""))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	first, _, err := f.svc.Archive(ctx, out.Data, "")
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	second, created, err := f.svc.Archive(ctx, out.Data, "again")
	if err != nil {
		t.Fatalf("second Archive() error = %v", err)
	}
	if created {
		t.Error("second Archive() of the same bytes should not create a record")
	}
	if second.ID != first.ID {
		t.Errorf("second Archive() id = %s, want %s", second.ID, first.ID)
	}

	archives, err := f.svc.ListArchives(0)
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	if len(archives) != 1 {
		t.Errorf("ListArchives() returned %d archives, want 1", len(archives))
	}
}

func TestService_ArchiveSealed(t *testing.T) {
	t.Parallel()
	f := newService(t, true, nil)
	ctx := context.Background()

	out, err := f.svc.Export(ctx, sampleRequest("correct-horse-42"))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	a, _, err := f.svc.Archive(ctx, out.Data, "sealed research")
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if a.Format != model.FormatSecure || a.TabCount != 0 || a.Name != "sealed research" {
		t.Errorf("Archive() = %+v, want secure, no counts, given name", a)
	}
	if a.Extension() != codec.ExtSealed {
		t.Errorf("Extension() = %q, want %q", a.Extension(), codec.ExtSealed)
	}

	data, _, err := f.svc.Retrieve(ctx, a.ID, f.dc)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if _, err := f.svc.Import(ctx, data, "correct-horse-42"); err != nil {
		t.Errorf("Import() of retrieved sealed archive error = %v", err)
	}
}

func TestService_ArchiveRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	f := newService(t, false, nil)

	for _, in := range []string{"", "not json", `{"version":"1.0","windows":{}}`} {
		if _, _, err := f.svc.Archive(context.Background(), []byte(in), ""); err == nil {
			t.Errorf("Archive(%q) succeeded", in)
		}
	}
	archives, err := f.svc.ListArchives(0)
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	if len(archives) != 0 {
		t.Errorf("catalog has %d archives after rejected input, want 0", len(archives))
	}
}

func TestService_RetrieveErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown id", func(t *testing.T) {
		f := newService(t, false, nil)
		if _, _, err := f.svc.Retrieve(ctx, "missing", nil); err == nil {
			t.Error("Retrieve() of unknown id succeeded")
		}
	})

	t.Run("encrypted without key", func(t *testing.T) {
		f := newService(t, true, nil)
		out, err := f.svc.Export(ctx, sampleRequest(""))
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		a, _, err := f.svc.Archive(ctx, out.Data, "")
		if err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		if _, _, err := f.svc.Retrieve(ctx, a.ID, nil); err == nil {
			t.Error("Retrieve() of encrypted archive without a key succeeded")
		}
	})

	t.Run("vault returns other content", func(t *testing.T) {
		f := newService(t, false, nil)
		checksum := portab.Checksum([]byte("expected"))

		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatal(err)
		}
		blob := enc.EncodeAll([]byte("something else"), nil)
		enc.Close()
		if err := f.vault.PutContent(ctx, checksum, bytes.NewReader(blob), int64(len(blob))); err != nil {
			t.Fatalf("PutContent() error = %v", err)
		}
		if err := f.catalog.CreateArchive(&model.Archive{
			ID: "forged", Checksum: checksum, Format: model.FormatPlain, Size: 8, CreatedAt: testutil.FixedTime,
		}); err != nil {
			t.Fatalf("CreateArchive() error = %v", err)
		}

		_, _, err = f.svc.Retrieve(ctx, "forged", nil)
		assertKind(t, err, model.ErrIntegrityMismatch, "checksum")
	})
}

func TestService_History(t *testing.T) {
	t.Parallel()
	f := newService(t, false, nil)

	for _, name := range []string{"archive push", "archive pull"} {
		op, err := f.catalog.CreateOperation(name, "")
		if err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}
		if err := f.catalog.FinishOperation(op.ID, "success"); err != nil {
			t.Fatalf("FinishOperation() error = %v", err)
		}
	}

	ops, err := f.svc.History(1)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != "archive pull" {
		t.Errorf("History(1) = %+v, want the newest operation", ops)
	}
}
