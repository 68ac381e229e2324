package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"portab/internal/codec"
	"portab/internal/config"
	"portab/internal/database"
	"portab/internal/encryption"
	"portab/internal/fs"
	"portab/internal/model"
	"portab/internal/portab"
	"portab/internal/vault"
)

// catalogMetadataName is the vault metadata item holding the catalog
// snapshot for a host.
const catalogMetadataName = "catalog"

// Options selects how much of the application NewApp wires.
type Options struct {
	// Operation names the command being run, e.g. "ArchivePush".
	Operation string
	Args      []string
	// Offline skips the vault and the catalog. Export, import, seal, open
	// and verify work on local files only and need neither.
	Offline bool
	// Verbose sends debug records to stderr as well as the log file.
	Verbose bool
}

// App is the application layer between the CLI and portab.Service.
// It constructs all dependencies from config, exposes operations that
// accept raw paths, and uploads the catalog to the vault on Close after
// a mutating command.
type App struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	vault     portab.Vault
	encryptor portab.Encryptor
	sealer    *encryption.PasswordSealer
	service   *portab.Service
	logger    *slog.Logger
	op        *Operation
	logFile   *os.File
}

// NewApp creates a wired App. The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	stderrLevel := slog.LevelWarn
	if opts.Verbose {
		stderrLevel = slog.LevelDebug
	}
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, stderrLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		op:      NewOperation(opts.Operation, opts.Args...),
		logFile: logFile,
	}
	if err := a.wire(ctx, opts.Offline); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, offline bool) error {
	cfg := a.cfg
	sealer, err := encryption.NewSealerFromConfig(cfg.Envelope)
	if err != nil {
		return err
	}
	a.sealer = sealer
	encoder := &codec.Encoder{WarnSize: cfg.Export.WarnSize, Indent: !cfg.Export.Compact}

	if !offline {
		if len(cfg.Vaults) == 0 {
			return fmt.Errorf("no vaults configured")
		}
		v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v

		db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
		if err != nil {
			return fmt.Errorf("creating database: %w", err)
		}
		a.db = db
		if err := db.CheckMigrations(); err != nil {
			return fmt.Errorf("database schema out of date: %w", err)
		}
		if err := a.checkRemoteCatalog(ctx); err != nil {
			return err
		}

		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return fmt.Errorf("creating encryptor: %w", err)
		}
		a.encryptor = enc
	}

	var catalog portab.Catalog
	if a.db != nil {
		catalog = a.db
	}
	a.service = portab.NewService(sealer, encoder, a.vault, catalog, a.encryptor,
		&slogAdapter{l: a.logger}, portab.SystemClock{}, portab.UUIDGenerator{})
	return nil
}

// checkRemoteCatalog refuses to run against a local catalog that is older
// than the snapshot another run uploaded to the vault.
func (a *App) checkRemoteCatalog(ctx context.Context) error {
	remote, err := a.vault.GetMetadataVersion(ctx, a.cfg.HostID, catalogMetadataName)
	if err != nil {
		return fmt.Errorf("checking remote catalog version: %w", err)
	}
	local, err := a.db.MaxOperationID()
	if err != nil {
		return fmt.Errorf("checking local catalog version: %w", err)
	}
	if remote > local {
		return fmt.Errorf("local catalog is behind the vault (local=%d, remote=%d): run `portab catalog restore`", local, remote)
	}
	return nil
}

// persistOperation records the operation in the catalog, giving it an id.
// Only catalog-mutating commands call it.
func (a *App) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	if a.db == nil {
		return fmt.Errorf("operation %s needs the catalog", a.op.Operation)
	}
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// ExportParams describes one `portab export`.
type ExportParams struct {
	Input     string   // snapshot file, "-" for stdin
	Output    string   // "" or "-" for stdout; missing extension is added
	Name      string   // defaults to the output file's base name
	Selection []string // "window_key:tab_id" refs into the built container
	Privacy   bool
	Secure    bool
	Password  string // non-empty seals the output
	Overwrite bool
}

// Export builds a container from a snapshot file and writes it out.
// It returns the result and the path written.
func (a *App) Export(ctx context.Context, p ExportParams) (*portab.Exported, string, error) {
	data, err := fs.ReadFile(p.Input, 0)
	if err != nil {
		return nil, "", err
	}
	snap, err := portab.DecodeSnapshot(data)
	if err != nil {
		return nil, "", err
	}
	refs, err := parseRefs(p.Selection)
	if err != nil {
		return nil, "", err
	}

	ext := codec.ExtPlain
	if p.Password != "" {
		ext = codec.ExtSealed
	}
	out, err := outputPath(p.Output, ext)
	if err != nil {
		return nil, "", err
	}
	name := p.Name
	if name == "" && out != "-" {
		name = strings.TrimSuffix(filepath.Base(out), ext)
	}

	res, err := a.service.Export(ctx, portab.ExportRequest{
		Snapshot: snap,
		Options: portab.BuildOptions{
			Name:        name,
			Application: a.cfg.Export.Application,
			Redaction: portab.Redaction{
				Privacy: p.Privacy || a.cfg.Export.PrivacyMode,
				Secure:  p.Secure || a.cfg.Export.SecureMode,
			},
		},
		Selection: refs,
		Password:  p.Password,
	})
	if err != nil {
		return nil, "", err
	}
	if err := fs.WriteFile(out, res.Data, 0600, p.Overwrite); err != nil {
		return nil, "", err
	}
	return res, out, nil
}

// Inspect reads and fully verifies a container file. password is only
// consulted for sealed files.
func (a *App) Inspect(ctx context.Context, path, password string) (*model.Container, error) {
	data, err := fs.ReadFile(path, 0)
	if err != nil {
		return nil, err
	}
	return a.service.Import(ctx, data, password)
}

// IsSealed reports whether the file at path holds an envelope. It reads
// the file, so it is not meant for stdin.
func IsSealed(path string) (bool, error) {
	if k := fs.KindForPath(path); k != codec.KindUnknown {
		return k == codec.KindEnvelope, nil
	}
	data, err := fs.ReadFile(path, 0)
	if err != nil {
		return false, err
	}
	kind, err := codec.Detect(data)
	if err != nil {
		return false, err
	}
	return kind == codec.KindEnvelope, nil
}

// RewriteParams describes a command that reads one container and writes
// another: select, seal and open.
type RewriteParams struct {
	Input       string
	Output      string
	InPassword  string   // opens a sealed input
	OutPassword string   // seals the output; empty writes a plain file
	Selection   []string // optional subset of tabs
	Overwrite   bool
}

// Rewrite imports a container, optionally reduces it, and encodes it
// again. The output format follows OutPassword.
func (a *App) Rewrite(ctx context.Context, p RewriteParams) (*portab.Exported, string, error) {
	c, err := a.Inspect(ctx, p.Input, p.InPassword)
	if err != nil {
		return nil, "", err
	}
	if len(p.Selection) > 0 {
		refs, err := parseRefs(p.Selection)
		if err != nil {
			return nil, "", err
		}
		if c, err = portab.Reduce(c, refs); err != nil {
			return nil, "", err
		}
	}

	ext := codec.ExtPlain
	if p.OutPassword != "" {
		ext = codec.ExtSealed
	}
	out, err := outputPath(p.Output, ext)
	if err != nil {
		return nil, "", err
	}
	res, err := a.service.Encode(ctx, c, p.OutPassword)
	if err != nil {
		return nil, "", err
	}
	if err := fs.WriteFile(out, res.Data, 0600, p.Overwrite); err != nil {
		return nil, "", err
	}
	return res, out, nil
}

// VerifyReport is the outcome of verifying a file.
type VerifyReport struct {
	Kind      codec.Kind
	Container *model.Container // nil when a sealed file was only checked structurally
	Checksum  string
}

// Verify checks a container file. Plain files are integrity-checked and
// validated. Sealed files are checked for a well-formed envelope, and
// opened and validated too when password is given.
func (a *App) Verify(ctx context.Context, path, password string) (*VerifyReport, error) {
	data, err := fs.ReadFile(path, 0)
	if err != nil {
		return nil, err
	}
	kind, err := codec.Detect(data)
	if err != nil {
		return nil, err
	}
	report := &VerifyReport{Kind: kind, Checksum: portab.Checksum(data)}
	if kind == codec.KindEnvelope && password == "" {
		if _, err := codec.ParseEnvelope(data); err != nil {
			return nil, err
		}
		return report, nil
	}
	c, err := a.service.Import(ctx, data, password)
	if err != nil {
		return nil, err
	}
	report.Container = c
	return report, nil
}

// VerifyResult is the outcome of verifying one of several files.
type VerifyResult struct {
	Path   string
	Report *VerifyReport
	Err    error
}

// VerifyAll verifies every path. When a password is given the sealed files
// are opened concurrently, since each open is dominated by its key
// derivation. results[i] belongs to paths[i].
func (a *App) VerifyAll(ctx context.Context, paths []string, password string) []VerifyResult {
	results := make([]VerifyResult, len(paths))
	var (
		jobs    []encryption.OpenJob
		pending []int
	)
	for i, path := range paths {
		results[i].Path = path
		data, err := fs.ReadFile(path, 0)
		if err != nil {
			results[i].Err = err
			continue
		}
		kind, err := codec.Detect(data)
		if err != nil {
			results[i].Err = err
			continue
		}
		if kind != codec.KindEnvelope || password == "" {
			results[i].Report, results[i].Err = a.Verify(ctx, path, password)
			continue
		}
		env, err := codec.ParseEnvelope(data)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Report = &VerifyReport{Kind: kind, Checksum: portab.Checksum(data)}
		jobs = append(jobs, encryption.OpenJob{Envelope: env, Password: password})
		pending = append(pending, i)
	}

	for j, res := range a.sealer.OpenAll(ctx, jobs, 0) {
		i := pending[j]
		if res.Err != nil {
			results[i].Report, results[i].Err = nil, res.Err
			continue
		}
		c, err := codec.ParseSealed(res.Plaintext)
		if err != nil {
			results[i].Report, results[i].Err = nil, err
			continue
		}
		results[i].Report.Container = c
	}
	for _, r := range results {
		if r.Err != nil {
			a.logger.Warn("verification failed", "path", r.Path, "error", r.Err)
		}
	}
	return results
}

// PushResult reports one file handled by ArchivePush.
type PushResult struct {
	Path    string
	Archive *model.Archive
	Created bool
	Err     error
}

// ArchivePush stores container files in the vault. Directories are
// searched for .portab and .sportab files, honouring the configured ignore
// patterns and any .portabignore. A file that fails does not stop the
// others; its error is in its result and the operation is marked failed.
func (a *App) ArchivePush(ctx context.Context, paths []string, recursive bool) ([]PushResult, error) {
	var files []string
	for _, raw := range paths {
		p, info, err := fs.Resolve(raw, true)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := fs.FindContainers(p, recursive, a.cfg.Archive.Ignore)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, nil
	}

	if err := a.persistOperation(); err != nil {
		return nil, err
	}

	results := make([]PushResult, 0, len(files))
	for _, f := range files {
		r := PushResult{Path: f}
		r.Archive, r.Created, r.Err = a.pushFile(ctx, f)
		if r.Err != nil {
			a.op.Fail(r.Err)
			a.logger.Error("archive push failed", "path", f, "error", r.Err)
		}
		results = append(results, r)
		if err := ctx.Err(); err != nil {
			return results, a.op.Fail(err)
		}
	}
	return results, nil
}

func (a *App) pushFile(ctx context.Context, path string) (*model.Archive, bool, error) {
	data, err := fs.ReadFile(path, 0)
	if err != nil {
		return nil, false, err
	}
	// Sealed files reveal no name of their own.
	name := ""
	if fs.KindForPath(path) == codec.KindEnvelope {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return a.service.Archive(ctx, data, name)
}

// ResolveArchive finds the archive whose id is or starts with idOrPrefix.
func (a *App) ResolveArchive(idOrPrefix string) (*model.Archive, error) {
	if a.db == nil {
		return nil, fmt.Errorf("archive lookup needs the catalog")
	}
	if idOrPrefix == "" {
		return nil, fmt.Errorf("archive id must not be empty")
	}
	matches, err := a.db.FindArchivesByPrefix(idOrPrefix)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no archive matches %q", idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("archive id %q is ambiguous: %d matches", idOrPrefix, len(matches))
	}
}

// PullParams describes one `portab archive pull`.
type PullParams struct {
	ID     string // full id or unique prefix
	Output string // "" writes <name><ext> in the current directory; "-" is stdout
	// Passphrase unlocks the archive key; needed for encrypted archives.
	Passphrase string
	Overwrite  bool
}

// ArchivePull retrieves an archived container and writes it out
// byte-identical to what was pushed.
func (a *App) ArchivePull(ctx context.Context, p PullParams) (*model.Archive, string, error) {
	archive, err := a.ResolveArchive(p.ID)
	if err != nil {
		return nil, "", err
	}

	var dc portab.DecryptionContext
	if archive.Encrypted {
		if a.encryptor == nil {
			return nil, "", fmt.Errorf("archive %s is encrypted but no encryption is configured", archive.ID)
		}
		if p.Passphrase == "" {
			return nil, "", model.Errorf(model.ErrValidation, "passphrase", "archive %s is encrypted; a passphrase is required", archive.ID)
		}
		if dc, err = a.encryptor.Unlock(p.Passphrase); err != nil {
			return nil, "", err
		}
	}

	data, _, err := a.service.Retrieve(ctx, archive.ID, dc)
	if err != nil {
		return nil, "", err
	}

	out := p.Output
	if out == "" {
		out = archiveFileName(archive)
	}
	out, err = outputPath(out, archive.Extension())
	if err != nil {
		return nil, "", err
	}
	if err := fs.WriteFile(out, data, 0600, p.Overwrite); err != nil {
		return nil, "", err
	}
	return archive, out, nil
}

// NeedsPassphrase reports whether pulling idOrPrefix requires unlocking
// the archive key.
func (a *App) NeedsPassphrase(idOrPrefix string) (bool, error) {
	archive, err := a.ResolveArchive(idOrPrefix)
	if err != nil {
		return false, err
	}
	return archive.Encrypted, nil
}

// ListArchives returns catalog entries, newest first.
func (a *App) ListArchives(limit int) ([]*model.Archive, error) {
	if a.db == nil {
		return nil, fmt.Errorf("listing archives needs the catalog")
	}
	return a.service.ListArchives(limit)
}

// GetHistory returns the most recent catalog operations.
func (a *App) GetHistory(limit int) ([]*model.Operation, error) {
	if a.db == nil {
		return nil, fmt.Errorf("history needs the catalog")
	}
	return a.service.History(limit)
}

// InitKeys generates the archive key pair.
func (a *App) InitKeys(passphrase string) error {
	if a.encryptor == nil {
		return fmt.Errorf("encryption type %q does not use keys", a.cfg.Encryption.Type)
	}
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("archive keys already exist")
	}
	return a.encryptor.Setup(passphrase)
}

// ValidateVault checks the configured vault is reachable.
func (a *App) ValidateVault(ctx context.Context) error {
	if a.vault == nil {
		return fmt.Errorf("no vault wired")
	}
	return a.vault.ValidateSetup(ctx)
}

// Close finalizes the operation and releases resources. After a persisted
// operation the catalog is snapshotted and uploaded to the vault with the
// operation id as its version.
func (a *App) Close() error {
	if a.db == nil || !a.op.Persisted() {
		return a.closeResources()
	}

	var errs []error
	if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
		errs = append(errs, fmt.Errorf("finishing operation: %w", err))
	}
	if err := a.uploadCatalog(context.Background()); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.closeResources())
	return errors.Join(errs...)
}

// uploadCatalog snapshots the catalog into a temp file and stores it as
// host metadata.
func (a *App) uploadCatalog(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "portab-catalog-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for catalog snapshot: %w", err)
	}
	defer os.RemoveAll(dir)

	snapshot := filepath.Join(dir, "catalog.db")
	if err := a.db.BackupTo(snapshot); err != nil {
		return err
	}

	f, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("opening catalog snapshot: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat catalog snapshot: %w", err)
	}

	if err := a.vault.PutMetadata(ctx, a.cfg.HostID, catalogMetadataName, f, info.Size(), a.op.ID); err != nil {
		return fmt.Errorf("uploading catalog to vault: %w", err)
	}
	a.logger.Debug("catalog uploaded", "version", a.op.ID, "bytes", info.Size())
	return nil
}

func (a *App) closeResources() error {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if c, ok := a.vault.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing vault: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// RestoreCatalog replaces the local sqlite catalog with the snapshot stored
// in the first configured vault. The snapshot is checked to be a catalog
// at the current schema before it is moved into place.
func RestoreCatalog(ctx context.Context, cfg *config.Config) (version int64, err error) {
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("catalog restore needs a sqlite database, not %q", cfg.Database.Type)
	}
	if len(cfg.Vaults) == 0 {
		return 0, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return 0, fmt.Errorf("creating vault: %w", err)
	}
	if c, ok := v.(interface{ Close() error }); ok {
		defer c.Close()
	}

	version, err = v.GetMetadataVersion(ctx, cfg.HostID, catalogMetadataName)
	if err != nil {
		return 0, fmt.Errorf("checking remote catalog version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("vault holds no catalog for host %s", cfg.HostID)
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
		return 0, fmt.Errorf("creating data directory: %w", err)
	}
	tmp, err := os.CreateTemp(cfg.Database.DataDir, ".restore-*.db")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	err = v.GetMetadata(ctx, cfg.HostID, catalogMetadataName, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("downloading catalog: %w", err)
	}

	db, err := database.NewSQLiteDatabase(tmp.Name())
	if err != nil {
		return 0, err
	}
	err = db.CheckMigrations()
	db.Close()
	if err != nil {
		return 0, fmt.Errorf("downloaded catalog is unusable: %w", err)
	}

	dest := filepath.Join(cfg.Database.DataDir, cfg.HostID+".db")
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("moving catalog into place: %w", err)
	}
	return version, nil
}

func parseRefs(raw []string) ([]portab.TabRef, error) {
	var refs []portab.TabRef
	for _, s := range raw {
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			ref, err := portab.ParseTabRef(part)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// outputPath maps the requested output to a path ending in ext. "" and
// "-" mean stdout. A container extension that disagrees with ext is an
// error rather than a silently mislabeled file.
func outputPath(out, ext string) (string, error) {
	if out == "" || out == "-" {
		return "-", nil
	}
	switch k := fs.KindForPath(out); {
	case k == codec.KindUnknown:
		return out + ext, nil
	case k.Extension() != ext:
		return "", model.Errorf(model.ErrValidation, "output", "%s has the wrong extension; this container is written as %s", out, ext)
	}
	return out, nil
}

func archiveFileName(a *model.Archive) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(a.Name))
	if name == "" {
		name = a.ID
	}
	return name + a.Extension()
}
