package portab

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"portab/internal/codec"
	"portab/internal/model"
)

// Service is the layer the CLI talks to. It chains the pure container
// operations together and adds the archive: a vault holding exported
// files and a catalog describing them.
type Service struct {
	sealer    Sealer
	encoder   *codec.Encoder
	vault     Vault
	catalog   Catalog
	encryptor Encryptor // nil: archive blobs are only compressed
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewService wires a Service. vault, catalog and encryptor may be nil for
// callers that only export and import.
func NewService(sealer Sealer, encoder *codec.Encoder, vault Vault, catalog Catalog, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator) *Service {
	if encoder == nil {
		encoder = codec.DefaultEncoder
	}
	return &Service{
		sealer:    sealer,
		encoder:   encoder,
		vault:     vault,
		catalog:   catalog,
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// ExportRequest describes one export.
type ExportRequest struct {
	Snapshot  *Snapshot
	Options   BuildOptions
	Selection []TabRef // optional; refs into the built container
	Password  string   // non-empty seals the result
}

// Exported is an encoded container ready to be written out.
type Exported struct {
	Container *model.Container // nil when only bytes were re-encoded
	Data      []byte
	Extension string
	Warnings  []codec.Warning
	Stats     BuildStats
}

// Export builds a container from a snapshot, optionally reduces it to a
// selection and encodes it, sealed when a password is given.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*Exported, error) {
	opts := req.Options
	opts.CreatedAt = s.clock.Now().UTC().Truncate(time.Millisecond)

	c, stats, err := Build(req.Snapshot, opts)
	if err != nil {
		return nil, fmt.Errorf("building container: %w", err)
	}
	if stats.DroppedTabs > 0 || stats.DroppedWindows > 0 {
		s.logger.Info("snapshot filtered",
			"dropped_tabs", stats.DroppedTabs,
			"dropped_windows", stats.DroppedWindows,
			"dropped_group_refs", stats.DroppedGroupRef)
	}

	if len(req.Selection) > 0 {
		c, err = Reduce(c, req.Selection)
		if err != nil {
			return nil, fmt.Errorf("reducing to selection: %w", err)
		}
	}

	out, err := s.Encode(ctx, c, req.Password)
	if err != nil {
		return nil, err
	}
	out.Stats = stats
	s.logger.Info("container exported",
		"windows", c.Metadata.WindowCount,
		"tabs", c.Metadata.TabCount,
		"sealed", req.Password != "",
		"bytes", len(out.Data))
	return out, nil
}

// Encode serializes c, sealing it when password is non-empty. The format
// written follows the password, whatever c.Format says.
func (s *Service) Encode(ctx context.Context, c *model.Container, password string) (*Exported, error) {
	c = c.Clone()
	if password == "" {
		c.Format = model.FormatPlain
	} else {
		c.Format = model.FormatSecure
	}

	data, warnings, err := s.encoder.Serialize(c)
	if err != nil {
		return nil, fmt.Errorf("serializing container: %w", err)
	}
	for _, w := range warnings {
		s.logger.Warn("serialization warning", "code", w.Code, "message", w.Message)
	}

	out := &Exported{Container: c, Data: data, Extension: codec.ExtPlain, Warnings: warnings}
	if password == "" {
		return out, nil
	}

	env, err := s.sealer.Seal(ctx, data, password)
	if err != nil {
		return nil, fmt.Errorf("sealing container: %w", err)
	}
	sealed, err := s.encoder.SerializeEnvelope(env)
	if err != nil {
		return nil, err
	}
	out.Data = sealed
	out.Extension = codec.ExtSealed
	return out, nil
}

// Import decodes container bytes. Sealed input is opened with password
// first; an empty password for sealed input is a validation error on
// "password" so the caller can prompt. Any tab that fails URL validation
// fails the whole import.
func (s *Service) Import(ctx context.Context, data []byte, password string) (*model.Container, error) {
	kind, err := codec.Detect(data)
	if err != nil {
		return nil, err
	}
	if kind == codec.KindEnvelope {
		if password == "" {
			return nil, model.Errorf(model.ErrValidation, "password", "container is sealed; a password is required")
		}
		plaintext, err := s.open(ctx, data, password)
		if err != nil {
			return nil, err
		}
		c, err := codec.ParseSealed(plaintext)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("container imported", "kind", kind.String(), "windows", c.Metadata.WindowCount, "tabs", c.Metadata.TabCount)
		return c, nil
	}

	c, err := codec.Parse(data)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("container imported", "kind", kind.String(), "windows", c.Metadata.WindowCount, "tabs", c.Metadata.TabCount)
	return c, nil
}

func (s *Service) open(ctx context.Context, data []byte, password string) ([]byte, error) {
	env, err := codec.ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.sealer.Open(ctx, env, password)
	if err != nil {
		if model.IsRetryable(err) {
			s.logger.Warn("envelope rejected", "reason", model.KindOf(err))
		}
		return nil, err
	}
	return plaintext, nil
}

// Checksum is the archive address of an exported file.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Archive stores exported container bytes in the vault and records them
// in the catalog. Plain input is fully verified first; sealed input can
// only be checked for a well-formed envelope. Archiving the same bytes
// twice returns the existing record and created=false.
func (s *Service) Archive(ctx context.Context, data []byte, name string) (archive *model.Archive, created bool, err error) {
	kind, err := codec.Detect(data)
	if err != nil {
		return nil, false, err
	}

	a := &model.Archive{
		Name: name,
		Size: int64(len(data)),
	}
	switch kind {
	case codec.KindEnvelope:
		if _, err := codec.ParseEnvelope(data); err != nil {
			return nil, false, err
		}
		a.Format = model.FormatSecure
	default:
		c, err := codec.Parse(data)
		if err != nil {
			return nil, false, err
		}
		a.Format = model.FormatPlain
		a.WindowCount = c.Metadata.WindowCount
		a.TabCount = c.Metadata.TabCount
		if a.Name == "" {
			a.Name = c.Metadata.Name
		}
	}

	a.Checksum = Checksum(data)
	existing, err := s.catalog.FindArchiveByChecksum(a.Checksum)
	if err != nil {
		return nil, false, fmt.Errorf("checking catalog: %w", err)
	}
	if existing != nil {
		s.logger.Info("archive already present", "id", existing.ID, "checksum", a.Checksum)
		return existing, false, nil
	}

	blob, err := s.packBlob(data)
	if err != nil {
		return nil, false, err
	}
	if err := s.vault.PutContent(ctx, a.Checksum, bytes.NewReader(blob), int64(len(blob))); err != nil {
		return nil, false, fmt.Errorf("storing archive: %w", err)
	}

	a.ID = s.idgen.New()
	a.Encrypted = s.encryptor != nil
	a.CreatedAt = s.clock.Now().UTC().Truncate(time.Millisecond)
	if err := s.catalog.CreateArchive(a); err != nil {
		return nil, false, fmt.Errorf("recording archive: %w", err)
	}

	s.logger.Info("archive stored", "id", a.ID, "format", a.Format, "bytes", a.Size, "stored_bytes", len(blob))
	return a, true, nil
}

// Retrieve fetches archived container bytes by archive id and verifies
// them against the recorded checksum. dc must be non-nil for archives
// stored encrypted.
func (s *Service) Retrieve(ctx context.Context, id string, dc DecryptionContext) ([]byte, *model.Archive, error) {
	a, err := s.catalog.FindArchive(id)
	if err != nil {
		return nil, nil, fmt.Errorf("finding archive: %w", err)
	}
	if a == nil {
		return nil, nil, fmt.Errorf("no archive with id %s", id)
	}
	if a.Encrypted && dc == nil {
		return nil, nil, fmt.Errorf("archive %s is encrypted; unlock the archive key first", id)
	}

	var blob bytes.Buffer
	if err := s.vault.GetContent(ctx, a.Checksum, &blob); err != nil {
		return nil, nil, fmt.Errorf("fetching archive: %w", err)
	}
	data, err := unpackBlob(blob.Bytes(), a.Encrypted, dc)
	if err != nil {
		return nil, nil, err
	}

	if got := Checksum(data); got != a.Checksum {
		return nil, nil, model.Errorf(model.ErrIntegrityMismatch, "checksum", "archive %s: vault returned content with checksum %s, want %s", id, got, a.Checksum)
	}
	s.logger.Info("archive retrieved", "id", a.ID, "bytes", len(data))
	return data, a, nil
}

// ListArchives returns catalog entries, newest first.
func (s *Service) ListArchives(limit int) ([]*model.Archive, error) {
	archives, err := s.catalog.ListArchives(limit)
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	return archives, nil
}

// History returns the most recent operations, newest first.
func (s *Service) History(limit int) ([]*model.Operation, error) {
	ops, err := s.catalog.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
