package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"portab/internal/portab"
)

// FileSystemVault stores blobs under a directory, typically a mounted
// backup drive or a synced folder:
//
//	<root>/
//	  content/<checksum>
//	  metadata/<hostID>/<name>
//	  metadata/<hostID>/<name>.version
type FileSystemVault struct {
	name        string
	root        string
	contentDir  string
	metadataDir string
}

var _ portab.Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates the directory layout under root if needed.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	v := &FileSystemVault{
		name:        name,
		root:        root,
		contentDir:  filepath.Join(root, "content"),
		metadataDir: filepath.Join(root, "metadata"),
	}
	for _, dir := range []string{v.contentDir, v.metadataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating vault directory: %w", err)
		}
	}
	return v, nil
}

// PutContent writes the blob unless a blob with that checksum is already
// stored, in which case r is drained and its size still checked.
func (v *FileSystemVault) PutContent(ctx context.Context, checksum string, r io.Reader, size int64) error {
	if err := checkChecksum(checksum); err != nil {
		return err
	}
	dest := filepath.Join(v.contentDir, checksum)
	if _, err := os.Stat(dest); err == nil {
		n, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		if n != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
		}
		return nil
	}
	return writeAtomic(ctx, dest, r, size)
}

func (v *FileSystemVault) GetContent(ctx context.Context, checksum string, w io.Writer) error {
	if err := checkChecksum(checksum); err != nil {
		return err
	}
	return copyFile(ctx, filepath.Join(v.contentDir, checksum), w)
}

// PutMetadata writes the item first and its version second, so a reader
// never sees a version newer than the data it describes.
func (v *FileSystemVault) PutMetadata(ctx context.Context, hostID, name string, r io.Reader, size int64, version int64) error {
	key, err := metadataKey(hostID, name)
	if err != nil {
		return err
	}
	dest := filepath.Join(v.metadataDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating host directory: %w", err)
	}
	if err := writeAtomic(ctx, dest, r, size); err != nil {
		return err
	}
	versionData := strconv.FormatInt(version, 10)
	return writeAtomic(ctx, dest+".version", strings.NewReader(versionData), int64(len(versionData)))
}

func (v *FileSystemVault) GetMetadata(ctx context.Context, hostID, name string, w io.Writer) error {
	key, err := metadataKey(hostID, name)
	if err != nil {
		return err
	}
	return copyFile(ctx, filepath.Join(v.metadataDir, filepath.FromSlash(key)), w)
}

func (v *FileSystemVault) GetMetadataVersion(ctx context.Context, hostID, name string) (int64, error) {
	key, err := metadataKey(hostID, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(filepath.Join(v.metadataDir, filepath.FromSlash(key)+".version"))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the vault directories exist and accept writes.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	for _, dir := range []string{v.root, v.contentDir, v.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	f, err := os.CreateTemp(v.contentDir, ".writable-*")
	if err != nil {
		return fmt.Errorf("vault %q is not writable: %w", v.name, err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// writeAtomic copies r into a temp file next to dest and renames it into
// place once the size checks out.
func writeAtomic(ctx context.Context, dest string, r io.Reader, size int64) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(dest), err)
	}
	if n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("moving %s into place: %w", filepath.Base(dest), err)
	}
	return nil
}

func copyFile(ctx context.Context, path string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return nil
}
