package portab

import (
	"context"
	"io"
)

// Vault stores archived container blobs, addressed by the SHA-256 of the
// exported container file, plus per-host metadata such as the catalog
// snapshot.
type Vault interface {
	// PutContent stores a blob under checksum. Storing the same checksum
	// twice is harmless. size is the number of bytes r will yield.
	PutContent(ctx context.Context, checksum string, r io.Reader, size int64) error

	// GetContent writes the blob stored under checksum to w.
	GetContent(ctx context.Context, checksum string, w io.Writer) error

	// PutMetadata stores a named item for a host together with a version
	// used to detect a stale local catalog. Known names: "catalog".
	PutMetadata(ctx context.Context, hostID, name string, r io.Reader, size int64, version int64) error

	// GetMetadata writes a named item for a host to w.
	GetMetadata(ctx context.Context, hostID, name string, w io.Writer) error

	// GetMetadataVersion returns the stored version, or 0 when the item has
	// never been stored.
	GetMetadataVersion(ctx context.Context, hostID, name string) (int64, error)

	// ValidateSetup checks that the vault is reachable and usable.
	ValidateSetup(ctx context.Context) error
}
