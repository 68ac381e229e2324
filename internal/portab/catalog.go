package portab

import "portab/internal/model"

// Catalog records which containers were archived and which operations ran.
// Find methods return (nil, nil) when nothing matches.
type Catalog interface {
	CreateArchive(archive *model.Archive) error
	FindArchive(id string) (*model.Archive, error)
	FindArchiveByChecksum(checksum string) (*model.Archive, error)

	// ListArchives returns the newest archives first. limit <= 0 means all.
	ListArchives(limit int) ([]*model.Archive, error)

	// ListOperations returns the newest operations first.
	ListOperations(limit int) ([]*model.Operation, error)

	Close() error
}
