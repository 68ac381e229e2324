package model

import (
	"database/sql"
	"time"
)

// Archive is a catalog entry for a container stored in a vault.
// The vault addresses the stored bytes by Checksum.
type Archive struct {
	ID          string    // UUID
	Name        string    // human name from the container metadata
	Checksum    string    // SHA-256 of the exported file bytes
	Format      Format    // plain or secure
	Size        int64     // exported file size in bytes
	Encrypted   bool      // vault blob is encrypted at rest
	WindowCount int       // zero for sealed archives (contents unknown)
	TabCount    int       // zero for sealed archives (contents unknown)
	CreatedAt   time.Time // when the archive was recorded
}

// Extension returns the file extension matching the archive's format.
func (a *Archive) Extension() string {
	if a.Format == FormatSecure {
		return ".sportab"
	}
	return ".portab"
}

// Operation is a logged CLI operation that mutated the catalog.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string // "running", "success" or "error"
}
