package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"portab/internal/database/migrations"
	"portab/internal/model"
	"portab/internal/portab"
)

// SQLiteDatabase is the archive catalog, kept in a single SQLite file per host.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

var _ portab.Catalog = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path, or ":memory:" for an
// in-memory one. The schema is not touched; see MigrateUp.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to ":memory:" would be its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// MigrateUp brings the schema to the latest version.
func (s *SQLiteDatabase) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// Archives

const archiveColumns = `id, name, checksum, format, size, encrypted, window_count, tab_count, created_at`

func (s *SQLiteDatabase) CreateArchive(a *model.Archive) error {
	_, err := s.db.Exec(`INSERT INTO archives (`+archiveColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Checksum, string(a.Format), a.Size, a.Encrypted, a.WindowCount, a.TabCount, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting archive: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindArchive(id string) (*model.Archive, error) {
	a, err := scanArchive(s.db.QueryRow(`SELECT `+archiveColumns+` FROM archives WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding archive: %w", err)
	}
	return a, nil
}

func (s *SQLiteDatabase) FindArchiveByChecksum(checksum string) (*model.Archive, error) {
	a, err := scanArchive(s.db.QueryRow(`SELECT `+archiveColumns+` FROM archives WHERE checksum = ?`, checksum))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding archive by checksum: %w", err)
	}
	return a, nil
}

// FindArchivesByPrefix returns archives whose id starts with prefix, so the
// CLI can accept abbreviated ids.
func (s *SQLiteDatabase) FindArchivesByPrefix(prefix string) ([]*model.Archive, error) {
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
	rows, err := s.db.Query(`SELECT `+archiveColumns+` FROM archives WHERE id LIKE ? ESCAPE '\' ORDER BY created_at DESC`, pattern)
	if err != nil {
		return nil, fmt.Errorf("finding archives by prefix: %w", err)
	}
	return collectArchives(rows)
}

func (s *SQLiteDatabase) ListArchives(limit int) ([]*model.Archive, error) {
	rows, err := s.db.Query(`SELECT `+archiveColumns+` FROM archives ORDER BY created_at DESC, rowid DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	return collectArchives(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArchive(row rowScanner) (*model.Archive, error) {
	var a model.Archive
	var format string
	err := row.Scan(&a.ID, &a.Name, &a.Checksum, &format, &a.Size, &a.Encrypted, &a.WindowCount, &a.TabCount, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Format = model.Format(format)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func collectArchives(rows *sql.Rows) ([]*model.Archive, error) {
	defer rows.Close()
	var archives []*model.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning archive: %w", err)
		}
		archives = append(archives, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading archives: %w", err)
	}
	return archives, nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(operation, parameters string) (*model.Operation, error) {
	op := &model.Operation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  time.Now().UTC(),
		Status:     "running",
	}
	res, err := s.db.Exec(`INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)`,
		op.Operation, op.Parameters, op.StartedAt, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	res, err := s.db.Exec(`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`, time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing operation: no operation with id %d", id)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*model.Operation, error) {
	rows, err := s.db.Query(`SELECT id, operation, parameters, started_at, finished_at, status
		FROM operations ORDER BY id DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		var op model.Operation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading operations: %w", err)
	}
	return ops, nil
}

// MaxOperationID is the id of the newest operation, or 0. It doubles as
// the catalog version when the database is uploaded to a vault.
func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM operations`).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max operation id: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
// destPath must not exist yet.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
