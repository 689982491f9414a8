package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"loft-go/internal/database/migrations"
	"loft-go/internal/loft"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path, a file: URI or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Keep PRAGMAs and :memory: databases on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// Seeder builds the minimal valid workspace database: the current schema and
// a single workspace_info row.
type Seeder struct {
	clock      loft.Clock
	appVersion string
	tempDir    string
}

// NewSeeder creates a Seeder. tempDir is where scratch files are built; ""
// uses the system temp directory.
func NewSeeder(clock loft.Clock, appVersion, tempDir string) *Seeder {
	return &Seeder{clock: clock, appVersion: appVersion, tempDir: tempDir}
}

// Seed migrates a scratch database, inserts the seed record and returns the
// bytes of a compacted copy made with VACUUM INTO.
func (s *Seeder) Seed(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp(s.tempDir, "loft-seed-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	db, err := OpenConnection(filepath.Join(dir, "scratch.sqlite"))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		return nil, fmt.Errorf("migrating seed database: %w", err)
	}

	createdAt := s.clock.Now().UTC().Format(time.RFC3339Nano)
	if _, err := db.ExecContext(ctx,
		"INSERT INTO workspace_info (id, created_at, app_version) VALUES (1, ?, ?)",
		createdAt, s.appVersion,
	); err != nil {
		return nil, fmt.Errorf("inserting seed record: %w", err)
	}

	out := filepath.Join(dir, loft.DatabaseFileName)
	if err := backupTo(ctx, db, out); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("reading seed database: %w", err)
	}
	return data, nil
}

// backupTo creates a complete copy of the database at destPath using VACUUM INTO.
func backupTo(ctx context.Context, db *sql.DB, destPath string) error {
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Inspector checks database bytes with SQLite itself. It works on a scratch
// copy opened read-only, so the bytes it is given are never modified.
type Inspector struct {
	tempDir string
}

// NewInspector creates an Inspector; "" uses the system temp directory.
func NewInspector(tempDir string) *Inspector {
	return &Inspector{tempDir: tempDir}
}

// Inspect runs PRAGMA integrity_check and reads the schema version and seed
// record count. Databases from newer or older binaries are reported, not rejected.
func (i *Inspector) Inspect(data []byte) (*loft.DatabaseReport, error) {
	dir, err := os.MkdirTemp(i.tempDir, "loft-inspect-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, loft.DatabaseFileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("writing scratch copy: %w", err)
	}

	db, err := OpenConnection("file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=ro")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	report := &loft.DatabaseReport{}

	if err := db.QueryRow("PRAGMA integrity_check").Scan(&report.Integrity); err != nil {
		return nil, fmt.Errorf("checking integrity: %w", err)
	}
	report.IntegrityOK = report.Integrity == "ok"

	if err := db.QueryRow("PRAGMA page_count").Scan(&report.PageCount); err != nil {
		return nil, fmt.Errorf("reading page count: %w", err)
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&report.PageSize); err != nil {
		return nil, fmt.Errorf("reading page size: %w", err)
	}

	// A database without schema_migrations predates versioning; leave zero.
	if version, dirty, err := migrations.Version(db); err == nil {
		report.SchemaVersion = version
		report.SchemaDirty = dirty
	}

	var hasInfo int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name='workspace_info'").Scan(&hasInfo); err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	if hasInfo > 0 {
		if err := db.QueryRow("SELECT count(*) FROM workspace_info").Scan(&report.SeedRecords); err != nil {
			return nil, fmt.Errorf("counting seed records: %w", err)
		}
	}

	return report, nil
}

var (
	_ loft.Seeder    = (*Seeder)(nil)
	_ loft.Inspector = (*Inspector)(nil)
)
