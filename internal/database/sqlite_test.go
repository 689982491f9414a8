package database

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"loft-go/internal/database/migrations"
	"loft-go/internal/loft"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestSeeder(t *testing.T) *Seeder {
	t.Helper()
	return NewSeeder(fixedClock{time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}, "1.2.3", t.TempDir())
}

func TestSeeder_Seed(t *testing.T) {
	data, err := newTestSeeder(t).Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	if !loft.IsValidDatabase(data) {
		t.Fatalf("Seed() produced bytes without the SQLite header: %q", data[:min(len(data), 16)])
	}

	path := filepath.Join(t.TempDir(), "seed.sqlite")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	db, err := OpenConnection(path)
	if err != nil {
		t.Fatalf("OpenConnection() error = %v", err)
	}
	defer db.Close()

	var count int
	var createdAt, version string
	if err := db.QueryRow("SELECT count(*) FROM workspace_info").Scan(&count); err != nil {
		t.Fatalf("counting seed records: %v", err)
	}
	if count != 1 {
		t.Errorf("seed records = %d, want 1", count)
	}
	if err := db.QueryRow("SELECT created_at, app_version FROM workspace_info WHERE id = 1").Scan(&createdAt, &version); err != nil {
		t.Fatalf("reading seed record: %v", err)
	}
	if createdAt != "2024-01-15T10:30:00Z" {
		t.Errorf("created_at = %q, want %q", createdAt, "2024-01-15T10:30:00Z")
	}
	if version != "1.2.3" {
		t.Errorf("app_version = %q, want %q", version, "1.2.3")
	}

	if err := migrations.CheckDBMigrationStatus(db); err != nil {
		t.Errorf("seed database is not at the latest schema: %v", err)
	}
}

func TestSeeder_CleansUpScratchFiles(t *testing.T) {
	tmp := t.TempDir()
	s := NewSeeder(fixedClock{time.Now()}, "1.0.0", tmp)

	if _, err := s.Seed(context.Background()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch directory not cleaned up: %d entries left", len(entries))
	}
}

func TestInspector_Inspect(t *testing.T) {
	seed, err := newTestSeeder(t).Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	latest, err := migrations.LatestVersion()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("seed database", func(t *testing.T) {
		original := append([]byte(nil), seed...)

		report, err := NewInspector(t.TempDir()).Inspect(seed)
		if err != nil {
			t.Fatalf("Inspect() error = %v", err)
		}
		if !report.IntegrityOK {
			t.Errorf("IntegrityOK = false, integrity = %q", report.Integrity)
		}
		if report.SchemaVersion != latest || report.SchemaDirty {
			t.Errorf("schema = %d (dirty %v), want %d clean", report.SchemaVersion, report.SchemaDirty, latest)
		}
		if report.SeedRecords != 1 {
			t.Errorf("SeedRecords = %d, want 1", report.SeedRecords)
		}
		if report.PageCount <= 0 || report.PageSize <= 0 {
			t.Errorf("page count/size = %d/%d, want positive", report.PageCount, report.PageSize)
		}
		if !bytes.Equal(seed, original) {
			t.Error("Inspect() modified its input")
		}
	})

	t.Run("foreign database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "other.sqlite")
		db, err := OpenConnection(path)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec("CREATE TABLE notes (body TEXT)"); err != nil {
			t.Fatal(err)
		}
		db.Close()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		report, err := NewInspector(t.TempDir()).Inspect(data)
		if err != nil {
			t.Fatalf("Inspect() error = %v", err)
		}
		if !report.IntegrityOK {
			t.Errorf("IntegrityOK = false, integrity = %q", report.Integrity)
		}
		if report.SchemaVersion != 0 || report.SeedRecords != 0 {
			t.Errorf("schema %d, seed records %d; want 0, 0", report.SchemaVersion, report.SeedRecords)
		}
	})
}
