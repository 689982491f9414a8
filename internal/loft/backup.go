package loft

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// BackupTimeLayout is the timestamp layout embedded in backup names.
const BackupTimeLayout = "20060102T150405.000Z"

const (
	backupPrefix = "backup-"
	backupSuffix = ".sqlite"
)

// Backup describes one point-in-time snapshot of a workspace database.
type Backup struct {
	Name string
	// CreatedAt is parsed from Name; zero if the name carries no timestamp.
	CreatedAt time.Time
}

// BackupName derives the backup name for a snapshot taken at t.
func BackupName(t time.Time) string {
	return backupPrefix + t.UTC().Format(BackupTimeLayout) + backupSuffix
}

// ParseBackupName extracts the creation time from a name made by BackupName,
// tolerating a "-N" collision suffix.
func ParseBackupName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
	if len(stamp) > len(BackupTimeLayout) {
		stamp = stamp[:len(BackupTimeLayout)]
	}
	t, err := time.Parse(BackupTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CreateBackup snapshots the current database of the workspace and returns the
// backup name. The current database is not modified.
func (s *Service) CreateBackup(ctx context.Context, path string) (string, error) {
	unlock := s.lockPath(path)
	defer unlock()

	name, err := s.gateway.CreateBackup(ctx, path)
	if err != nil {
		return "", classify(err, path, "creating backup")
	}
	s.logger.Info("backup created", "path", path, "name", name)
	return name, nil
}

// ListBackups returns the workspace's backups, newest first.
func (s *Service) ListBackups(ctx context.Context, path string) ([]Backup, error) {
	unlock := s.lockPath(path)
	defer unlock()

	names, err := s.gateway.ListBackups(ctx, path)
	if err != nil {
		return nil, classify(err, path, "listing backups")
	}

	return sortedBackups(names), nil
}

// sortedBackups orders names newest first. Within the same timestamp a
// collision suffix is newer than the bare name, and -10 newer than -9.
func sortedBackups(names []string) []Backup {
	backups := make([]Backup, len(names))
	for i, name := range names {
		createdAt, _ := ParseBackupName(name)
		backups[i] = Backup{Name: name, CreatedAt: createdAt}
	}
	sort.SliceStable(backups, func(i, j int) bool {
		a, b := backups[i], backups[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if len(a.Name) != len(b.Name) {
			return len(a.Name) > len(b.Name)
		}
		return a.Name > b.Name
	})
	return backups
}

// RestoreBackup returns the validated bytes of the named backup. It does not
// touch the current database: adopting the bytes is a separate Save.
func (s *Service) RestoreBackup(ctx context.Context, path, name string) ([]byte, error) {
	unlock := s.lockPath(path)
	defer unlock()

	data, err := s.gateway.RestoreBackup(ctx, path, name)
	if err != nil {
		return nil, classify(err, path, fmt.Sprintf("reading backup %s", name))
	}
	if !IsValidDatabase(data) {
		return nil, &Error{
			Kind:    KindInvalidDatabase,
			Path:    path,
			Reason:  ReasonCorrupt,
			Message: fmt.Sprintf("backup %s is not a valid database", name),
		}
	}

	s.logger.Info("backup read for restore", "path", path, "name", name, "size", len(data))
	return data, nil
}
