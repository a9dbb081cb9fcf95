// SPDX-License-Identifier: MPL-2.0

package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/u-root/u-root/pkg/cp"

	"github.com/invowk/upkeep/internal/fault"
)

const (
	// DefaultKeepCount is the default number of backups to retain.
	DefaultKeepCount = 5

	// LatestBackupID selects the most recent backup in GetBackup.
	LatestBackupID = "latest"

	// backupIDLayout sorts lexically in chronological order.
	backupIDLayout = "20060102T150405.000000000Z"
)

// ErrNoBackups is returned when a backup is requested but none exist.
var ErrNoBackups = errors.New("no backups found")

type (
	// Backup is one timestamped copy of the install tree.
	Backup struct {
		ID        string    `json:"id" yaml:"id" toml:"id"`
		Path      string    `json:"path" yaml:"path" toml:"path"`
		CreatedAt time.Time `json:"created_at" yaml:"created_at" toml:"created_at"`
	}

	// PruneResult reports what Prune removed.
	PruneResult struct {
		Deleted []Backup
		Kept    int
	}
)

// Backup copies installPath into a new timestamped directory under the
// backup root, skipping BackupIgnorePatterns and the manager's own work
// directories. A failed backup leaves nothing behind.
func (m *Manager) Backup(ctx context.Context, installPath string) (Backup, error) {
	if _, err := os.Stat(installPath); err != nil {
		return Backup{}, fault.Filesystem("back up install", err)
	}
	if err := os.MkdirAll(m.cfg.BackupDir, 0o755); err != nil {
		return Backup{}, fault.Filesystem("create backup directory", err)
	}

	now := m.clock.Now().UTC()
	id := now.Format(backupIDLayout)
	dir := filepath.Join(m.cfg.BackupDir, id)
	for n := 1; ; n++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return Backup{}, fault.Filesystem("create backup directory", err)
		}
		id = fmt.Sprintf("%s-%d", now.Format(backupIDLayout), n)
		dir = filepath.Join(m.cfg.BackupDir, id)
	}

	if err := m.copyForBackup(ctx, installPath, dir); err != nil {
		_ = os.RemoveAll(dir) // never leave a half-written backup behind
		return Backup{}, fault.Filesystem("back up install", err)
	}

	m.logger.Info("created backup", "id", id, "path", dir)
	return Backup{ID: id, Path: dir, CreatedAt: now}, nil
}

func (m *Manager) copyForBackup(ctx context.Context, src, dst string) error {
	copier := cp.Options{NoFollowSymlinks: true}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && m.isWorkDir(p) {
			return filepath.SkipDir
		}
		if matchAny(m.cfg.BackupIgnorePatterns, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copier.Copy(p, target)
	})
}

// Restore makes installPath match a backup again: backed-up files are copied
// back and files the backup lacks are removed, except paths excluded by
// BackupIgnorePatterns, which were never backed up. Restoring the same backup
// twice yields the same tree.
func (m *Manager) Restore(ctx context.Context, b Backup, installPath string) error {
	if fi, err := os.Stat(b.Path); err != nil || !fi.IsDir() {
		return fault.Filesystem("restore backup", fmt.Errorf("backup %q is not available", b.ID))
	}
	var res PromoteResult
	if err := overlay(ctx, b.Path, installPath, nil, &res); err != nil {
		return partial("restore backup", err, res.Written > 0)
	}
	if err := m.removeExtra(ctx, b.Path, installPath, &res); err != nil {
		return partial("restore backup", err, true)
	}
	m.logger.Info("restored backup", "id", b.ID, "install", installPath, "written", res.Written, "removed", res.Removed)
	return nil
}

// removeExtra deletes live paths that have no counterpart in the backup.
func (m *Manager) removeExtra(ctx context.Context, backupPath, installPath string, res *PromoteResult) error {
	return filepath.WalkDir(installPath, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(installPath, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && m.isWorkDir(p) {
			return filepath.SkipDir
		}
		if matchAny(m.cfg.BackupIgnorePatterns, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if _, err := os.Lstat(filepath.Join(backupPath, rel)); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.RemoveAll(p); err != nil {
			return err
		}
		res.Removed++
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
}

// ListBackups returns all backups, newest first. A missing backup root means
// no backups.
func (m *Manager) ListBackups() ([]Backup, error) {
	entries, err := os.ReadDir(m.cfg.BackupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Backup{}, nil
		}
		return nil, fault.Filesystem("list backups", err)
	}

	backups := make([]Backup, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		stamp, _, _ := strings.Cut(e.Name(), "-")
		created, err := time.Parse(backupIDLayout, stamp)
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			ID:        e.Name(),
			Path:      filepath.Join(m.cfg.BackupDir, e.Name()),
			CreatedAt: created,
		})
	}

	slices.SortFunc(backups, func(a, b Backup) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return backups, nil
}

// GetBackup returns the backup with the given ID, or the newest one for
// LatestBackupID.
func (m *Manager) GetBackup(id string) (Backup, error) {
	backups, err := m.ListBackups()
	if err != nil {
		return Backup{}, err
	}
	if len(backups) == 0 {
		return Backup{}, fault.Filesystem("find backup", ErrNoBackups)
	}
	if id == LatestBackupID || id == "" {
		return backups[0], nil
	}
	for _, b := range backups {
		if b.ID == id {
			return b, nil
		}
	}
	return Backup{}, fault.Filesystem("find backup", fmt.Errorf("backup not found: %s", id))
}

// LatestBackup returns the newest backup, or false when there is none.
func (m *Manager) LatestBackup() (Backup, bool, error) {
	b, err := m.GetBackup(LatestBackupID)
	if errors.Is(err, ErrNoBackups) {
		return Backup{}, false, nil
	}
	if err != nil {
		return Backup{}, false, err
	}
	return b, true, nil
}

// Prune removes old backups, keeping only the most recent keep.
func (m *Manager) Prune(keep int) (*PruneResult, error) {
	if keep < 0 {
		return nil, fault.Configuration("prune backups", errors.New("keep count must be non-negative"))
	}

	backups, err := m.ListBackups()
	if err != nil {
		return nil, err
	}

	result := &PruneResult{}
	if len(backups) <= keep {
		result.Kept = len(backups)
		return result, nil
	}

	result.Kept = keep
	for _, b := range backups[keep:] {
		if err := os.RemoveAll(b.Path); err != nil {
			return nil, fault.Filesystem("delete backup "+b.ID, err)
		}
		result.Deleted = append(result.Deleted, b)
	}
	return result, nil
}
