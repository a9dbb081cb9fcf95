// SPDX-License-Identifier: MPL-2.0

package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/u-root/u-root/pkg/cp"

	"github.com/invowk/upkeep/internal/fault"
)

const (
	// ModeOverlay copies staged files over the live tree. Live files absent
	// from the archive stay in place.
	ModeOverlay Mode = iota
	// ModeReplace builds a complete shadow copy next to the install path and
	// swaps it in with renames, so the live tree is never half written.
	ModeReplace
)

// ErrNestedWorkDir is returned when replace mode would move the staging or
// backup directory away together with the install tree.
var ErrNestedWorkDir = errors.New("staging or backup directory is inside the install path")

type (
	// Mode selects how a staged tree reaches the install path.
	Mode int

	// PromoteOptions controls a single promotion.
	PromoteOptions struct {
		// Backup takes a backup of the install path first. A failed backup
		// aborts the promotion before anything is modified.
		Backup bool
		Mode   Mode
		// OverwritePatterns limit which existing live files may be replaced
		// in overlay mode. Empty means all. New files are always added.
		OverwritePatterns []string
		// RemovePatterns name live files deleted before an overlay copy.
		RemovePatterns []string
	}

	// PromoteResult summarizes a promotion.
	PromoteResult struct {
		Backup  Backup
		Written int
		Skipped int
		Removed int
	}
)

// String returns the mode name used in configuration.
func (m Mode) String() string {
	switch m {
	case ModeOverlay:
		return "overlay"
	case ModeReplace:
		return "replace"
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode parses a mode name; the empty string selects ModeOverlay.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overlay":
		return ModeOverlay, nil
	case "replace":
		return ModeReplace, nil
	}
	return ModeOverlay, fault.Configuration("parse install mode", fmt.Errorf("unknown install mode %q", s))
}

// Promote installs a staged tree at installPath.
//
// In overlay mode a failure after the first write to the live tree returns a
// filesystem error with Partial set; the live tree is then a mix of old and
// new files and should be restored from the backup.
func (m *Manager) Promote(ctx context.Context, s *Staged, installPath string, opts PromoteOptions) (PromoteResult, error) {
	var res PromoteResult
	if !s.Exists() {
		return res, fault.Filesystem("promote staged archive", errors.New("nothing is staged"))
	}
	if opts.Mode == ModeReplace && (within(m.cfg.BackupDir, installPath) || within(m.cfg.StagingDir, installPath)) {
		return res, fault.Configuration("promote staged archive", ErrNestedWorkDir)
	}

	if opts.Backup {
		if _, err := os.Stat(installPath); err == nil {
			b, err := m.Backup(ctx, installPath)
			if err != nil {
				return res, err
			}
			res.Backup = b
		} else {
			m.logger.Debug("install path does not exist yet, skipping backup", "path", installPath)
		}
	}

	var err error
	switch opts.Mode {
	case ModeReplace:
		err = m.replace(ctx, s.Root, installPath, &res)
	default:
		err = m.overlayInstall(ctx, s.Root, installPath, opts, &res)
	}
	if err != nil {
		return res, err
	}
	m.logger.Info("promoted staged archive", "install", installPath, "mode", opts.Mode, "written", res.Written, "removed", res.Removed)
	return res, nil
}

func (m *Manager) overlayInstall(ctx context.Context, srcRoot, installPath string, opts PromoteOptions, res *PromoteResult) error {
	if len(opts.RemovePatterns) > 0 {
		if err := m.removeMatching(ctx, installPath, opts.RemovePatterns, res); err != nil {
			return partial("remove files before install", err, res.Removed > 0)
		}
	}
	if err := overlay(ctx, srcRoot, installPath, opts.OverwritePatterns, res); err != nil {
		return partial("overlay install", err, res.Written+res.Removed > 0)
	}
	return nil
}

// overlay copies every regular file under src to the same relative path
// under dst, creating directories as needed.
func overlay(ctx context.Context, src, dst string, overwrite []string, res *PromoteResult) error {
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
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(overwrite) > 0 {
			if _, statErr := os.Lstat(target); statErr == nil && !matchAny(overwrite, rel) {
				res.Skipped++
				return nil
			}
		}
		if err := copier.Copy(p, target); err != nil {
			return err
		}
		res.Written++
		return nil
	})
}

func (m *Manager) removeMatching(ctx context.Context, root string, patterns []string, res *PromoteResult) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if d.IsDir() && m.isWorkDir(p) {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if !matchAny(patterns, rel) {
			return nil
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
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// replace builds a shadow tree beside installPath and swaps it in.
func (m *Manager) replace(ctx context.Context, srcRoot, installPath string, res *PromoteResult) error {
	parent := filepath.Dir(installPath)
	base := filepath.Base(installPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fault.Filesystem("create install parent", err)
	}

	shadow, err := os.MkdirTemp(parent, "."+base+".upkeep-new-")
	if err != nil {
		return fault.Filesystem("create shadow directory", err)
	}
	if err := os.Chmod(shadow, 0o755); err != nil {
		_ = os.RemoveAll(shadow)
		return fault.Filesystem("create shadow directory", err)
	}
	if err := overlay(ctx, srcRoot, shadow, nil, res); err != nil {
		_ = os.RemoveAll(shadow)
		return fault.Filesystem("build shadow directory", err)
	}

	old := filepath.Join(parent, "."+base+".upkeep-old-"+strconv.FormatInt(m.clock.Now().UnixNano(), 10))
	hadOld := false
	if _, err := os.Lstat(installPath); err == nil {
		if err := os.Rename(installPath, old); err != nil {
			_ = os.RemoveAll(shadow)
			return fault.Filesystem("move live tree aside", err)
		}
		hadOld = true
	}

	if err := os.Rename(shadow, installPath); err != nil {
		_ = os.RemoveAll(shadow)
		if hadOld {
			if rbErr := os.Rename(old, installPath); rbErr != nil {
				return partial("swap in shadow directory", errors.Join(err, rbErr), true)
			}
		}
		return fault.Filesystem("swap in shadow directory", err)
	}

	if hadOld {
		if err := os.RemoveAll(old); err != nil {
			m.logger.Warn("could not remove previous install tree", "path", old, "error", err)
		}
	}
	return nil
}

// isWorkDir reports whether p is the manager's staging or backup root.
func (m *Manager) isWorkDir(p string) bool {
	return samePath(p, m.cfg.StagingDir) || samePath(p, m.cfg.BackupDir)
}

func partial(op string, err error, wrote bool) error {
	fe := fault.Filesystem(op, err)
	fe.Partial = wrote
	return fe
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// within reports whether child is parent or lies below it.
func within(child, parent string) bool {
	absC, errC := filepath.Abs(child)
	absP, errP := filepath.Abs(parent)
	if errC != nil || errP != nil {
		return false
	}
	rel, err := filepath.Rel(absP, absC)
	return err == nil && (rel == "." || filepath.IsLocal(rel))
}
