// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"context"
	"fmt"
	"slices"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/internal/release"
	"github.com/invowk/upkeep/internal/staging"
)

// StageRepository downloads and unpacks c. Only one staging attempt runs at a
// time; a concurrent call fails immediately with ErrStagingInProgress.
func (e *Engine) StageRepository(ctx context.Context, c release.Candidate) error {
	if !e.stagingNow.CompareAndSwap(false, true) {
		return fault.Filesystem("stage repository", ErrStagingInProgress)
	}
	defer e.stagingNow.Store(false)
	if e.installing.Load() {
		return fault.Filesystem("stage repository", ErrApplyInProgress)
	}

	e.setPhase(PhaseStaging)
	e.logger.Info("staging update", "candidate", c.String())

	staged, err := e.stager.Stage(ctx, c.ArchiveURL)
	if err != nil {
		e.update(func(s *State) { s.clearStaged() })
		e.mu.Lock()
		e.staged = nil
		e.mu.Unlock()
		return e.fail("stage repository", err)
	}

	e.mu.Lock()
	e.staged = staged
	e.mu.Unlock()
	e.update(func(s *State) {
		s.StagedName = c.Name
		s.StagedVersion = slices.Clone(c.Version)
		s.StagedDir = staged.Dir
		s.StagedPath = staged.Root
		s.StagedSHA256 = staged.SHA256
		s.LastError = nil
		s.Phase = PhaseStaged
	})
	return nil
}

// StageTag stages the candidate named tag, whether or not it is newer than
// the installed version. It is used to install a specific version or to go
// back to an older one.
func (e *Engine) StageTag(ctx context.Context, tag string) (release.Candidate, error) {
	cands, err := e.Candidates(ctx)
	if err != nil {
		return release.Candidate{}, e.fail("list candidates", err)
	}
	c, ok := release.Find(cands, tag)
	if !ok {
		return release.Candidate{}, fault.Configuration("stage tag", fmt.Errorf("tag %q not found on %s", tag, e.cfg.Coordinates))
	}
	e.update(func(s *State) {
		sel := c
		s.Selected = &sel
		s.UpdateReady = true
	})
	return c, e.StageRepository(ctx, c)
}

// RunUpdate makes sure the selected candidate is staged and, when applyNow is
// set, promotes it onto the install path. With applyNow unset the engine stops
// at PhaseStaged and the promotion is left for a later call.
//
// After a successful promotion the current version becomes the staged one and,
// when AutoReloadPostUpdate is set, the engine requests exactly one reload.
func (e *Engine) RunUpdate(ctx context.Context, applyNow bool) error {
	snap := e.Snapshot()
	if snap.Selected == nil && snap.StagedPath == "" {
		if _, err := e.CheckForUpdate(ctx); err != nil {
			return err
		}
		snap = e.Snapshot()
	}

	needStage := snap.StagedPath == "" || !e.stagedExists()
	if snap.Selected != nil && snap.Selected.Name != snap.StagedName {
		needStage = true
	}
	if needStage {
		if snap.Selected == nil {
			return ErrNoUpdate
		}
		if err := e.StageRepository(ctx, *snap.Selected); err != nil {
			return err
		}
	}
	if !applyNow {
		return nil
	}
	return e.apply(ctx)
}

func (e *Engine) apply(ctx context.Context) error {
	if e.cfg.InstallPath == "" {
		return e.fail("apply update", fault.Configuration("apply update", ErrNoInstallPath))
	}
	if err := e.acquireInstall("apply update"); err != nil {
		return err
	}
	defer e.installing.Store(false)

	e.mu.Lock()
	staged := e.staged
	e.mu.Unlock()
	if staged == nil {
		// Another caller promoted it first.
		return ErrNoUpdate
	}

	e.setPhase(PhaseApplying)
	res, err := e.stager.Promote(ctx, staged, e.cfg.InstallPath, e.cfg.Promote)
	if err != nil {
		if fault.IsPartial(err) {
			e.logger.Error("install is partially updated", "install", e.cfg.InstallPath, "backup", res.Backup.ID)
		}
		return e.fail("apply update", err)
	}

	snap := e.update(func(s *State) {
		previous := s.CurrentVersion
		if len(s.StagedVersion) > 0 {
			s.CurrentVersion = slices.Clone(s.StagedVersion)
		}
		s.InstalledRef = s.StagedName
		if res.Backup.ID != "" {
			s.LastBackup = res.Backup.ID
			s.LastBackupVersion = previous
		}
		s.clearStaged()
		s.Selected = nil
		s.UpdateReady = false
		s.Ignored = false
		s.IgnoredName = ""
		s.LastError = nil
		s.JustUpdated = true
		s.Phase = PhaseApplied
	})

	e.mu.Lock()
	e.staged = nil
	e.mu.Unlock()
	if err := e.stager.Discard(staged); err != nil {
		e.logger.Warn("could not remove staging directory", "error", err)
	}

	e.logger.Info("update applied", "version", snap.CurrentVersion.String(), "ref", snap.InstalledRef)
	e.reload(ctx)
	return nil
}

// Restore rolls the install path back to the newest backup.
func (e *Engine) Restore(ctx context.Context) error {
	if e.cfg.InstallPath == "" {
		return e.fail("restore backup", fault.Configuration("restore backup", ErrNoInstallPath))
	}
	if err := e.acquireInstall("restore backup"); err != nil {
		return err
	}
	defer e.installing.Store(false)

	b, ok, err := e.stager.LatestBackup()
	if err != nil {
		return e.fail("restore backup", err)
	}
	if !ok {
		return e.fail("restore backup", fault.Filesystem("restore backup", staging.ErrNoBackups))
	}

	if err := e.stager.Restore(ctx, b, e.cfg.InstallPath); err != nil {
		return e.fail("restore backup", err)
	}

	e.update(func(s *State) {
		if s.LastBackup == b.ID && len(s.LastBackupVersion) > 0 {
			s.CurrentVersion = slices.Clone(s.LastBackupVersion)
			s.InstalledRef = ""
		}
		s.JustUpdated = false
		s.LastError = nil
		s.Phase = PhaseIdle
	})
	e.logger.Info("restored backup", "id", b.ID)
	e.reload(ctx)
	return nil
}

// acquireInstall claims exclusive use of the install path. It fails without
// touching state when a promotion, restore, or staging attempt is running.
func (e *Engine) acquireInstall(op string) error {
	if !e.installing.CompareAndSwap(false, true) {
		return fault.Filesystem(op, ErrApplyInProgress)
	}
	if e.stagingNow.Load() {
		e.installing.Store(false)
		return fault.Filesystem(op, ErrStagingInProgress)
	}
	return nil
}

func (e *Engine) stagedExists() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staged.Exists()
}
