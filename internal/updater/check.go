// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"context"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/internal/release"
)

// CheckForUpdate lists the forge's candidates and selects the best one.
// Concurrent callers share a single request. A failure moves the engine to
// PhaseError and is also returned.
func (e *Engine) CheckForUpdate(ctx context.Context) (Result, error) {
	v, err, _ := e.checks.Do(checkKey, func() (any, error) {
		return e.check(ctx)
	})
	res, _ := v.(Result)
	return res, err
}

// CheckForUpdateBackground starts a check on the worker pool and returns a
// channel that receives its single Result. It returns nil, without doing any
// work, when the check interval has not elapsed, when a background check is
// already running, or when the pool is full.
func (e *Engine) CheckForUpdateBackground() <-chan Result {
	snap := e.Snapshot()
	if !snap.Interval.Due(snap.LastCheck, e.clock.Now()) {
		return nil
	}
	if !e.background.CompareAndSwap(false, true) {
		return nil
	}

	ch := make(chan Result, 1)
	started := e.pool.TryGo(func() error {
		ctx, cancel := context.WithTimeout(e.baseCtx, e.cfg.CheckTimeout)
		defer cancel()
		res, err := e.CheckForUpdate(ctx)
		res.Err = err

		// Clear the flag before delivering so a receiver may start the next check.
		e.background.Store(false)
		ch <- res
		close(ch)
		return nil
	})
	if !started {
		e.background.Store(false)
		return nil
	}
	return ch
}

// check runs one forge query. While a staging attempt or promotion owns the
// phase, the check only refreshes LastCheck and the selection so the
// in-flight phase (and its crash recovery on load) stays intact.
func (e *Engine) check(ctx context.Context) (Result, error) {
	e.update(func(s *State) {
		if !s.Phase.Busy() {
			s.Phase = PhaseChecking
		}
	})
	e.logger.Debug("checking for update", "repository", e.cfg.Coordinates.String())

	cands, source, err := e.listCandidates(ctx)
	if err != nil {
		snap := e.update(func(s *State) { s.LastCheck = e.clock.Now() })
		if snap.Phase.Busy() {
			e.logger.Warn("check for update failed", "phase", snap.Phase, "error", err)
			return Result{Err: err}, err
		}
		return Result{Err: err}, e.fail("check for update", err)
	}

	current := e.Snapshot().CurrentVersion
	sel, ok := release.Select(cands, current, e.policy(source))

	snap := e.update(func(s *State) {
		s.LastCheck = e.clock.Now()
		s.LastError = nil
		s.UpdateReady = ok
		busy := s.Phase.Busy()
		if !ok {
			s.Selected = nil
			s.Ignored = false
			s.IgnoredName = ""
			if !busy {
				s.Phase = PhaseUpToDate
			}
			return
		}
		c := sel
		s.Selected = &c
		s.Ignored = s.IgnoredName == sel.Name
		if !s.Ignored {
			s.IgnoredName = ""
		}
		switch {
		case busy:
		case s.StagedName == sel.Name && e.staged.Exists():
			s.Phase = PhaseStaged
		default:
			s.Phase = PhaseUpdateAvailable
		}
	})

	if ok {
		e.logger.Info("update available", "candidate", sel.String(), "current", current.String())
	} else {
		e.logger.Debug("no update available", "current", current.String())
	}
	return Result{UpdateReady: ok, Candidate: sel, Current: snap.CurrentVersion, Ignored: snap.Ignored}, nil
}

// Candidates lists every candidate the forge offers, in forge order.
func (e *Engine) Candidates(ctx context.Context) ([]release.Candidate, error) {
	cands, _, err := e.listCandidates(ctx)
	return cands, err
}

// listCandidates fetches tags or releases and prepends configured branches.
// A forge without releases falls back to tags.
func (e *Engine) listCandidates(ctx context.Context) ([]release.Candidate, release.Source, error) {
	c := e.cfg.Coordinates
	headers := e.forge.AuthHeaders(c)

	source := release.SourceTags
	url := e.forge.TagsURL(c)
	parse := e.forge.ParseTags
	if e.cfg.Policy.UseReleasesOnly {
		if relURL, ok := e.forge.ReleasesURL(c); ok {
			source, url, parse = release.SourceReleases, relURL, e.forge.ParseReleases
		} else {
			e.logger.Warn("forge has no releases, using tags", "forge", e.forge.Kind())
		}
	}

	body, err := e.client.Get(ctx, url, headers)
	if err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			err = fault.Network("list "+string(source), err)
		}
		return nil, source, err
	}
	refs, err := parse(body, c)
	if err != nil {
		return nil, source, err
	}
	return release.Build(refs, source, e.cfg.Branches, e.forge, c), source, nil
}
