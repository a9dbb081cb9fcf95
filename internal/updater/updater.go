// SPDX-License-Identifier: MPL-2.0

// Package updater is the update state machine: it checks a forge for a newer
// release, stages it, promotes it onto the install path, and keeps the
// persisted state hosts render from.
//
// All state changes happen under the engine mutex; hosts read copies through
// Snapshot. Network and filesystem work runs either on the caller's goroutine
// (CheckForUpdate, StageRepository, RunUpdate) or on the engine's bounded
// worker pool (CheckForUpdateBackground).
package updater

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/internal/forge"
	"github.com/invowk/upkeep/internal/release"
	"github.com/invowk/upkeep/internal/staging"
	"github.com/invowk/upkeep/internal/version"
)

const (
	// DefaultCheckTimeout bounds a background check.
	DefaultCheckTimeout = 30 * time.Second
	// DefaultWorkers is the size of the background worker pool.
	DefaultWorkers = 2

	checkKey = "check"
)

var (
	// ErrStagingInProgress is returned when a second staging attempt starts
	// while one is running.
	ErrStagingInProgress = errors.New("staging in progress")
	// ErrApplyInProgress is returned when the install path is already being
	// promoted onto or restored.
	ErrApplyInProgress = errors.New("apply in progress")
	// ErrNoUpdate is returned by RunUpdate when there is nothing to install.
	ErrNoUpdate = errors.New("no update selected")
	// ErrNoInstallPath is returned when promotion is requested without an
	// install path.
	ErrNoInstallPath = errors.New("install path is not configured")
)

type (
	// Getter fetches a forge API response. fetch.Client satisfies it.
	Getter interface {
		Get(ctx context.Context, url string, headers map[string]string) ([]byte, error)
	}

	// Stager is the subset of staging.Manager the engine drives.
	Stager interface {
		Stage(ctx context.Context, archiveURL string) (*staging.Staged, error)
		Promote(ctx context.Context, s *staging.Staged, installPath string, opts staging.PromoteOptions) (staging.PromoteResult, error)
		Discard(s *staging.Staged) error
		LatestBackup() (staging.Backup, bool, error)
		Restore(ctx context.Context, b staging.Backup, installPath string) error
	}

	// Reloader asks the host to reload the component after an update.
	Reloader interface {
		Reload(ctx context.Context) error
	}

	// Clock supplies the current time for interval gating.
	Clock interface {
		Now() time.Time
	}

	// Config is the static description of one updatable component.
	Config struct {
		Coordinates forge.Coordinates
		// InstallPath is the live directory updates are promoted onto.
		InstallPath string
		// CurrentVersion is the version the host reports as installed.
		CurrentVersion version.Tuple
		// Branches are offered as candidates ahead of tags.
		Branches []string
		// Policy constrains selection. IncludeBranches and UseReleasesOnly
		// are mirrored into State.
		Policy   release.Policy
		Interval Interval
		// Promote controls backup, install mode, and file patterns.
		Promote staging.PromoteOptions
		// AutoReloadPostUpdate makes the engine request one host reload after
		// a successful apply or restore.
		AutoReloadPostUpdate bool
		// CheckTimeout bounds background checks; zero uses the default.
		CheckTimeout time.Duration
		// Workers sizes the background pool; zero uses the default.
		Workers int
	}

	// Result is the outcome of a check.
	Result struct {
		UpdateReady bool
		Candidate   release.Candidate
		Current     version.Tuple
		Ignored     bool
		Err         error
	}

	// Engine drives updates for one component. Construct with New.
	Engine struct {
		cfg      Config
		forge    forge.Engine
		client   Getter
		stager   Stager
		store    Store
		reloader Reloader
		clock    Clock
		logger   *log.Logger

		mu     sync.Mutex
		state  State
		staged *staging.Staged

		checks     singleflight.Group
		background atomic.Bool
		stagingNow atomic.Bool
		installing atomic.Bool
		pool       *errgroup.Group
		baseCtx    context.Context
		cancel     context.CancelFunc
	}

	// Option configures an Engine.
	Option func(*Engine)

	systemClock struct{}
)

func (systemClock) Now() time.Time { return time.Now() }

// WithLogger sets the engine's logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStore sets where state is persisted. The default is a MemoryStore.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithReloader sets the host reload hook.
func WithReloader(r Reloader) Option {
	return func(e *Engine) { e.reloader = r }
}

// WithClock replaces the clock used for interval gating.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithForge replaces the engine chosen from Config.Coordinates.Kind.
func WithForge(f forge.Engine) Option {
	return func(e *Engine) { e.forge = f }
}

// New creates an engine and loads persisted state.
func New(cfg Config, client Getter, stager Stager, opts ...Option) (*Engine, error) {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	e := &Engine{
		cfg:    cfg,
		client: client,
		stager: stager,
		store:  &MemoryStore{},
		clock:  systemClock{},
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.forge == nil {
		if err := cfg.Coordinates.Validate(); err != nil {
			return nil, err
		}
		f, err := forge.For(cfg.Coordinates.Kind)
		if err != nil {
			return nil, err
		}
		e.forge = f
	}

	if err := e.load(); err != nil {
		return nil, err
	}

	e.pool = &errgroup.Group{}
	e.pool.SetLimit(cfg.Workers)
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// load merges persisted state with the static configuration. The higher of
// the persisted and configured versions wins, so an applied update survives a
// restart while a host that upgraded out of band is still believed.
func (e *Engine) load() error {
	s, ok, err := e.store.Load()
	if err != nil {
		return err
	}
	if !ok {
		s = State{}
	}

	if version.Compare(e.cfg.CurrentVersion, s.CurrentVersion, e.cfg.Policy.Prefix) > 0 {
		s.CurrentVersion = e.cfg.CurrentVersion
	}
	s.Interval = e.cfg.Interval
	s.IncludeBranches = e.cfg.Policy.IncludeBranches
	s.UseReleasesOnly = e.cfg.Policy.UseReleasesOnly

	switch s.Phase {
	case PhaseChecking:
		s.Phase = PhaseIdle
	case PhaseStaging:
		s.Phase = PhaseIdle
		s.clearStaged()
	case PhaseApplying:
		// The previous process died while promoting.
		s.Phase = PhaseError
		s.LastError = &ErrorInfo{
			Kind:    fault.KindFilesystem,
			Message: "promotion was interrupted; restore from backup",
			Partial: true,
		}
	}
	if s.StagedPath != "" {
		staged := &staging.Staged{Dir: s.StagedDir, Root: s.StagedPath, SHA256: s.StagedSHA256}
		if staged.Exists() {
			e.staged = staged
		} else {
			s.clearStaged()
			if s.Phase == PhaseStaged {
				s.Phase = PhaseIdle
			}
		}
	}

	e.state = s
	return nil
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Close stops accepting background work and waits for running tasks.
func (e *Engine) Close() error {
	e.cancel()
	return e.pool.Wait()
}

// Ignore dismisses the notice for the currently selected candidate. A later
// check that selects a different candidate clears it.
func (e *Engine) Ignore() {
	e.update(func(s *State) {
		if s.Selected == nil {
			return
		}
		s.Ignored = true
		s.IgnoredName = s.Selected.Name
	})
}

// AcknowledgeUpdate clears the just-updated flag once the host has shown it.
func (e *Engine) AcknowledgeUpdate() {
	e.update(func(s *State) { s.JustUpdated = false })
}

// update mutates state under the lock and persists the result.
func (e *Engine) update(fn func(*State)) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	snap := e.state.clone()
	if err := e.store.Save(snap); err != nil {
		e.logger.Warn("could not persist updater state", "error", err)
	}
	return snap
}

func (e *Engine) setPhase(p Phase) {
	e.update(func(s *State) { s.Phase = p })
}

// fail records err in state and returns it, classifying it as a network
// error when it arrives unclassified.
func (e *Engine) fail(op string, err error) error {
	if fault.KindOf(err) == fault.KindUnknown {
		err = fault.Network(op, err)
	}
	e.update(func(s *State) {
		s.Phase = PhaseError
		s.LastError = &ErrorInfo{
			Kind:    fault.KindOf(err),
			Message: err.Error(),
			Partial: fault.IsPartial(err),
		}
	})
	e.logger.Error(op+" failed", "error", err)
	return err
}

// policy returns the selection policy for the given listing source.
func (e *Engine) policy(source release.Source) release.Policy {
	p := e.cfg.Policy
	p.UseReleasesOnly = p.UseReleasesOnly && source == release.SourceReleases
	return p
}

func (e *Engine) reload(ctx context.Context) {
	if !e.cfg.AutoReloadPostUpdate || e.reloader == nil {
		return
	}
	if err := e.reloader.Reload(ctx); err != nil {
		e.logger.Warn("reload request failed", "error", err)
		return
	}
	e.logger.Info("requested component reload")
}
