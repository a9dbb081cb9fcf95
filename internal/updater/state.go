// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"fmt"
	"slices"
	"time"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/internal/release"
	"github.com/invowk/upkeep/internal/version"
)

const (
	// PhaseIdle means no operation has run since the engine started.
	PhaseIdle Phase = iota
	// PhaseChecking means a forge listing is being fetched.
	PhaseChecking
	// PhaseUpdateAvailable means a newer candidate was selected.
	PhaseUpdateAvailable
	// PhaseUpToDate means the last check found nothing newer.
	PhaseUpToDate
	// PhaseStaging means an archive is being downloaded and unpacked.
	PhaseStaging
	// PhaseStaged means an archive is unpacked and waiting to be applied.
	PhaseStaged
	// PhaseApplying means the staged tree is being promoted.
	PhaseApplying
	// PhaseApplied means the last promotion succeeded.
	PhaseApplied
	// PhaseError means the last operation failed; see State.LastError.
	PhaseError
)

var phaseNames = []string{
	"idle", "checking", "update-available", "up-to-date",
	"staging", "staged", "applying", "applied", "error",
}

type (
	// Phase is the engine's position in the update state machine.
	Phase int

	// Interval is the minimum time between background checks. The zero
	// Interval means every background request checks.
	Interval struct {
		Months  int `json:"months,omitempty" yaml:"months,omitempty" toml:"months,omitempty"`
		Days    int `json:"days,omitempty" yaml:"days,omitempty" toml:"days,omitempty"`
		Hours   int `json:"hours,omitempty" yaml:"hours,omitempty" toml:"hours,omitempty"`
		Minutes int `json:"minutes,omitempty" yaml:"minutes,omitempty" toml:"minutes,omitempty"`
	}

	// ErrorInfo is the persisted form of the last failure.
	ErrorInfo struct {
		Kind    fault.Kind `json:"kind" yaml:"kind" toml:"kind"`
		Message string     `json:"message" yaml:"message" toml:"message"`
		// Partial reports that a promotion failed after modifying the live
		// install; restore from backup.
		Partial bool `json:"partial,omitempty" yaml:"partial,omitempty" toml:"partial,omitempty"`
	}

	// State is everything the engine knows about one component. Readers get
	// copies from Engine.Snapshot.
	State struct {
		CurrentVersion  version.Tuple      `json:"current_version,omitempty" yaml:"current_version,omitempty" toml:"current_version,omitempty"`
		InstalledRef    string             `json:"installed_ref,omitempty" yaml:"installed_ref,omitempty" toml:"installed_ref,omitempty"`
		LastCheck       time.Time          `json:"last_check,omitzero" yaml:"last_check,omitempty" toml:"last_check"`
		UpdateReady     bool               `json:"update_ready" yaml:"update_ready" toml:"update_ready"`
		Selected        *release.Candidate `json:"selected,omitempty" yaml:"selected,omitempty" toml:"selected,omitempty"`
		Interval        Interval           `json:"interval" yaml:"interval" toml:"interval"`
		IncludeBranches bool               `json:"include_branches" yaml:"include_branches" toml:"include_branches"`
		UseReleasesOnly bool               `json:"use_releases_only" yaml:"use_releases_only" toml:"use_releases_only"`

		Phase     Phase      `json:"phase" yaml:"phase" toml:"phase"`
		LastError *ErrorInfo `json:"last_error,omitempty" yaml:"last_error,omitempty" toml:"last_error,omitempty"`

		StagedName    string        `json:"staged_name,omitempty" yaml:"staged_name,omitempty" toml:"staged_name,omitempty"`
		StagedVersion version.Tuple `json:"staged_version,omitempty" yaml:"staged_version,omitempty" toml:"staged_version,omitempty"`
		StagedDir     string        `json:"staged_dir,omitempty" yaml:"staged_dir,omitempty" toml:"staged_dir,omitempty"`
		StagedPath    string        `json:"staged_path,omitempty" yaml:"staged_path,omitempty" toml:"staged_path,omitempty"`
		StagedSHA256  string        `json:"staged_sha256,omitempty" yaml:"staged_sha256,omitempty" toml:"staged_sha256,omitempty"`

		// Ignored is set when the user dismissed the notice for IgnoredName.
		Ignored     bool   `json:"ignored,omitempty" yaml:"ignored,omitempty" toml:"ignored,omitempty"`
		IgnoredName string `json:"ignored_name,omitempty" yaml:"ignored_name,omitempty" toml:"ignored_name,omitempty"`

		JustUpdated       bool          `json:"just_updated,omitempty" yaml:"just_updated,omitempty" toml:"just_updated,omitempty"`
		LastBackup        string        `json:"last_backup,omitempty" yaml:"last_backup,omitempty" toml:"last_backup,omitempty"`
		LastBackupVersion version.Tuple `json:"last_backup_version,omitempty" yaml:"last_backup_version,omitempty" toml:"last_backup_version,omitempty"`
	}
)

// String returns the phase name.
func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Busy reports whether p belongs to a running staging attempt or promotion.
func (p Phase) Busy() bool {
	return p == PhaseStaging || p == PhaseApplying
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	i := slices.Index(phaseNames, string(text))
	if i < 0 {
		return fmt.Errorf("unknown phase %q", string(text))
	}
	*p = Phase(i)
	return nil
}

// IsZero reports whether the interval disables gating.
func (i Interval) IsZero() bool {
	return i == Interval{}
}

// Next returns the earliest time a check is due after last.
func (i Interval) Next(last time.Time) time.Time {
	return last.AddDate(0, i.Months, i.Days).
		Add(time.Duration(i.Hours)*time.Hour + time.Duration(i.Minutes)*time.Minute)
}

// Due reports whether a check is due at now given the last check time.
func (i Interval) Due(last, now time.Time) bool {
	if i.IsZero() || last.IsZero() {
		return true
	}
	return !now.Before(i.Next(last))
}

// String renders the interval compactly ("1mo2d3h4m"); the zero interval is
// "always".
func (i Interval) String() string {
	if i.IsZero() {
		return "always"
	}
	var out string
	for _, part := range []struct {
		n    int
		unit string
	}{{i.Months, "mo"}, {i.Days, "d"}, {i.Hours, "h"}, {i.Minutes, "m"}} {
		if part.n != 0 {
			out += fmt.Sprintf("%d%s", part.n, part.unit)
		}
	}
	return out
}

// clone returns a deep copy safe to hand to other goroutines.
func (s State) clone() State {
	out := s
	out.CurrentVersion = slices.Clone(s.CurrentVersion)
	out.StagedVersion = slices.Clone(s.StagedVersion)
	out.LastBackupVersion = slices.Clone(s.LastBackupVersion)
	if s.Selected != nil {
		c := *s.Selected
		c.Version = slices.Clone(c.Version)
		out.Selected = &c
	}
	if s.LastError != nil {
		e := *s.LastError
		out.LastError = &e
	}
	return out
}

// clearStaged forgets the staged archive.
func (s *State) clearStaged() {
	s.StagedName = ""
	s.StagedVersion = nil
	s.StagedDir = ""
	s.StagedPath = ""
	s.StagedSHA256 = ""
}
