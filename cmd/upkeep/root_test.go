// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/internal/fetch"
	"github.com/invowk/upkeep/internal/staging"
	"github.com/invowk/upkeep/pkg/types"
)

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2026-06-15T10:00:00Z"

		got := getVersionString()
		want := "v1.2.3 (commit: abc1234, built: 2026-06-15T10:00:00Z)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("dev build", func(t *testing.T) {
		origVersion := Version
		t.Cleanup(func() { Version = origVersion })

		Version = "dev"
		if got := getVersionString(); got != "dev (built from source)" {
			t.Errorf("getVersionString() = %q", got)
		}
	})
}

func TestClassifyExitCode(t *testing.T) {
	t.Parallel()

	partial := fault.Filesystem("promote", errors.New("disk full"))
	partial.Partial = true

	tests := []struct {
		name string
		err  error
		want types.ExitCode
	}{
		{"nil", nil, types.ExitSuccess},
		{"network", fault.Network("list tags", errors.New("connection refused")), types.ExitTransient},
		{"rate limited", fault.Network("list tags", &fetch.RateLimitError{Limit: 60}), types.ExitTransient},
		{"partial promotion", partial, types.ExitPartial},
		{"permission", fault.Filesystem("write", fmt.Errorf("open: %w", fs.ErrPermission)), types.ExitFailure},
		{"no backups", fault.Filesystem("restore backup", staging.ErrNoBackups), types.ExitFailure},
		{"configuration", fault.Configuration("load", errors.New("bad")), types.ExitFailure},
		{"unclassified", errors.New("boom"), types.ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := classifyExitCode(tt.err); got != tt.want {
				t.Errorf("classifyExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("cause")
	err := &ExitError{Code: types.ExitFailure, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("ExitError does not unwrap to its cause")
	}
	if got := (&ExitError{Code: types.ExitTransient}).Error(); got != "exit status 2" {
		t.Errorf("Error() = %q", got)
	}
}
