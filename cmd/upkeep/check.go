// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/invowk/upkeep/internal/release"
	"github.com/invowk/upkeep/internal/version"
)

type (
	// checkParams holds the check command's flags.
	checkParams struct {
		// respectInterval skips the check when the configured interval has
		// not elapsed since the last one.
		respectInterval bool
	}

	// checkReport is what `upkeep check` prints.
	checkReport struct {
		Repository  string     `json:"repository" yaml:"repository"`
		Current     string     `json:"current" yaml:"current"`
		UpdateReady bool       `json:"update_ready" yaml:"update_ready"`
		Candidate   string     `json:"candidate,omitempty" yaml:"candidate,omitempty"`
		Version     string     `json:"version,omitempty" yaml:"version,omitempty"`
		Ignored     bool       `json:"ignored,omitempty" yaml:"ignored,omitempty"`
		Skipped     bool       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
		NextCheck   *time.Time `json:"next_check,omitempty" yaml:"next_check,omitempty"`
	}

	// candidateList is what `upkeep list` prints.
	candidateList struct {
		Repository string              `json:"repository" yaml:"repository"`
		Candidates []release.Candidate `json:"candidates" yaml:"candidates"`
	}
)

func newCheckCommand(app *App, f *rootFlags) *cobra.Command {
	var p checkParams
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the forge for a newer version",
		Long: `Check the forge for a newer version.

The candidate list comes from the repository's tags, or from its releases when
selection.use_releases_only is set. The newest candidate above the installed
version that passes the selection rules is reported.`,
		Example: `  # Check now
  upkeep check

  # Check only if the configured interval has elapsed
  upkeep check --respect-interval`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd, f, func(ctx context.Context, s *session) error {
				return runCheck(ctx, s, p)
			})
		},
	}
	cmd.Flags().BoolVar(&p.respectInterval, "respect-interval", false, "skip the check if the configured interval has not elapsed")
	return cmd
}

// runCheck checks for an update and writes a checkReport.
func runCheck(ctx context.Context, s *session, p checkParams) error {
	report := checkReport{Repository: s.cfg.Coordinates().String()}

	if p.respectInterval {
		ch := s.engine.CheckForUpdateBackground()
		if ch == nil {
			snap := s.engine.Snapshot()
			next := snap.Interval.Next(snap.LastCheck)
			report.Current = displayVersion(snap.CurrentVersion)
			report.Skipped = true
			report.NextCheck = &next
			return s.out.Write(report)
		}
		select {
		case res := <-ch:
			if res.Err != nil {
				return res.Err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if _, err := s.engine.CheckForUpdate(ctx); err != nil {
		return err
	}

	snap := s.engine.Snapshot()
	report.Current = displayVersion(snap.CurrentVersion)
	report.UpdateReady = snap.UpdateReady
	report.Ignored = snap.Ignored
	if snap.Selected != nil {
		report.Candidate = snap.Selected.String()
		report.Version = snap.Selected.Version.String()
	}
	return s.out.Write(report)
}

// WriteText implements output.TextWriter.
func (r checkReport) WriteText(w io.Writer) error {
	switch {
	case r.Skipped:
		_, err := fmt.Fprintf(w, "%s Checked recently; next check after %s\n",
			SubtitleStyle.Render("•"), r.NextCheck.Local().Format(time.RFC1123))
		return err
	case !r.UpdateReady:
		_, err := fmt.Fprintf(w, "%s %s is up to date (%s)\n",
			SuccessStyle.Render("✓"), r.Repository, CmdStyle.Render(r.Current))
		return err
	case r.Ignored:
		_, err := fmt.Fprintf(w, "%s %s is available but was ignored\n",
			SubtitleStyle.Render("•"), CmdStyle.Render(r.Candidate))
		return err
	default:
		_, err := fmt.Fprintf(w, "%s Update available: %s → %s\nRun 'upkeep apply' to install it.\n",
			WarningStyle.Render("↑"), CmdStyle.Render(r.Current), CmdStyle.Render(r.Candidate))
		return err
	}
}

func newListCommand(app *App, f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the versions the forge offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd, f, func(ctx context.Context, s *session) error {
				cands, err := s.engine.Candidates(ctx)
				if err != nil {
					return err
				}
				return s.out.Write(candidateList{
					Repository: s.cfg.Coordinates().String(),
					Candidates: cands,
				})
			})
		},
	}
}

// WriteText implements output.TextWriter.
func (l candidateList) WriteText(w io.Writer) error {
	if len(l.Candidates) == 0 {
		_, err := fmt.Fprintf(w, "%s has no tags or releases\n", l.Repository)
		return err
	}
	fmt.Fprintln(w, TitleStyle.Render(l.Repository))
	for _, c := range l.Candidates {
		detail := string(c.Source)
		if c.Prerelease {
			detail += ", pre-release"
		}
		if _, err := fmt.Fprintf(w, "  %s %s\n", CmdStyle.Render(c.String()), SubtitleStyle.Render("("+detail+")")); err != nil {
			return err
		}
	}
	return nil
}

// displayVersion renders t, or "unknown" when there is none.
func displayVersion(t version.Tuple) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.String()
}
