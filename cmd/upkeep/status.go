// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/invowk/upkeep/internal/updater"
)

type (
	// statusReport is what `upkeep status` prints: the persisted engine
	// state plus where it lives.
	statusReport struct {
		Repository string        `json:"repository" yaml:"repository"`
		Install    string        `json:"install_path" yaml:"install_path"`
		StateFile  string        `json:"state_file" yaml:"state_file"`
		State      updater.State `json:"state" yaml:"state"`
	}

	// ignoreReport is what `upkeep ignore` prints.
	ignoreReport struct {
		Ignored string `json:"ignored,omitempty" yaml:"ignored,omitempty"`
	}
)

func newStatusCommand(app *App, f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what upkeep knows about the component",
		Long: `Show what upkeep knows about the component.

Status reads the persisted state only; it never contacts the forge.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd, f, func(_ context.Context, s *session) error {
				return s.out.Write(statusReport{
					Repository: s.cfg.Coordinates().String(),
					Install:    s.cfg.Install.Path,
					StateFile:  s.cfg.Install.StateFile,
					State:      s.engine.Snapshot(),
				})
			})
		},
	}
}

// WriteText implements output.TextWriter.
func (r statusReport) WriteText(w io.Writer) error {
	st := r.State
	row := func(key, value string) {
		fmt.Fprintf(w, "%s %s\n", keyStyle.Render(key), value)
	}

	fmt.Fprintln(w, TitleStyle.Render(r.Repository))
	row("install", r.Install)
	row("version", CmdStyle.Render(displayVersion(st.CurrentVersion)))
	if st.InstalledRef != "" {
		row("ref", st.InstalledRef)
	}
	row("phase", phaseStyle(st.Phase).Render(st.Phase.String()))
	if st.LastCheck.IsZero() {
		row("last check", SubtitleStyle.Render("never"))
	} else {
		row("last check", st.LastCheck.Local().Format(time.DateTime))
	}
	row("interval", st.Interval.String())
	if st.Selected != nil {
		name := st.Selected.String()
		if st.Ignored {
			name += SubtitleStyle.Render(" (ignored)")
		}
		row("available", CmdStyle.Render(name))
	}
	if st.StagedName != "" {
		row("staged", st.StagedName+" "+SubtitleStyle.Render(st.StagedPath))
	}
	if st.LastBackup != "" {
		row("last backup", st.LastBackup)
	}
	if st.LastError != nil {
		msg := st.LastError.Message
		if st.LastError.Partial {
			msg += WarningStyle.Render(" (install partially updated; run 'upkeep restore')")
		}
		row("last error", ErrorStyle.Render(st.LastError.Kind.String())+" "+msg)
	}
	_, err := fmt.Fprintf(w, "%s %s\n", keyStyle.Render("state file"), SubtitleStyle.Render(r.StateFile))
	return err
}

func phaseStyle(p updater.Phase) lipgloss.Style {
	switch p {
	case updater.PhaseError:
		return ErrorStyle
	case updater.PhaseUpdateAvailable, updater.PhaseStaged:
		return WarningStyle
	case updater.PhaseUpToDate, updater.PhaseApplied:
		return SuccessStyle
	default:
		return SubtitleStyle
	}
}

func newIgnoreCommand(app *App, f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ignore",
		Short: "Stop announcing the currently available update",
		Long: `Stop announcing the currently available update.

The notice comes back when a different, newer candidate is found. To never
select a version at all, list it under selection.ignored_versions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd, f, func(ctx context.Context, s *session) error {
				return runIgnore(ctx, s)
			})
		},
	}
}

func runIgnore(ctx context.Context, s *session) error {
	if s.engine.Snapshot().Selected == nil {
		if _, err := s.engine.CheckForUpdate(ctx); err != nil {
			return err
		}
	}
	s.engine.Ignore()
	snap := s.engine.Snapshot()
	return s.out.Write(ignoreReport{Ignored: snap.IgnoredName})
}

// WriteText implements output.TextWriter.
func (r ignoreReport) WriteText(w io.Writer) error {
	if r.Ignored == "" {
		_, err := fmt.Fprintln(w, "No update available; nothing to ignore.")
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s will not be announced again\n", SuccessStyle.Render("✓"), CmdStyle.Render(r.Ignored))
	return err
}
