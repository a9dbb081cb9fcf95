// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/invowk/upkeep/internal/release"
	"github.com/invowk/upkeep/internal/updater"
)

type (
	// stageReport is what `upkeep stage` prints.
	stageReport struct {
		Candidate string `json:"candidate,omitempty" yaml:"candidate,omitempty"`
		Version   string `json:"version,omitempty" yaml:"version,omitempty"`
		Path      string `json:"path,omitempty" yaml:"path,omitempty"`
		SHA256    string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
		UpToDate  bool   `json:"up_to_date,omitempty" yaml:"up_to_date,omitempty"`
	}

	// applyParams holds the apply command's flags.
	applyParams struct {
		tag string
		yes bool
	}

	// applyReport is what `upkeep apply` prints.
	applyReport struct {
		Previous   string `json:"previous" yaml:"previous"`
		Current    string `json:"current" yaml:"current"`
		Ref        string `json:"ref,omitempty" yaml:"ref,omitempty"`
		Backup     string `json:"backup,omitempty" yaml:"backup,omitempty"`
		Pruned     int    `json:"pruned,omitempty" yaml:"pruned,omitempty"`
		UpToDate   bool   `json:"up_to_date,omitempty" yaml:"up_to_date,omitempty"`
		Cancelled  bool   `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
		InstallDir string `json:"install_path" yaml:"install_path"`
	}
)

func newStageCommand(app *App, f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stage [tag]",
		Short: "Download and unpack an update without installing it",
		Long: `Download and unpack an update without installing it.

Without an argument the candidate selected by 'upkeep check' is staged. With a
tag name that exact tag is staged, even if it is older than the installed
version. Run 'upkeep apply' afterwards to install what was staged.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tag string
			if len(args) > 0 {
				tag = args[0]
			}
			return app.withSession(cmd, f, func(ctx context.Context, s *session) error {
				return runStage(ctx, s, tag)
			})
		},
	}
}

// runStage stages tag, or the selected candidate when tag is empty.
func runStage(ctx context.Context, s *session, tag string) error {
	if tag != "" {
		if _, err := s.engine.StageTag(ctx, tag); err != nil {
			return err
		}
	} else if err := s.engine.RunUpdate(ctx, false); err != nil {
		if errors.Is(err, updater.ErrNoUpdate) {
			return s.out.Write(stageReport{UpToDate: true})
		}
		return err
	}

	snap := s.engine.Snapshot()
	return s.out.Write(stageReport{
		Candidate: snap.StagedName,
		Version:   snap.StagedVersion.String(),
		Path:      snap.StagedPath,
		SHA256:    snap.StagedSHA256,
	})
}

// WriteText implements output.TextWriter.
func (r stageReport) WriteText(w io.Writer) error {
	if r.UpToDate {
		_, err := fmt.Fprintf(w, "%s Nothing to stage; already up to date\n", SuccessStyle.Render("✓"))
		return err
	}
	_, err := fmt.Fprintf(w, "%s Staged %s\n  %s %s\n  %s %s\nRun 'upkeep apply' to install it.\n",
		SuccessStyle.Render("✓"), CmdStyle.Render(r.Candidate),
		keyStyle.Render("path"), r.Path,
		keyStyle.Render("sha256"), r.SHA256)
	return err
}

func newApplyCommand(app *App, f *rootFlags) *cobra.Command {
	var p applyParams
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Install the staged or newest update",
		Long: `Install the staged or newest update.

If nothing is staged yet, apply checks the forge and stages the selected
candidate first. The install path is backed up before it is changed when
promotion.backup is set; 'upkeep restore' puts the backup back.`,
		Example: `  # Install the newest version (asks first)
  upkeep apply

  # Install a specific tag without asking
  upkeep apply --tag v1.4.0 --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd, f, func(ctx context.Context, s *session) error {
				return app.runApply(ctx, s, p)
			})
		},
	}
	cmd.Flags().StringVar(&p.tag, "tag", "", "install this tag instead of the newest one")
	cmd.Flags().BoolVarP(&p.yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

// runApply makes sure something is staged, confirms, and promotes it.
func (a *App) runApply(ctx context.Context, s *session, p applyParams) error {
	snap := s.engine.Snapshot()
	report := applyReport{
		Previous:   displayVersion(snap.CurrentVersion),
		InstallDir: s.cfg.Install.Path,
	}

	var target release.Candidate
	switch {
	case p.tag != "":
		c, err := s.engine.StageTag(ctx, p.tag)
		if err != nil {
			return err
		}
		target = c
	default:
		if err := s.engine.RunUpdate(ctx, false); err != nil {
			if errors.Is(err, updater.ErrNoUpdate) {
				report.UpToDate = true
				report.Current = report.Previous
				return s.out.Write(report)
			}
			return err
		}
		snap = s.engine.Snapshot()
		target = release.Candidate{Name: snap.StagedName, Version: snap.StagedVersion}
	}

	ok, err := a.confirm(ctx, p.yes,
		fmt.Sprintf("Install %s into %s?", target.String(), s.cfg.Install.Path),
		applyDescription(s, report.Previous))
	if err != nil {
		return err
	}
	if !ok {
		report.Cancelled = true
		report.Current = report.Previous
		return s.out.Write(report)
	}

	if err := s.engine.RunUpdate(ctx, true); err != nil {
		return err
	}
	snap = s.engine.Snapshot()
	s.engine.AcknowledgeUpdate()

	report.Current = displayVersion(snap.CurrentVersion)
	report.Ref = snap.InstalledRef
	report.Backup = snap.LastBackup
	if keep := s.cfg.Promotion.KeepBackups; keep > 0 {
		pruned, err := s.stager.Prune(keep)
		if err != nil {
			s.logger.Warn("could not prune old backups", "error", err)
		} else {
			report.Pruned = len(pruned.Deleted)
		}
	}
	return s.out.Write(report)
}

func applyDescription(s *session, current string) string {
	desc := fmt.Sprintf("Installed version: %s. Mode: %s.", current, s.cfg.Promotion.Mode)
	if s.cfg.Promotion.Backup {
		return desc + " A backup is taken first."
	}
	return desc + " No backup will be taken."
}

// WriteText implements output.TextWriter.
func (r applyReport) WriteText(w io.Writer) error {
	switch {
	case r.UpToDate:
		_, err := fmt.Fprintf(w, "%s Already up to date (%s)\n", SuccessStyle.Render("✓"), CmdStyle.Render(r.Current))
		return err
	case r.Cancelled:
		_, err := fmt.Fprintln(w, WarningStyle.Render("Update cancelled; nothing was changed."))
		return err
	}
	to := r.Current
	if r.Ref != "" && r.Ref != r.Current && r.Ref != "v"+r.Current {
		to = r.Ref
	}
	if _, err := fmt.Fprintf(w, "%s Updated %s: %s → %s\n",
		SuccessStyle.Render("✓"), r.InstallDir, CmdStyle.Render(r.Previous), CmdStyle.Render(to)); err != nil {
		return err
	}
	if r.Backup != "" {
		if _, err := fmt.Fprintf(w, "  %s %s (restore with 'upkeep restore')\n", keyStyle.Render("backup"), r.Backup); err != nil {
			return err
		}
	}
	if r.Pruned > 0 {
		if _, err := fmt.Fprintf(w, "  %s %d old backup(s)\n", keyStyle.Render("pruned"), r.Pruned); err != nil {
			return err
		}
	}
	return nil
}
