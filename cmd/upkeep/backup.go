// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/internal/staging"
)

type (
	// restoreReport is what `upkeep restore` prints.
	restoreReport struct {
		Backup    string `json:"backup,omitempty" yaml:"backup,omitempty"`
		Current   string `json:"current" yaml:"current"`
		Cancelled bool   `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	}

	// backupList is what `upkeep backup list` prints.
	backupList struct {
		Dir     string           `json:"dir" yaml:"dir"`
		Backups []staging.Backup `json:"backups" yaml:"backups"`
	}

	// pruneReport is what `upkeep backup prune` prints.
	pruneReport struct {
		Deleted []string `json:"deleted" yaml:"deleted"`
		Kept    int      `json:"kept" yaml:"kept"`
	}
)

func newRestoreCommand(app *App, f *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Roll the install back to the newest backup",
		Long: `Roll the install back to the newest backup.

The install path is made identical to the backup: changed files are put back
and files the update added are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd, f, func(ctx context.Context, s *session) error {
				return app.runRestore(ctx, s, yes)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

// runRestore confirms and restores the newest backup.
func (a *App) runRestore(ctx context.Context, s *session, yes bool) error {
	b, ok, err := s.stager.LatestBackup()
	if err != nil {
		return err
	}
	if !ok {
		return fault.Filesystem("restore backup", staging.ErrNoBackups)
	}

	confirmed, err := a.confirm(ctx, yes,
		fmt.Sprintf("Restore %s from backup %s?", s.cfg.Install.Path, b.ID),
		"Files changed since the backup will be overwritten or removed.")
	if err != nil {
		return err
	}
	report := restoreReport{Backup: b.ID}
	if !confirmed {
		report.Cancelled = true
		report.Current = displayVersion(s.engine.Snapshot().CurrentVersion)
		return s.out.Write(report)
	}

	if err := s.engine.Restore(ctx); err != nil {
		return err
	}
	report.Current = displayVersion(s.engine.Snapshot().CurrentVersion)
	return s.out.Write(report)
}

// WriteText implements output.TextWriter.
func (r restoreReport) WriteText(w io.Writer) error {
	if r.Cancelled {
		_, err := fmt.Fprintln(w, WarningStyle.Render("Restore cancelled; nothing was changed."))
		return err
	}
	_, err := fmt.Fprintf(w, "%s Restored backup %s (version %s)\n",
		SuccessStyle.Render("✓"), r.Backup, CmdStyle.Render(r.Current))
	return err
}

func newBackupCommand(app *App, f *rootFlags) *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage install backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	backupCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd, f, func(_ context.Context, s *session) error {
				backups, err := s.stager.ListBackups()
				if err != nil {
					return err
				}
				return s.out.Write(backupList{Dir: s.cfg.Install.BackupDir, Backups: backups})
			})
		},
	})

	var keep int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd, f, func(_ context.Context, s *session) error {
				n := keep
				if !cmd.Flags().Changed("keep") {
					n = s.cfg.Promotion.KeepBackups
				}
				return runPrune(s, n)
			})
		},
	}
	pruneCmd.Flags().IntVar(&keep, "keep", staging.DefaultKeepCount, "number of backups to keep (default is promotion.keep_backups)")
	backupCmd.AddCommand(pruneCmd)

	return backupCmd
}

func runPrune(s *session, keep int) error {
	res, err := s.stager.Prune(keep)
	if err != nil {
		return err
	}
	report := pruneReport{Deleted: make([]string, 0, len(res.Deleted)), Kept: res.Kept}
	for _, b := range res.Deleted {
		report.Deleted = append(report.Deleted, b.ID)
	}
	return s.out.Write(report)
}

// WriteText implements output.TextWriter.
func (l backupList) WriteText(w io.Writer) error {
	if len(l.Backups) == 0 {
		_, err := fmt.Fprintf(w, "No backups in %s\n", l.Dir)
		return err
	}
	for _, b := range l.Backups {
		if _, err := fmt.Fprintf(w, "%s  %s\n", CmdStyle.Render(b.ID), SubtitleStyle.Render(b.CreatedAt.Local().Format(time.DateTime))); err != nil {
			return err
		}
	}
	return nil
}

// WriteText implements output.TextWriter.
func (r pruneReport) WriteText(w io.Writer) error {
	for _, id := range r.Deleted {
		if _, err := fmt.Fprintf(w, "%s deleted %s\n", SubtitleStyle.Render("-"), id); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s %d backup(s) kept\n", SuccessStyle.Render("✓"), r.Kept)
	return err
}
