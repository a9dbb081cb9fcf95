// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/invowk/upkeep/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// defaultStylePath is the glamour style used before configuration is known.
const defaultStylePath = "auto"

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "upkeep",
		Short: "Keep a component up to date from its forge",
		Long: TitleStyle.Render("upkeep") + SubtitleStyle.Render(" - keep a component up to date from its forge") + `

upkeep watches a GitHub, GitLab, or Bitbucket repository for newer tags or
releases, downloads the archive, and installs it over a local directory,
keeping a backup it can restore.

` + SubtitleStyle.Render("Examples:") + `
  upkeep check              Look for a newer version
  upkeep stage              Download and unpack it without installing
  upkeep apply              Install it (asks first)
  upkeep restore            Roll back to the newest backup
  upkeep status -o json     Show the persisted state`,
		SilenceUsage: true,
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default is $HOME/.config/upkeep/config.cue)")
	pf.StringVar(&flags.cacheDir, "cache-dir", "", "root for staging, backups, and state (default is the user cache dir)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.StringVarP(&flags.output, "output", "o", "text", "output format: text, json, or yaml")

	root.AddCommand(
		newCheckCommand(app, flags),
		newListCommand(app, flags),
		newStageCommand(app, flags),
		newApplyCommand(app, flags),
		newRestoreCommand(app, flags),
		newBackupCommand(app, flags),
		newStatusCommand(app, flags),
		newIgnoreCommand(app, flags),
		newConfigCommand(app, flags),
		newVersionCommand(app),
		newCompletionCommand(),
	)
	return root
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	root := NewRootCommand(NewApp(Dependencies{}))
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

// withSession opens a session for the command, runs fn, and converts a
// failure into an ExitError after printing guidance for it.
func (a *App) withSession(cmd *cobra.Command, f *rootFlags, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	s, err := a.open(ctx, f)
	if err != nil {
		return a.fail(err, f.verbose, defaultStylePath)
	}
	defer func() { _ = s.Close() }()

	if err := fn(ctx, s); err != nil {
		return a.fail(err, f.verbose || s.cfg.UI.Verbose, string(s.cfg.UI.ColorScheme))
	}
	return nil
}

// fail prints the remediation for err and wraps it with an exit code.
func (a *App) fail(err error, verbose bool, stylePath string) error {
	renderIssue(a.stderr, err, stylePath)
	var ae *issue.ActionableError
	if errors.As(err, &ae) && (verbose || ae.HasSuggestions()) {
		fmt.Fprintln(a.stderr, formatErrorForDisplay(err, verbose))
	} else if verbose {
		fmt.Fprintf(a.stderr, "%s %+v\n", ErrorStyle.Render("error chain:"), err)
	}
	return &ExitError{Code: classifyExitCode(err), Err: err}
}
