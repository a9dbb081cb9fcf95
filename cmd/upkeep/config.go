// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invowk/upkeep/internal/config"
	"github.com/invowk/upkeep/internal/output"
)

// configView is what `upkeep config show` prints in json and yaml form.
type configView struct {
	File   string         `json:"file,omitempty" yaml:"file,omitempty"`
	Config *config.Config `json:"config" yaml:"config"`
}

// newConfigCommand creates the `upkeep config` command tree.
func newConfigCommand(app *App, f *rootFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage upkeep configuration",
		Long: `Manage upkeep configuration.

Configuration is stored in:
  - Linux: ~/.config/upkeep/config.cue
  - macOS: ~/Library/Application Support/upkeep/config.cue
  - Windows: %APPDATA%\upkeep\config.cue

Every key can be overridden from the environment with an UPKEEP_ prefix,
for example UPKEEP_FORGE_REPO or UPKEEP_PROMOTION_MODE.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runConfigShow(cmd, f)
		},
	})

	var dir string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runConfigInit(dir)
		},
	}
	initCmd.Flags().StringVar(&dir, "dir", "", "directory to create the file in (default is the config directory)")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	return cfgCmd
}

func (a *App) runConfigShow(cmd *cobra.Command, f *rootFlags) error {
	format, err := output.ParseFormat(f.output)
	if err != nil {
		return err
	}
	cfg, path, err := a.Config.LoadWithPath(cmd.Context(), a.loadOptions(f))
	if err != nil {
		return a.fail(err, f.verbose, defaultStylePath)
	}

	if format != output.FormatText {
		return output.NewWriter(a.stdout, format).Write(configView{File: path, Config: cfg})
	}

	fmt.Fprintln(a.stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(a.stdout)
	if path == "" {
		fmt.Fprintf(a.stdout, "%s %s\n\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	} else {
		fmt.Fprintf(a.stdout, "%s %s\n\n", keyStyle.Render("Config file"), path)
	}
	writeConfigCUE(a.stdout, cfg)
	return nil
}

// writeConfigCUE prints cfg in file form; the token is never shown.
func writeConfigCUE(w io.Writer, cfg *config.Config) {
	fmt.Fprint(w, config.GenerateCUE(cfg))
	if cfg.Forge.Token != "" {
		fmt.Fprintln(w, SubtitleStyle.Render("// token: set (hidden)"))
	}
}

func (a *App) runConfigInit(dir string) error {
	path, created, err := config.CreateDefaultConfig(dir)
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(a.stdout, "%s Configuration already exists at %s\n", WarningStyle.Render("!"), path)
		return nil
	}
	fmt.Fprintf(a.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	fmt.Fprintln(a.stdout, "Set forge.user and forge.repo, then run 'upkeep check'.")
	return nil
}

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the upkeep version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(app.stdout, "upkeep %s\n", getVersionString())
			return nil
		},
	}
}
