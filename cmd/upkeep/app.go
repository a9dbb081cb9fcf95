// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/invowk/upkeep/internal/config"
	"github.com/invowk/upkeep/internal/fetch"
	"github.com/invowk/upkeep/internal/output"
	"github.com/invowk/upkeep/internal/staging"
	"github.com/invowk/upkeep/internal/updater"
)

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every Cobra handler receives an App and reaches
	// the engine through open.
	App struct {
		Config  config.Provider
		Prompt  Prompter
		Getenv  func(string) string
		stdout  io.Writer
		stderr  io.Writer
		options []updater.Option
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Prompt Prompter
		Getenv func(string) string
		Stdout io.Writer
		Stderr io.Writer
		// EngineOptions are appended to the options every session uses.
		EngineOptions []updater.Option
	}

	// Prompter asks the user to confirm a change to the install.
	Prompter interface {
		Confirm(ctx context.Context, title, description string) (bool, error)
	}

	// rootFlags are the persistent flags shared by every subcommand.
	rootFlags struct {
		configPath string
		cacheDir   string
		verbose    bool
		output     string
	}

	// session is one loaded configuration plus the engine built from it.
	session struct {
		cfg     *config.Config
		cfgPath string
		engine  *updater.Engine
		stager  *staging.Manager
		logger  *log.Logger
		out     *output.Writer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Prompt == nil {
		deps.Prompt = terminalPrompter{}
	}
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}
	return &App{
		Config:  deps.Config,
		Prompt:  deps.Prompt,
		Getenv:  deps.Getenv,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
		options: deps.EngineOptions,
	}
}

// loadOptions turns the persistent flags into config loading inputs.
func (a *App) loadOptions(f *rootFlags) config.LoadOptions {
	return config.LoadOptions{
		ConfigFilePath: f.configPath,
		CacheDirPath:   f.cacheDir,
		Getenv:         a.Getenv,
	}
}

// newLogger returns the CLI's stderr logger.
func (a *App) newLogger(verbose bool) *log.Logger {
	logger := log.NewWithOptions(a.stderr, log.Options{Prefix: "upkeep"})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.WarnLevel)
	}
	return logger
}

// open loads configuration and builds the engine for it. Callers must Close
// the returned session.
func (a *App) open(ctx context.Context, f *rootFlags) (*session, error) {
	format, err := output.ParseFormat(f.output)
	if err != nil {
		return nil, err
	}

	cfg, cfgPath, err := a.Config.LoadWithPath(ctx, a.loadOptions(f))
	if err != nil {
		return nil, err
	}
	logger := a.newLogger(f.verbose || cfg.UI.Verbose)

	ua := cfg.Network.UserAgent
	if ua == "" {
		ua = config.AppName + "/" + Version
	}
	client := fetch.NewClient(
		fetch.WithTimeout(cfg.Network.Timeout),
		fetch.WithProxy(cfg.Network.Proxy),
		fetch.WithUserAgent(ua),
		fetch.WithLogger(logger),
	)

	stagingCfg, err := cfg.StagingConfig()
	if err != nil {
		return nil, err
	}
	stager, err := staging.New(stagingCfg, client, staging.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	engineCfg, err := cfg.UpdaterConfig()
	if err != nil {
		return nil, err
	}
	eng, err := cfg.ForgeEngine()
	if err != nil {
		return nil, err
	}
	opts := []updater.Option{
		updater.WithLogger(logger),
		updater.WithStore(updater.NewFileStore(cfg.Install.StateFile)),
		updater.WithForge(eng),
	}
	if r := cfg.Reloader(); r != nil {
		r.Stdout, r.Stderr = a.stderr, a.stderr
		opts = append(opts, updater.WithReloader(r))
	}
	opts = append(opts, a.options...)

	engine, err := updater.New(engineCfg, client, stager, opts...)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded", "file", cfgPath, "repository", engineCfg.Coordinates.String())
	return &session{
		cfg:     cfg,
		cfgPath: cfgPath,
		engine:  engine,
		stager:  stager,
		logger:  logger,
		out:     output.NewWriter(a.stdout, format),
	}, nil
}

// Close waits for background work started by the session.
func (s *session) Close() error {
	return s.engine.Close()
}
