// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/invowk/upkeep/internal/forge"
	"github.com/invowk/upkeep/internal/issue"
	"github.com/invowk/upkeep/internal/reload"
	"github.com/invowk/upkeep/internal/staging"
	"github.com/invowk/upkeep/internal/updater"
	"github.com/invowk/upkeep/internal/version"
	"github.com/invowk/upkeep/pkg/cueutil"
	"github.com/invowk/upkeep/pkg/platform"
)

const (
	// AppName is the application name.
	AppName = "upkeep"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. UPKEEP_FORGE_REPO.
	EnvPrefix = "UPKEEP"
)

//go:embed config_schema.cue
var configSchema string

// tokenEnv lists the conventional token variable for each forge.
var tokenEnv = map[forge.Kind]string{
	forge.KindGitHub:    "GITHUB_TOKEN",
	forge.KindGitLab:    "GITLAB_TOKEN",
	forge.KindBitbucket: "BITBUCKET_TOKEN",
}

// ConfigDir returns the upkeep configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	switch runtime.GOOS {
	case platform.Windows:
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(configDir, AppName), nil
}

// CacheDir returns the directory that holds staging areas, backups, and state
// files for every configured component.
func CacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get cache directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation(issue.ConfigLoadOperation).
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'upkeep config init' to create a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}
		if p := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt); fileExists(p) {
			resolvedPath = p
		}
		// No config file means defaults plus environment.
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation(issue.ConfigLoadOperation).
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("See 'upkeep config --help' for configuration options").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if cfg.Forge.Token == "" {
		if kind, err := forge.ParseKind(cfg.Forge.Kind); err == nil {
			cfg.Forge.Token = getenv(tokenEnv[kind])
		}
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation(issue.ConfigLoadOperation).
			WithResource(resolvedPath).
			WithSuggestion("Fix the listed fields and try again").
			Wrap(errs[0]).
			BuildError()
	}

	if err := cfg.resolveDirs(opts.CacheDirPath); err != nil {
		return nil, "", err
	}
	return &cfg, resolvedPath, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("forge.kind", d.Forge.Kind)
	v.SetDefault("forge.user", d.Forge.User)
	v.SetDefault("forge.repo", d.Forge.Repo)
	v.SetDefault("forge.token", d.Forge.Token)
	v.SetDefault("forge.api_base", d.Forge.APIBase)
	v.SetDefault("forge.web_base", d.Forge.WebBase)
	v.SetDefault("install.path", d.Install.Path)
	v.SetDefault("install.current_version", d.Install.CurrentVersion)
	v.SetDefault("install.staging_dir", d.Install.StagingDir)
	v.SetDefault("install.backup_dir", d.Install.BackupDir)
	v.SetDefault("install.state_file", d.Install.StateFile)
	v.SetDefault("selection.branches", d.Selection.Branches)
	v.SetDefault("selection.include_branches", d.Selection.IncludeBranches)
	v.SetDefault("selection.use_releases_only", d.Selection.UseReleasesOnly)
	v.SetDefault("selection.min_version", d.Selection.MinVersion)
	v.SetDefault("selection.max_version", d.Selection.MaxVersion)
	v.SetDefault("selection.constraint", d.Selection.Constraint)
	v.SetDefault("selection.allow_prerelease", d.Selection.AllowPrerelease)
	v.SetDefault("selection.prefix_policy", d.Selection.PrefixPolicy)
	v.SetDefault("selection.ignored_versions", d.Selection.IgnoredVersions)
	v.SetDefault("interval.months", d.Interval.Months)
	v.SetDefault("interval.days", d.Interval.Days)
	v.SetDefault("interval.hours", d.Interval.Hours)
	v.SetDefault("interval.minutes", d.Interval.Minutes)
	v.SetDefault("promotion.mode", d.Promotion.Mode)
	v.SetDefault("promotion.backup", d.Promotion.Backup)
	v.SetDefault("promotion.keep_backups", d.Promotion.KeepBackups)
	v.SetDefault("promotion.overwrite_patterns", d.Promotion.OverwritePatterns)
	v.SetDefault("promotion.remove_patterns", d.Promotion.RemovePatterns)
	v.SetDefault("promotion.backup_ignore_patterns", d.Promotion.BackupIgnorePatterns)
	v.SetDefault("archive.subfolder", d.Archive.Subfolder)
	v.SetDefault("archive.required_files", d.Archive.RequiredFiles)
	v.SetDefault("archive.sha256", d.Archive.SHA256)
	v.SetDefault("archive.max_archive_bytes", d.Archive.MaxArchiveBytes)
	v.SetDefault("archive.max_extract_bytes", d.Archive.MaxExtractBytes)
	v.SetDefault("reload.auto", d.Reload.Auto)
	v.SetDefault("reload.command", d.Reload.Command)
	v.SetDefault("reload.dir", d.Reload.Dir)
	v.SetDefault("network.timeout", d.Network.Timeout)
	v.SetDefault("network.proxy", d.Network.Proxy)
	v.SetDefault("network.user_agent", d.Network.UserAgent)
	v.SetDefault("ui.color_scheme", string(d.UI.ColorScheme))
	v.SetDefault("ui.verbose", d.UI.Verbose)
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against the #Config schema and merges
// it into Viper. The file is decoded to a map rather than a struct so Viper
// keeps its precedence over defaults and environment.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	configMap, err := cueutil.DecodeMap(configSchema, data, "#Config", cueutil.WithFilename(path))
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// resolveDirs fills empty work directories under a per-repository folder in
// the cache directory and expands a leading "~/" in every configured path.
func (c *Config) resolveDirs(cacheDir string) error {
	for _, p := range []*string{&c.Install.Path, &c.Install.StagingDir, &c.Install.BackupDir, &c.Install.StateFile, &c.Reload.Dir} {
		expanded, err := expandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	if c.Install.StagingDir != "" && c.Install.BackupDir != "" && c.Install.StateFile != "" {
		return nil
	}

	if cacheDir == "" {
		dir, err := CacheDir()
		if err != nil {
			return err
		}
		cacheDir = dir
	}
	base := filepath.Join(cacheDir, componentSlug(c.Forge))
	if c.Install.StagingDir == "" {
		c.Install.StagingDir = filepath.Join(base, "staging")
	}
	if c.Install.BackupDir == "" {
		c.Install.BackupDir = filepath.Join(base, "backups")
	}
	if c.Install.StateFile == "" {
		c.Install.StateFile = filepath.Join(base, "state.toml")
	}
	return nil
}

// componentSlug names the per-repository cache folder, e.g. "github-acme-tool".
func componentSlug(f ForgeConfig) string {
	parts := []string{strings.ToLower(f.Kind)}
	for _, s := range []string{f.User, f.Repo} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	slug := strings.Join(parts, "-")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, slug)
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// Coordinates returns the repository coordinates, token included.
func (c *Config) Coordinates() forge.Coordinates {
	kind, _ := forge.ParseKind(c.Forge.Kind)
	return forge.Coordinates{
		Kind:    kind,
		User:    c.Forge.User,
		Repo:    c.Forge.Repo,
		Token:   c.Forge.Token,
		APIBase: c.Forge.APIBase,
	}
}

// ForgeEngine returns the engine for the configured forge, honoring
// forge.web_base for Bitbucket.
func (c *Config) ForgeEngine() (forge.Engine, error) {
	coords := c.Coordinates()
	if err := coords.Validate(); err != nil {
		return nil, err
	}
	if coords.Kind == forge.KindBitbucket {
		return forge.Bitbucket{WebBase: c.Forge.WebBase}, nil
	}
	return forge.For(coords.Kind)
}

// StagingConfig returns the staging manager settings. Archive downloads carry
// the forge's auth headers.
func (c *Config) StagingConfig() (staging.Config, error) {
	eng, err := c.ForgeEngine()
	if err != nil {
		return staging.Config{}, err
	}
	return staging.Config{
		StagingDir:           c.Install.StagingDir,
		BackupDir:            c.Install.BackupDir,
		Headers:              eng.AuthHeaders(c.Coordinates()),
		SubfolderPath:        c.Archive.Subfolder,
		RequiredFiles:        c.Archive.RequiredFiles,
		ExpectedSHA256:       c.Archive.SHA256,
		BackupIgnorePatterns: c.Promotion.BackupIgnorePatterns,
		MaxArchiveBytes:      c.Archive.MaxArchiveBytes,
		MaxExtractBytes:      c.Archive.MaxExtractBytes,
	}, nil
}

// UpdaterConfig returns the engine settings.
func (c *Config) UpdaterConfig() (updater.Config, error) {
	policy, err := c.Selection.Policy()
	if err != nil {
		return updater.Config{}, err
	}
	mode, err := staging.ParseMode(c.Promotion.Mode)
	if err != nil {
		return updater.Config{}, err
	}
	current, _ := version.Parse(c.Install.CurrentVersion)
	return updater.Config{
		Coordinates:    c.Coordinates(),
		InstallPath:    c.Install.Path,
		CurrentVersion: current,
		Branches:       c.Selection.Branches,
		Policy:         policy,
		Interval: updater.Interval{
			Months:  c.Interval.Months,
			Days:    c.Interval.Days,
			Hours:   c.Interval.Hours,
			Minutes: c.Interval.Minutes,
		},
		Promote: staging.PromoteOptions{
			Backup:            c.Promotion.Backup,
			Mode:              mode,
			OverwritePatterns: c.Promotion.OverwritePatterns,
			RemovePatterns:    c.Promotion.RemovePatterns,
		},
		AutoReloadPostUpdate: c.Reload.Auto,
		CheckTimeout:         c.Network.Timeout,
	}, nil
}

// Reloader returns the shell hook configured under reload, or nil when no
// command is set.
func (c *Config) Reloader() *reload.Shell {
	if strings.TrimSpace(c.Reload.Command) == "" {
		return nil
	}
	return &reload.Shell{
		Command: c.Reload.Command,
		Dir:     c.Reload.Dir,
		Env:     []string{"UPKEEP_INSTALL_PATH=" + c.Install.Path},
	}
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a default config file into dir (the platform
// config directory when empty) and returns its path. An existing file is left
// untouched and reported with created=false.
func CreateDefaultConfig(dir string) (path string, created bool, err error) {
	cfgDir, err := configDirWithOverride(dir)
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, false, nil
	}
	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, true, nil
}

// GenerateCUE renders cfg as a config file. The token is never written.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// upkeep configuration file\n")
	sb.WriteString("// Tokens are read from GITHUB_TOKEN, GITLAB_TOKEN, or BITBUCKET_TOKEN.\n\n")

	sb.WriteString("forge: {\n")
	fmt.Fprintf(&sb, "\tkind: %q\n", cfg.Forge.Kind)
	fmt.Fprintf(&sb, "\tuser: %q\n", cfg.Forge.User)
	if cfg.Forge.Repo != "" {
		fmt.Fprintf(&sb, "\trepo: %q\n", cfg.Forge.Repo)
	} else {
		sb.WriteString("\t// repo: \"tool\"\n")
	}
	writeOptional(&sb, "\t", "api_base", cfg.Forge.APIBase)
	writeOptional(&sb, "\t", "web_base", cfg.Forge.WebBase)
	sb.WriteString("}\n")

	sb.WriteString("\ninstall: {\n")
	fmt.Fprintf(&sb, "\tpath: %q\n", cfg.Install.Path)
	fmt.Fprintf(&sb, "\tcurrent_version: %q\n", cfg.Install.CurrentVersion)
	writeOptional(&sb, "\t", "staging_dir", cfg.Install.StagingDir)
	writeOptional(&sb, "\t", "backup_dir", cfg.Install.BackupDir)
	writeOptional(&sb, "\t", "state_file", cfg.Install.StateFile)
	sb.WriteString("}\n")

	sb.WriteString("\nselection: {\n")
	writeList(&sb, "\t", "branches", cfg.Selection.Branches)
	fmt.Fprintf(&sb, "\tinclude_branches: %v\n", cfg.Selection.IncludeBranches)
	fmt.Fprintf(&sb, "\tuse_releases_only: %v\n", cfg.Selection.UseReleasesOnly)
	writeOptional(&sb, "\t", "min_version", cfg.Selection.MinVersion)
	writeOptional(&sb, "\t", "max_version", cfg.Selection.MaxVersion)
	writeOptional(&sb, "\t", "constraint", cfg.Selection.Constraint)
	fmt.Fprintf(&sb, "\tallow_prerelease: %v\n", cfg.Selection.AllowPrerelease)
	fmt.Fprintf(&sb, "\tprefix_policy: %q\n", cfg.Selection.PrefixPolicy)
	if len(cfg.Selection.IgnoredVersions) > 0 {
		writeList(&sb, "\t", "ignored_versions", cfg.Selection.IgnoredVersions)
	}
	sb.WriteString("}\n")

	sb.WriteString("\ninterval: {\n")
	fmt.Fprintf(&sb, "\tmonths: %d\n\tdays: %d\n\thours: %d\n\tminutes: %d\n",
		cfg.Interval.Months, cfg.Interval.Days, cfg.Interval.Hours, cfg.Interval.Minutes)
	sb.WriteString("}\n")

	sb.WriteString("\npromotion: {\n")
	fmt.Fprintf(&sb, "\tmode: %q\n", cfg.Promotion.Mode)
	fmt.Fprintf(&sb, "\tbackup: %v\n", cfg.Promotion.Backup)
	fmt.Fprintf(&sb, "\tkeep_backups: %d\n", cfg.Promotion.KeepBackups)
	writeList(&sb, "\t", "overwrite_patterns", cfg.Promotion.OverwritePatterns)
	writeList(&sb, "\t", "remove_patterns", cfg.Promotion.RemovePatterns)
	writeList(&sb, "\t", "backup_ignore_patterns", cfg.Promotion.BackupIgnorePatterns)
	sb.WriteString("}\n")

	sb.WriteString("\narchive: {\n")
	writeOptional(&sb, "\t", "subfolder", cfg.Archive.Subfolder)
	writeList(&sb, "\t", "required_files", cfg.Archive.RequiredFiles)
	writeOptional(&sb, "\t", "sha256", cfg.Archive.SHA256)
	fmt.Fprintf(&sb, "\tmax_archive_bytes: %d\n", cfg.Archive.MaxArchiveBytes)
	fmt.Fprintf(&sb, "\tmax_extract_bytes: %d\n", cfg.Archive.MaxExtractBytes)
	sb.WriteString("}\n")

	sb.WriteString("\nreload: {\n")
	fmt.Fprintf(&sb, "\tauto: %v\n", cfg.Reload.Auto)
	writeOptional(&sb, "\t", "command", cfg.Reload.Command)
	writeOptional(&sb, "\t", "dir", cfg.Reload.Dir)
	sb.WriteString("}\n")

	sb.WriteString("\nnetwork: {\n")
	fmt.Fprintf(&sb, "\ttimeout: %q\n", cfg.Network.Timeout.String())
	writeOptional(&sb, "\t", "proxy", cfg.Network.Proxy)
	writeOptional(&sb, "\t", "user_agent", cfg.Network.UserAgent)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}

func writeOptional(sb *strings.Builder, indent, key, value string) {
	if value != "" {
		fmt.Fprintf(sb, "%s%s: %q\n", indent, key, value)
	}
}

func writeList(sb *strings.Builder, indent, key string, values []string) {
	if len(values) == 0 {
		fmt.Fprintf(sb, "%s%s: []\n", indent, key)
		return
	}
	fmt.Fprintf(sb, "%s%s: [", indent, key)
	for i, v := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%q", v)
	}
	sb.WriteString("]\n")
}
