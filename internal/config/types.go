// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invowk/upkeep/internal/forge"
	"github.com/invowk/upkeep/internal/release"
	"github.com/invowk/upkeep/internal/staging"
	"github.com/invowk/upkeep/internal/version"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultTimeout bounds each forge request.
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidConfigError collects every field-level problem found in a Config.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		Forge     ForgeConfig     `json:"forge" yaml:"forge" mapstructure:"forge"`
		Install   InstallConfig   `json:"install" yaml:"install" mapstructure:"install"`
		Selection SelectionConfig `json:"selection" yaml:"selection" mapstructure:"selection"`
		Interval  IntervalConfig  `json:"interval" yaml:"interval" mapstructure:"interval"`
		Promotion PromotionConfig `json:"promotion" yaml:"promotion" mapstructure:"promotion"`
		Archive   ArchiveConfig   `json:"archive" yaml:"archive" mapstructure:"archive"`
		Reload    ReloadConfig    `json:"reload" yaml:"reload" mapstructure:"reload"`
		Network   NetworkConfig   `json:"network" yaml:"network" mapstructure:"network"`
		UI        UIConfig        `json:"ui" yaml:"ui" mapstructure:"ui"`
	}

	// ForgeConfig locates the repository updates come from.
	ForgeConfig struct {
		Kind string `json:"kind" yaml:"kind" mapstructure:"kind"`
		User string `json:"user" yaml:"user" mapstructure:"user"`
		Repo string `json:"repo" yaml:"repo" mapstructure:"repo"`
		// Token falls back to GITHUB_TOKEN, GITLAB_TOKEN, or BITBUCKET_TOKEN.
		Token string `json:"-" yaml:"-" mapstructure:"token"`
		// APIBase overrides the forge API root (self-hosted instances).
		APIBase string `json:"api_base,omitempty" yaml:"api_base,omitempty" mapstructure:"api_base"`
		// WebBase overrides the Bitbucket download host.
		WebBase string `json:"web_base,omitempty" yaml:"web_base,omitempty" mapstructure:"web_base"`
	}

	// InstallConfig describes the live install and the engine's work dirs.
	// Empty directories are derived from the user cache directory.
	InstallConfig struct {
		Path           string `json:"path" yaml:"path" mapstructure:"path"`
		CurrentVersion string `json:"current_version" yaml:"current_version" mapstructure:"current_version"`
		StagingDir     string `json:"staging_dir" yaml:"staging_dir" mapstructure:"staging_dir"`
		BackupDir      string `json:"backup_dir" yaml:"backup_dir" mapstructure:"backup_dir"`
		StateFile      string `json:"state_file" yaml:"state_file" mapstructure:"state_file"`
	}

	// SelectionConfig mirrors release.Policy in file form.
	SelectionConfig struct {
		Branches        []string `json:"branches" yaml:"branches" mapstructure:"branches"`
		IncludeBranches bool     `json:"include_branches" yaml:"include_branches" mapstructure:"include_branches"`
		UseReleasesOnly bool     `json:"use_releases_only" yaml:"use_releases_only" mapstructure:"use_releases_only"`
		MinVersion      string   `json:"min_version,omitempty" yaml:"min_version,omitempty" mapstructure:"min_version"`
		MaxVersion      string   `json:"max_version,omitempty" yaml:"max_version,omitempty" mapstructure:"max_version"`
		Constraint      string   `json:"constraint,omitempty" yaml:"constraint,omitempty" mapstructure:"constraint"`
		AllowPrerelease bool     `json:"allow_prerelease" yaml:"allow_prerelease" mapstructure:"allow_prerelease"`
		PrefixPolicy    string   `json:"prefix_policy" yaml:"prefix_policy" mapstructure:"prefix_policy"`
		// IgnoredVersions are never selected, matched by tag name.
		IgnoredVersions []string `json:"ignored_versions,omitempty" yaml:"ignored_versions,omitempty" mapstructure:"ignored_versions"`
	}

	// IntervalConfig is the minimum time between background checks.
	IntervalConfig struct {
		Months  int `json:"months" yaml:"months" mapstructure:"months"`
		Days    int `json:"days" yaml:"days" mapstructure:"days"`
		Hours   int `json:"hours" yaml:"hours" mapstructure:"hours"`
		Minutes int `json:"minutes" yaml:"minutes" mapstructure:"minutes"`
	}

	// PromotionConfig controls how staged trees reach the install path.
	PromotionConfig struct {
		Mode                 string   `json:"mode" yaml:"mode" mapstructure:"mode"`
		Backup               bool     `json:"backup" yaml:"backup" mapstructure:"backup"`
		KeepBackups          int      `json:"keep_backups" yaml:"keep_backups" mapstructure:"keep_backups"`
		OverwritePatterns    []string `json:"overwrite_patterns" yaml:"overwrite_patterns" mapstructure:"overwrite_patterns"`
		RemovePatterns       []string `json:"remove_patterns" yaml:"remove_patterns" mapstructure:"remove_patterns"`
		BackupIgnorePatterns []string `json:"backup_ignore_patterns" yaml:"backup_ignore_patterns" mapstructure:"backup_ignore_patterns"`
	}

	// ArchiveConfig constrains what a downloaded archive must look like.
	ArchiveConfig struct {
		Subfolder       string   `json:"subfolder,omitempty" yaml:"subfolder,omitempty" mapstructure:"subfolder"`
		RequiredFiles   []string `json:"required_files,omitempty" yaml:"required_files,omitempty" mapstructure:"required_files"`
		SHA256          string   `json:"sha256,omitempty" yaml:"sha256,omitempty" mapstructure:"sha256"`
		MaxArchiveBytes int64    `json:"max_archive_bytes" yaml:"max_archive_bytes" mapstructure:"max_archive_bytes"`
		MaxExtractBytes int64    `json:"max_extract_bytes" yaml:"max_extract_bytes" mapstructure:"max_extract_bytes"`
	}

	// ReloadConfig configures the post-update reload hook.
	ReloadConfig struct {
		Auto    bool   `json:"auto" yaml:"auto" mapstructure:"auto"`
		Command string `json:"command,omitempty" yaml:"command,omitempty" mapstructure:"command"`
		Dir     string `json:"dir,omitempty" yaml:"dir,omitempty" mapstructure:"dir"`
	}

	// NetworkConfig configures the HTTP client.
	NetworkConfig struct {
		Timeout   time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
		Proxy     string        `json:"proxy,omitempty" yaml:"proxy,omitempty" mapstructure:"proxy"`
		UserAgent string        `json:"user_agent,omitempty" yaml:"user_agent,omitempty" mapstructure:"user_agent"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" yaml:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
	}
)

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error {
	return ErrInvalidColorScheme
}

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// IsValid checks the cross-field rules CUE cannot express: parsable versions,
// constraints, modes, and glob patterns.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.UI.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.Forge.Kind != "" {
		if _, err := forge.ParseKind(c.Forge.Kind); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.Selection.Policy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := staging.ParseMode(c.Promotion.Mode); err != nil {
		errs = append(errs, err)
	}
	for _, field := range []struct {
		name     string
		patterns []string
	}{
		{"promotion.overwrite_patterns", c.Promotion.OverwritePatterns},
		{"promotion.remove_patterns", c.Promotion.RemovePatterns},
		{"promotion.backup_ignore_patterns", c.Promotion.BackupIgnorePatterns},
	} {
		if err := staging.ValidatePatterns(field.patterns); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}
	if c.Install.CurrentVersion != "" {
		if _, ok := version.Parse(c.Install.CurrentVersion); !ok {
			errs = append(errs, fmt.Errorf("install.current_version: %q has no numeric version", c.Install.CurrentVersion))
		}
	}
	if c.Promotion.KeepBackups < 0 {
		errs = append(errs, fmt.Errorf("promotion.keep_backups: must be non-negative, got %d", c.Promotion.KeepBackups))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Policy converts the selection settings to a release.Policy.
func (s SelectionConfig) Policy() (release.Policy, error) {
	prefix, err := version.ParsePrefixPolicy(s.PrefixPolicy)
	if err != nil {
		return release.Policy{}, fmt.Errorf("selection.prefix_policy: %w", err)
	}
	p := release.Policy{
		IncludeBranches: s.IncludeBranches,
		UseReleasesOnly: s.UseReleasesOnly,
		AllowPrerelease: s.AllowPrerelease,
		Prefix:          prefix,
	}
	if s.MinVersion != "" {
		v, ok := version.Parse(s.MinVersion)
		if !ok {
			return release.Policy{}, fmt.Errorf("selection.min_version: %q has no numeric version", s.MinVersion)
		}
		p.Min = v
	}
	if s.MaxVersion != "" {
		v, ok := version.Parse(s.MaxVersion)
		if !ok {
			return release.Policy{}, fmt.Errorf("selection.max_version: %q has no numeric version", s.MaxVersion)
		}
		p.Max = v
	}
	if p.Constraint, err = release.ParseConstraint(s.Constraint); err != nil {
		return release.Policy{}, fmt.Errorf("selection.constraint: %w", err)
	}
	if len(s.IgnoredVersions) > 0 {
		ignored := make(map[string]struct{}, len(s.IgnoredVersions))
		for _, name := range s.IgnoredVersions {
			ignored[strings.TrimPrefix(name, "v")] = struct{}{}
		}
		p.Skip = func(c release.Candidate) bool {
			_, skip := ignored[strings.TrimPrefix(c.Name, "v")]
			return skip
		}
	}
	return p, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Forge: ForgeConfig{Kind: string(forge.KindGitHub)},
		Selection: SelectionConfig{
			Branches:     []string{},
			PrefixPolicy: version.PrefixLess.String(),
		},
		Promotion: PromotionConfig{
			Mode:                 staging.ModeOverlay.String(),
			Backup:               true,
			KeepBackups:          staging.DefaultKeepCount,
			OverwritePatterns:    []string{},
			RemovePatterns:       []string{},
			BackupIgnorePatterns: []string{},
		},
		Archive: ArchiveConfig{
			RequiredFiles:   []string{},
			MaxArchiveBytes: staging.DefaultMaxArchiveBytes,
			MaxExtractBytes: staging.DefaultMaxExtractBytes,
		},
		Network: NetworkConfig{Timeout: DefaultTimeout},
		UI:      UIConfig{ColorScheme: ColorSchemeAuto},
	}
}
