// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/invowk/upkeep/internal/forge"
	"github.com/invowk/upkeep/internal/issue"
	"github.com/invowk/upkeep/internal/release"
	"github.com/invowk/upkeep/internal/staging"
	"github.com/invowk/upkeep/internal/version"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.cue")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func noEnv(string) string { return "" }

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cache := t.TempDir()
	cfg, path, err := NewProvider().LoadWithPath(context.Background(), LoadOptions{
		ConfigDirPath: t.TempDir(),
		CacheDirPath:  cache,
		Getenv:        noEnv,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != "" {
		t.Errorf("resolved path = %q, want empty", path)
	}
	if cfg.Forge.Kind != "github" || cfg.Promotion.Mode != "overlay" || !cfg.Promotion.Backup {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Network.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Network.Timeout, DefaultTimeout)
	}
	if !strings.HasPrefix(cfg.Install.StagingDir, cache) || !strings.HasPrefix(cfg.Install.StateFile, cache) {
		t.Errorf("work dirs not derived from cache dir: %+v", cfg.Install)
	}
}

func TestLoadCUEFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
forge: {
	kind: "gitlab"
	user: "acme"
	repo: "tool"
	api_base: "https://gitlab.example.com"
}
install: {
	path: "/opt/tool"
	current_version: "v1.4.0"
	staging_dir: "/var/tmp/upkeep/staging"
	backup_dir: "/var/tmp/upkeep/backups"
	state_file: "/var/tmp/upkeep/state.toml"
}
selection: {
	branches: ["main"]
	include_branches: true
	constraint: ">= 1.0, < 3.0"
	prefix_policy: "zero-pad"
	ignored_versions: ["v2.1.0"]
}
interval: { days: 1, hours: 6 }
promotion: {
	mode: "replace"
	keep_backups: 3
	backup_ignore_patterns: ["*.log"]
}
archive: {
	subfolder: "dist"
	required_files: ["bin/tool"]
}
reload: {
	auto: true
	command: "echo reloaded"
}
network: { timeout: "45s" }
`)

	cfg, resolved, err := NewProvider().LoadWithPath(context.Background(), LoadOptions{ConfigFilePath: path, Getenv: noEnv})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Network.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", cfg.Network.Timeout)
	}

	coords := cfg.Coordinates()
	if coords.Kind != forge.KindGitLab || coords.User != "acme" || coords.Repo != "tool" {
		t.Errorf("Coordinates() = %+v", coords)
	}

	uc, err := cfg.UpdaterConfig()
	if err != nil {
		t.Fatalf("UpdaterConfig() error = %v", err)
	}
	if version.Compare(uc.CurrentVersion, version.Tuple{1, 4, 0}, version.PrefixLess) != 0 {
		t.Errorf("CurrentVersion = %v", uc.CurrentVersion)
	}
	if uc.Promote.Mode != staging.ModeReplace || !uc.Promote.Backup {
		t.Errorf("Promote = %+v", uc.Promote)
	}
	if uc.Interval.Days != 1 || uc.Interval.Hours != 6 {
		t.Errorf("Interval = %+v", uc.Interval)
	}
	if !uc.AutoReloadPostUpdate || uc.Policy.Prefix != version.PrefixZeroPad || uc.Policy.Constraint == nil {
		t.Errorf("policy/reload not mapped: %+v", uc)
	}
	if uc.Policy.Skip == nil || !uc.Policy.Skip(release.Candidate{Name: "2.1.0"}) {
		t.Error("ignored version not skipped")
	}
	if len(uc.Branches) != 1 || uc.Branches[0] != "main" {
		t.Errorf("Branches = %v", uc.Branches)
	}

	sc, err := cfg.StagingConfig()
	if err != nil {
		t.Fatalf("StagingConfig() error = %v", err)
	}
	if sc.SubfolderPath != "dist" || sc.StagingDir != "/var/tmp/upkeep/staging" || len(sc.BackupIgnorePatterns) != 1 {
		t.Errorf("StagingConfig() = %+v", sc)
	}

	if r := cfg.Reloader(); r == nil || r.Command != "echo reloaded" {
		t.Errorf("Reloader() = %+v", r)
	}
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax error", "forge: {", ""},
		{"unknown forge", `forge: { kind: "sourcehut" }`, "forge.kind"},
		{"unknown field", `forge: { owner: "acme" }`, "owner"},
		{"bad mode", `promotion: { mode: "swap" }`, "promotion.mode"},
		{"negative interval", `interval: { days: -1 }`, "interval.days"},
		{"bad digest", `archive: { sha256: "abc" }`, "archive.sha256"},
		{"bad constraint", `selection: { constraint: "about one" }`, "constraint"},
		{"bad pattern", `promotion: { remove_patterns: ["[oops"] }`, "remove_patterns"},
		{"bad current version", `install: { current_version: "latest" }`, "current_version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.content)
			_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: path, Getenv: noEnv})
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || ae.Operation != issue.ConfigLoadOperation {
				t.Errorf("error is not an actionable config error: %v", err)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || !ae.HasSuggestions() {
		t.Errorf("Load() error = %v, want actionable error with suggestions", err)
	}
}

func TestTokenFallback(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `forge: { kind: "bitbucket", user: "acme", repo: "tool", web_base: "https://bb.example.com" }`)
	env := map[string]string{"BITBUCKET_TOKEN": "bb-secret", "GITHUB_TOKEN": "gh-secret"}
	cfg, err := NewProvider().Load(context.Background(), LoadOptions{
		ConfigFilePath: path,
		CacheDirPath:   t.TempDir(),
		Getenv:         func(k string) string { return env[k] },
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Forge.Token != "bb-secret" {
		t.Errorf("Token = %q, want bitbucket token", cfg.Forge.Token)
	}
	eng, err := cfg.ForgeEngine()
	if err != nil {
		t.Fatal(err)
	}
	if got := eng.ArchiveURL(cfg.Coordinates(), "v1"); !strings.HasPrefix(got, "https://bb.example.com/") {
		t.Errorf("ArchiveURL() = %q, want web_base host", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UPKEEP_FORGE_REPO", "from-env")
	t.Setenv("UPKEEP_PROMOTION_MODE", "replace")

	path := writeConfig(t, `forge: { user: "acme", repo: "from-file" }`)
	cfg, err := NewProvider().Load(context.Background(), LoadOptions{
		ConfigFilePath: path,
		CacheDirPath:   t.TempDir(),
		Getenv:         noEnv,
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Forge.Repo != "from-env" {
		t.Errorf("Repo = %q, want env override", cfg.Forge.Repo)
	}
	if cfg.Promotion.Mode != "replace" {
		t.Errorf("Mode = %q, want replace", cfg.Promotion.Mode)
	}
}

func TestLoadCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestGeneratedConfigLoads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path, created, err := CreateDefaultConfig(dir)
	if err != nil || !created {
		t.Fatalf("CreateDefaultConfig() = %q, %v, %v", path, created, err)
	}
	if _, again, _ := CreateDefaultConfig(dir); again {
		t.Error("existing config was overwritten")
	}

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: path, CacheDirPath: t.TempDir(), Getenv: noEnv})
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	def := DefaultConfig()
	if cfg.Promotion.KeepBackups != def.Promotion.KeepBackups || cfg.Archive.MaxArchiveBytes != def.Archive.MaxArchiveBytes {
		t.Errorf("round trip changed values: %+v", cfg)
	}
}

func TestGenerateCUEOmitsToken(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Forge.Token = "secret"
	if strings.Contains(GenerateCUE(cfg), "secret") {
		t.Error("token written to config file")
	}
}

func TestComponentSlug(t *testing.T) {
	t.Parallel()

	got := componentSlug(ForgeConfig{Kind: "GitLab", User: "acme/group", Repo: "tool"})
	if got != "gitlab-acme_group-tool" {
		t.Errorf("componentSlug() = %q", got)
	}
}
