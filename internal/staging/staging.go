// SPDX-License-Identifier: MPL-2.0

// Package staging downloads a release archive into a scratch directory,
// verifies and unpacks it, and promotes the result onto a live install path.
// It also owns the timestamped backups taken before promotion.
package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/upkeep/internal/fault"
)

const (
	// DefaultMaxArchiveBytes bounds the downloaded archive size (512 MB).
	DefaultMaxArchiveBytes int64 = 512 << 20
	// DefaultMaxExtractBytes bounds the total uncompressed size (2 GB).
	DefaultMaxExtractBytes int64 = 2 << 30

	stagePrefix     = "stage-"
	archiveFileName = "archive"
	contentDirName  = "content"
)

var (
	// ErrArchiveTooLarge is returned when a download or its extracted content
	// exceeds the configured bound.
	ErrArchiveTooLarge = errors.New("archive exceeds size limit")
	// ErrMissingRequiredFile is returned when a staged tree lacks a file the
	// configuration marks as required.
	ErrMissingRequiredFile = errors.New("required file missing from archive")
	// ErrBadSubfolder is returned when SubfolderPath escapes the archive or
	// does not name a directory in it.
	ErrBadSubfolder = errors.New("subfolder path not found in archive")
	// ErrDigestMismatch is wrapped by DigestError.
	ErrDigestMismatch = errors.New("archive digest mismatch")
)

type (
	// Fetcher opens a streaming download. fetch.Client satisfies it.
	Fetcher interface {
		Open(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error)
	}

	// Clock supplies the time used for backup names.
	Clock interface {
		Now() time.Time
	}

	// Config describes where the manager works and what it accepts.
	Config struct {
		// StagingDir holds one scratch directory per staging attempt.
		StagingDir string
		// BackupDir holds timestamped backups of the install path.
		BackupDir string
		// Headers are sent with every archive download (auth).
		Headers map[string]string
		// SubfolderPath selects a directory inside the archive as the content
		// root, relative to the stripped wrapper directory.
		SubfolderPath string
		// RequiredFiles must exist under the content root after extraction.
		RequiredFiles []string
		// ExpectedSHA256 pins the archive digest when non-empty.
		ExpectedSHA256 string
		// BackupIgnorePatterns are doublestar globs excluded from backups.
		BackupIgnorePatterns []string
		// MaxArchiveBytes bounds the download size; zero uses the default.
		MaxArchiveBytes int64
		// MaxExtractBytes bounds the extracted size; zero uses the default.
		MaxExtractBytes int64
	}

	// Staged is the result of a successful staging attempt.
	Staged struct {
		// Dir is the scratch directory owned by this attempt.
		Dir string
		// Root is the effective content root inside Dir.
		Root string
		// SHA256 is the hex digest of the downloaded archive.
		SHA256 string
		// Size is the downloaded archive size in bytes.
		Size int64
		// Format is "zip" or "tar.gz".
		Format string
	}

	// DigestError reports a pinned digest that does not match the download.
	DigestError struct {
		Expected string
		Got      string
	}

	// Manager performs staging, promotion, and backup operations. Methods are
	// safe to call from multiple goroutines, but callers must not stage or
	// promote onto the same install path concurrently.
	Manager struct {
		cfg     Config
		fetcher Fetcher
		clock   Clock
		logger  *log.Logger
	}

	// Option configures a Manager.
	Option func(*Manager)

	systemClock struct{}
)

func (systemClock) Now() time.Time { return time.Now() }

// Error implements the error interface.
func (e *DigestError) Error() string {
	return fmt.Sprintf("archive digest mismatch\nExpected: %s\nGot:      %s", e.Expected, e.Got)
}

// Unwrap returns ErrDigestMismatch so callers can use errors.Is.
func (e *DigestError) Unwrap() error { return ErrDigestMismatch }

// WithLogger sets the manager's logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces the clock used to name backups.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// New creates a Manager. StagingDir and BackupDir must be set.
func New(cfg Config, fetcher Fetcher, opts ...Option) (*Manager, error) {
	if cfg.StagingDir == "" || cfg.BackupDir == "" {
		return nil, fault.Configuration("create staging manager", errors.New("staging and backup directories are required"))
	}
	if cfg.SubfolderPath != "" && !filepath.IsLocal(filepath.FromSlash(cfg.SubfolderPath)) {
		return nil, fault.Configuration("create staging manager", fmt.Errorf("%w: %q", ErrBadSubfolder, cfg.SubfolderPath))
	}
	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = DefaultMaxArchiveBytes
	}
	if cfg.MaxExtractBytes <= 0 {
		cfg.MaxExtractBytes = DefaultMaxExtractBytes
	}
	cfg.ExpectedSHA256 = strings.ToLower(strings.TrimSpace(cfg.ExpectedSHA256))

	m := &Manager{
		cfg:     cfg,
		fetcher: fetcher,
		clock:   systemClock{},
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the manager's effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Stage downloads archiveURL into a fresh scratch directory and unpacks it.
// Earlier scratch directories are removed first. On any failure the scratch
// directory is removed and a classified error is returned.
func (m *Manager) Stage(ctx context.Context, archiveURL string) (*Staged, error) {
	if err := m.purgeStale(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(m.cfg.StagingDir, stagePrefix+"*")
	if err != nil {
		return nil, fault.Filesystem("create staging directory", err)
	}

	staged, err := m.stageInto(ctx, dir, archiveURL)
	if err != nil {
		_ = os.RemoveAll(dir) // best-effort cleanup of a failed attempt
		return nil, err
	}
	m.logger.Info("staged archive", "root", staged.Root, "sha256", staged.SHA256, "format", staged.Format)
	return staged, nil
}

func (m *Manager) stageInto(ctx context.Context, dir, archiveURL string) (*Staged, error) {
	archivePath := filepath.Join(dir, archiveFileName)
	digest, size, err := m.download(ctx, archiveURL, archivePath)
	if err != nil {
		return nil, err
	}
	if m.cfg.ExpectedSHA256 != "" && m.cfg.ExpectedSHA256 != digest {
		return nil, fault.Archive("verify archive digest", &DigestError{Expected: m.cfg.ExpectedSHA256, Got: digest})
	}

	content := filepath.Join(dir, contentDirName)
	format, err := extract(ctx, archivePath, content, m.cfg.MaxExtractBytes)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(archivePath); err != nil {
		m.logger.Debug("could not remove downloaded archive", "path", archivePath, "error", err)
	}

	root, err := stripWrapper(content)
	if err != nil {
		return nil, err
	}
	if m.cfg.SubfolderPath != "" {
		root = filepath.Join(root, filepath.FromSlash(m.cfg.SubfolderPath))
		if fi, statErr := os.Stat(root); statErr != nil || !fi.IsDir() {
			return nil, fault.Archive("select archive subfolder", fmt.Errorf("%w: %q", ErrBadSubfolder, m.cfg.SubfolderPath))
		}
	}
	for _, rel := range m.cfg.RequiredFiles {
		if _, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); statErr != nil {
			return nil, fault.Archive("verify staged content", fmt.Errorf("%w: %s", ErrMissingRequiredFile, rel))
		}
	}

	return &Staged{Dir: dir, Root: root, SHA256: digest, Size: size, Format: format}, nil
}

// download streams the archive to path, hashing it on the way.
func (m *Manager) download(ctx context.Context, archiveURL, path string) (digest string, size int64, err error) {
	body, err := m.fetcher.Open(ctx, archiveURL, m.cfg.Headers)
	if err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			err = fault.Network("download archive", err)
		}
		return "", 0, err
	}
	defer func() { _ = body.Close() }() // read-only response body

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fault.Filesystem("create archive file", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fault.Filesystem("write archive file", closeErr)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(body, m.cfg.MaxArchiveBytes+1))
	if err != nil {
		return "", 0, fault.Network("download archive", err)
	}
	if n > m.cfg.MaxArchiveBytes {
		return "", 0, fault.Archive("download archive", fmt.Errorf("%w (%d bytes)", ErrArchiveTooLarge, m.cfg.MaxArchiveBytes))
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Discard removes a staged attempt. Discarding nil or an already removed
// attempt is a no-op.
func (m *Manager) Discard(s *Staged) error {
	if s == nil || s.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return fault.Filesystem("discard staged archive", err)
	}
	return nil
}

// Exists reports whether a staged attempt is still on disk.
func (s *Staged) Exists() bool {
	if s == nil || s.Root == "" {
		return false
	}
	fi, err := os.Stat(s.Root)
	return err == nil && fi.IsDir()
}

func (m *Manager) purgeStale() error {
	if err := os.MkdirAll(m.cfg.StagingDir, 0o755); err != nil {
		return fault.Filesystem("create staging root", err)
	}
	entries, err := os.ReadDir(m.cfg.StagingDir)
	if err != nil {
		return fault.Filesystem("read staging root", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), stagePrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.cfg.StagingDir, e.Name())); err != nil {
			return fault.Filesystem("remove stale staging directory", err)
		}
	}
	return nil
}

// stripWrapper descends one level when dir holds exactly one directory and
// nothing else, which is how forges wrap repository archives.
func stripWrapper(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fault.Filesystem("read extracted archive", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
