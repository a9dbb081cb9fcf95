// SPDX-License-Identifier: MPL-2.0

package staging

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/pkg/platform"
)

const (
	formatZip   = "zip"
	formatTarGz = "tar.gz"
)

var (
	// ErrUnsupportedFormat is returned for archives that are neither zip nor
	// gzip-compressed tar.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrUnsafePath is returned for archive entries that would land outside
	// the extraction directory.
	ErrUnsafePath = errors.New("archive entry escapes extraction directory")

	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
)

// extract unpacks archivePath into dest and reports the detected format.
// Symlinks, hard links, and device entries are skipped.
func extract(ctx context.Context, archivePath, dest string, maxBytes int64) (string, error) {
	format, err := detectFormat(archivePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fault.Filesystem("create extraction directory", err)
	}

	budget := &extractBudget{remaining: maxBytes}
	switch format {
	case formatZip:
		err = extractZip(ctx, archivePath, dest, budget)
	default:
		err = extractTarGz(ctx, archivePath, dest, budget)
	}
	if err != nil {
		return "", err
	}
	return format, nil
}

func detectFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fault.Filesystem("open archive", err)
	}
	defer func() { _ = f.Close() }() // read-only file

	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fault.Filesystem("read archive header", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic), bytes.HasPrefix(head, zipEmptyMagic):
		return formatZip, nil
	case bytes.HasPrefix(head, gzipMagic):
		return formatTarGz, nil
	}
	return "", fault.Archive("detect archive format", ErrUnsupportedFormat)
}

type extractBudget struct {
	remaining int64
}

// copyLimited copies src into a new file at path, charging the budget.
func (b *extractBudget) copyLimited(path string, src io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fault.Filesystem("create directory", err)
	}
	if perm&0o600 == 0 {
		perm |= 0o600
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fault.Filesystem("create extracted file", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(src, b.remaining+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		return fault.Archive("extract "+filepath.Base(path), copyErr)
	case n > b.remaining:
		return fault.Archive("extract archive", ErrArchiveTooLarge)
	case closeErr != nil:
		return fault.Filesystem("write extracted file", closeErr)
	}
	b.remaining -= n
	return nil
}

// safeJoin resolves an archive entry name under dest. It returns "" for
// entries that name the root itself.
func safeJoin(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSuffix(name, "/")))
	if clean == "." || clean == "" {
		return "", nil
	}
	if filepath.IsAbs(clean) || !filepath.IsLocal(clean) {
		return "", fault.Archive("extract archive", fmt.Errorf("%w: %q", ErrUnsafePath, name))
	}
	if runtime.GOOS == platform.Windows && hasReservedElement(clean) {
		return "", fault.Archive("extract archive", fmt.Errorf("%w: reserved name in %q", ErrUnsafePath, name))
	}
	return filepath.Join(dest, clean), nil
}

func hasReservedElement(clean string) bool {
	for elem := range strings.SplitSeq(clean, string(filepath.Separator)) {
		if platform.IsWindowsReservedName(elem) {
			return true
		}
	}
	return false
}

func extractZip(ctx context.Context, archivePath, dest string, budget *extractBudget) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		if zr != nil {
			_ = zr.Close()
		}
		if errors.Is(err, zip.ErrInsecurePath) {
			return fault.Archive("open zip archive", fmt.Errorf("%w: %w", ErrUnsafePath, err))
		}
		return fault.Archive("open zip archive", err)
	}
	defer func() { _ = zr.Close() }() // read-only archive

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return fault.Archive("extract zip archive", err)
		}
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		if target == "" {
			continue
		}

		mode := zf.Mode()
		switch {
		case mode.IsDir() || strings.HasSuffix(zf.Name, "/"):
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fault.Filesystem("create directory", err)
			}
		case mode.IsRegular():
			rc, err := zf.Open()
			if err != nil {
				return fault.Archive("open zip entry "+zf.Name, err)
			}
			err = budget.copyLimited(target, rc, mode.Perm())
			_ = rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func extractTarGz(ctx context.Context, archivePath, dest string, budget *extractBudget) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fault.Filesystem("open archive", err)
	}
	defer func() { _ = f.Close() }() // read-only file

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fault.Archive("open gzip stream", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return fault.Archive("extract tar archive", err)
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fault.Archive("read tar entry", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		if target == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fault.Filesystem("create directory", err)
			}
		case tar.TypeReg:
			if err := budget.copyLimited(target, tr, fs.FileMode(hdr.Mode).Perm()); err != nil { //nolint:gosec // Mode is masked to permission bits.
				return err
			}
		}
	}
}
