// Package archive decodes the archive formats Volta downloads tool
// distributions in: gzipped tar, xz-compressed tar, zip, and raw
// (uncompressed single-file) binaries.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Format identifies an archive encoding.
type Format string

const (
	FormatTarGz Format = "tar.gz"
	FormatTarXz Format = "tar.xz"
	FormatZip   Format = "zip"
	FormatRaw   Format = "raw"
)

// DetectFormat guesses a Format from a URL or filename's suffix. Returns
// "" when no known suffix matches, leaving the caller to fall back to a
// hook-declared format.
func DetectFormat(urlOrFilename string) Format {
	name := strings.ToLower(filepath.Base(urlOrFilename))
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	default:
		return ""
	}
}

// NormalizeFormat maps common aliases ("tgz", "txz") onto the canonical
// Format constants. Unknown values pass through unchanged so callers can
// surface the original string in an error.
func NormalizeFormat(raw string) Format {
	switch strings.ToLower(raw) {
	case "tar.gz", "tgz":
		return FormatTarGz
	case "tar.xz", "txz":
		return FormatTarXz
	case "zip":
		return FormatZip
	case "raw":
		return FormatRaw
	default:
		return Format(raw)
	}
}

// Decoder unpacks one archive format into a destination directory.
type Decoder interface {
	Decode(r io.Reader, destDir string) error
}

// NewDecoder builds the Decoder for format. rawBinaryName names the file
// to create when format is FormatRaw (ignored otherwise); toolchain
// installation passes the tool's canonical binary name rather than
// inferring one from the destination directory.
func NewDecoder(format Format, rawBinaryName string) (Decoder, error) {
	switch format {
	case FormatTarGz:
		return tarGzDecoder{}, nil
	case FormatTarXz:
		return tarXzDecoder{}, nil
	case FormatZip:
		return zipDecoder{}, nil
	case FormatRaw:
		return rawDecoder{binaryName: rawBinaryName}, nil
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", format)
	}
}

type tarGzDecoder struct{}

func (tarGzDecoder) Decode(r io.Reader, destDir string) error {
	slog.Debug("decoding tar.gz archive", "dest", destDir)
	gr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gr.Close()
	return decodeTar(gr, destDir)
}

type tarXzDecoder struct{}

func (tarXzDecoder) Decode(r io.Reader, destDir string) error {
	slog.Debug("decoding tar.xz archive", "dest", destDir)
	xr, err := xz.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open xz stream: %w", err)
	}
	return decodeTar(xr, destDir)
}

func decodeTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		target := filepath.Join(destDir, hdr.Name)
		if !withinDir(destDir, target) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			linkTarget := filepath.Join(filepath.Dir(target), hdr.Linkname)
			if !withinDir(destDir, linkTarget) {
				return fmt.Errorf("symlink escapes destination: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", target, err)
			}
		}
	}
}

type zipDecoder struct{}

func (zipDecoder) Decode(r io.Reader, destDir string) error {
	slog.Debug("decoding zip archive", "dest", destDir)

	ra, ok := r.(io.ReaderAt)
	if !ok {
		return fmt.Errorf("zip decoding requires a seekable source, got %T", r)
	}
	size, err := readerSize(r)
	if err != nil {
		return fmt.Errorf("failed to determine archive size: %w", err)
	}

	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return fmt.Errorf("failed to open zip stream: %w", err)
	}

	for _, f := range zr.File {
		if isMacOSMetadata(f.Name) {
			continue
		}

		target := filepath.Join(destDir, f.Name)
		if !withinDir(destDir, target) {
			return fmt.Errorf("archive entry escapes destination: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, f.Mode()); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			continue
		}

		if err := func() error {
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
			}
			defer rc.Close()
			return writeFile(rc, target, f.Mode())
		}(); err != nil {
			return err
		}
	}
	return nil
}

type rawDecoder struct {
	binaryName string
}

func (d rawDecoder) Decode(r io.Reader, destDir string) error {
	slog.Debug("decoding raw binary", "dest", destDir, "name", d.binaryName)
	if d.binaryName == "" {
		return fmt.Errorf("raw decode requires a binary name")
	}
	target := filepath.Join(destDir, d.binaryName)
	if !withinDir(destDir, target) {
		return fmt.Errorf("binary name escapes destination: %s", d.binaryName)
	}
	return writeFile(r, target, 0o755)
}

func readerSize(r io.Reader) (int64, error) {
	switch v := r.(type) {
	case *os.File:
		info, err := v.Stat()
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	case interface{ Len() int }:
		return int64(v.Len()), nil
	case io.Seeker:
		cur, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		end, err := v.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		if _, err := v.Seek(cur, io.SeekStart); err != nil {
			return 0, err
		}
		return end, nil
	default:
		return 0, fmt.Errorf("cannot size reader of type %T", r)
	}
}

func writeFile(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", target, err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}

// isMacOSMetadata reports whether name belongs to the __MACOSX/ tree that
// macOS's Archive Utility injects into zip files.
func isMacOSMetadata(name string) bool {
	return name == "__MACOSX" || name == "__MACOSX/" || strings.HasPrefix(name, "__MACOSX/")
}

// withinDir reports whether target resolves to a path inside baseDir,
// rejecting the path traversal an untrusted archive entry could attempt.
func withinDir(baseDir, target string) bool {
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
