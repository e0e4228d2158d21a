package install

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveKind is the packaging of a release artifact.
type ArchiveKind string

const (
	ArchiveRaw   ArchiveKind = "raw"    // the artifact is the executable
	ArchiveGzip  ArchiveKind = "gz"     // a single gzip-compressed executable
	ArchiveTarGz ArchiveKind = "tar.gz" // a directory tree
	ArchiveZip   ArchiveKind = "zip"
)

// extract unpacks the artifact at src into dir. For raw and gzip artifacts
// the result is written to dir/binary with executable permissions.
func extract(kind ArchiveKind, src, dir, binary string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	switch kind {
	case ArchiveRaw:
		f, err := os.Open(src) //nolint:gosec // G304: staging path created by the installer
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		return writeExecutable(filepath.Join(dir, binary), f)
	case ArchiveGzip:
		f, err := os.Open(src) //nolint:gosec // G304: staging path created by the installer
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		zr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		return writeExecutable(filepath.Join(dir, binary), zr)
	case ArchiveTarGz:
		return extractTarGz(src, dir)
	case ArchiveZip:
		return extractZip(src, dir)
	default:
		return fmt.Errorf("unknown archive kind %q", kind)
	}
}

func writeExecutable(path string, r io.Reader) error {
	return writeFile(path, r, 0o755)
}

// safeJoin joins name under dir and rejects entries escaping it.
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid file path in archive: %q", name)
	}
	return target, nil
}

func extractTarGz(src, dir string) error {
	f, err := os.Open(src) //nolint:gosec // G304: staging path created by the installer
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer func() { _ = zr.Close() }()

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		target, err := safeJoin(dir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if _, err := safeJoin(filepath.Dir(target), header.Linkname); err != nil || filepath.IsAbs(header.Linkname) {
				return fmt.Errorf("invalid symlink in archive: %q -> %q", header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func extractZip(src, dir string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("zip: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, file := range zr.File {
		target, err := safeJoin(dir, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return err
		}
		mode := file.Mode().Perm()
		if mode == 0 {
			mode = 0o644
		}
		err = writeFile(target, rc, mode)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode) //nolint:gosec // G304: path validated by safeJoin
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil { //nolint:gosec // G110: artifact digest verified before extraction
		_ = out.Close()
		return err
	}
	return out.Close()
}
