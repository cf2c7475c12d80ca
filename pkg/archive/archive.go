// Package archive extracts gzip-compressed tarballs uploaded by
// users. It rejects entries that would escape the extraction directory
// via ".." path segments or symlinks, since the archive comes from an
// untrusted upload.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extract unpacks the gzip+tar stream r into destDir, which must
// already exist. It returns an error for any entry whose resolved
// path would fall outside destDir (a "zip-slip") or that is a symlink
// whose target escapes destDir.
func Extract(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent directory for %s: %w", target, err)
			}
			if err := writeFile(tr, target, header.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			linkTarget := header.Linkname
			if header.Typeflag == tar.TypeSymlink && !filepath.IsAbs(linkTarget) {
				// A relative symlink target is resolved from the
				// directory holding the link.
				linkTarget = filepath.Join(filepath.Dir(header.Name), linkTarget)
			}
			if _, err := safeJoin(destDir, linkTarget); err != nil {
				return fmt.Errorf("entry %s: link target escapes extraction directory: %w", header.Name, err)
			}
			// The link target is within destDir; skip creating the
			// link itself, since build inputs never need to follow it
			// and it would require re-validating on every subsequent
			// read.
		default:
			// Ignore device files, fifos, and anything else unusual
			// in an uploaded source tarball.
		}
	}
}

func writeFile(r io.Reader, target string, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", target, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing file %s: %w", target, err)
	}
	return nil
}

// safeJoin resolves name against base and rejects the result if it
// would fall outside base, guarding against ".." traversal and
// absolute paths embedded in tar entry names.
func safeJoin(base, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("illegal absolute path in archive: %q", name)
	}
	joined := filepath.Join(base, name)
	if joined != base && !strings.HasPrefix(joined, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal path in archive: %q", name)
	}
	return joined, nil
}

// TopLevelEntries lists the distinct first path segments present in
// the extracted tree at dir, used to detect whether an upload has a
// single top-level project directory or puts files directly at its
// root.
func TopLevelEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading extraction directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
