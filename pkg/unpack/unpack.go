// Package unpack extracts zip archives, either preserving the archive's
// directory structure or flattening every file into one output directory.
// Data distributors in this domain commonly ship GML and geopackage
// deliveries as zip files with one level of nesting nobody wants.
package unpack

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extract unpacks the archive at infile into outdir. With structure true
// the archive's directory layout is preserved; otherwise every file lands
// directly in outdir and directory entries are skipped.
func Extract(infile, outdir string, structure bool) error {
	r, err := zip.OpenReader(infile)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	for _, member := range r.File {
		if err := extractMember(member, outdir, structure); err != nil {
			return fmt.Errorf("extract %s: %w", member.Name, err)
		}
	}

	return nil
}

func extractMember(member *zip.File, outdir string, structure bool) error {
	var target string
	if structure {
		cleaned := filepath.Clean(member.Name)
		// Reject traversal outside the output directory.
		if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
			return fmt.Errorf("unsafe path %q in archive", member.Name)
		}
		target = filepath.Join(outdir, cleaned)

		if member.FileInfo().IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
	} else {
		name := filepath.Base(member.Name)
		if name == "" || name == "." || name == "/" || member.FileInfo().IsDir() {
			return nil
		}
		target = filepath.Join(outdir, name)
	}

	src, err := member.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Close()
}
