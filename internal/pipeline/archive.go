package pipeline

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoArchiveMember is returned when no archive member matches.
	ErrNoArchiveMember = errors.New("no matching archive member")
	// ErrAmbiguousArchive is returned when several archive members match.
	ErrAmbiguousArchive = errors.New("ambiguous archive: several members match")
)

// extractMember copies the single file in the zip at archivePath whose base
// name contains pattern to dest and returns the member name.
func extractMember(archivePath, pattern, dest string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	var matches []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.Contains(filepath.Base(f.Name), pattern) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: pattern %q in %s", ErrNoArchiveMember, pattern, filepath.Base(archivePath))
	case 1:
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return "", fmt.Errorf("%w: %s", ErrAmbiguousArchive, strings.Join(names, ", "))
	}

	m := matches[0]
	if err := copyMember(m, dest); err != nil {
		return "", fmt.Errorf("extract %s: %w", m.Name, err)
	}
	return m.Name, nil
}

func copyMember(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
