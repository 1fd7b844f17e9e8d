package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// RemoveOutcome is the result of removing one file.
type RemoveOutcome int

const (
	Removed RemoveOutcome = iota
	NotFound
	Denied
)

func (o RemoveOutcome) String() string {
	switch o {
	case Removed:
		return "removed"
	case NotFound:
		return "not_found"
	default:
		return "denied"
	}
}

// removeFile deletes path. Any failure other than absence counts as denied.
func removeFile(path string) RemoveOutcome {
	err := os.Remove(path)
	switch {
	case err == nil:
		return Removed
	case errors.Is(err, fs.ErrNotExist):
		return NotFound
	default:
		return Denied
	}
}

// CleanupReport aggregates removal outcomes of one finish step.
type CleanupReport struct {
	Removed  int
	NotFound int
	Denied   int
	// Retained lists files that could not be removed.
	Retained []string
}

func (r *CleanupReport) add(path string, o RemoveOutcome) {
	switch o {
	case Removed:
		r.Removed++
	case NotFound:
		r.NotFound++
	default:
		r.Denied++
		r.Retained = append(r.Retained, path)
	}
}

// Merge adds other's counts to r.
func (r *CleanupReport) Merge(other CleanupReport) {
	r.Removed += other.Removed
	r.NotFound += other.NotFound
	r.Denied += other.Denied
	r.Retained = append(r.Retained, other.Retained...)
}

// removeAll removes every path and reports the outcomes.
func removeAll(paths []string) CleanupReport {
	var r CleanupReport
	for _, p := range paths {
		r.add(p, removeFile(p))
	}
	return r
}

// sweepDir removes every regular file in dir accepted by match, except keep.
// An unreadable dir yields an empty report.
func sweepDir(dir string, match func(name string) bool, keep string) CleanupReport {
	var r CleanupReport
	entries, err := os.ReadDir(dir)
	if err != nil {
		return r
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !match(name) || (keep != "" && name == keep) {
			continue
		}
		p := filepath.Join(dir, name)
		r.add(p, removeFile(p))
	}
	return r
}
