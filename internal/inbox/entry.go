package inbox

import (
	"os"
	"strings"
	"time"
)

// Entry is one inbox item as seen by a poll cycle.
type Entry struct {
	Name    string
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// ByCreation orders entries by modification time, then name.
func ByCreation(a, b Entry) int {
	if c := a.ModTime.Compare(b.ModTime); c != 0 {
		return c
	}
	return strings.Compare(a.Name, b.Name)
}

// MatchSuffix returns a filter accepting regular files with one of the given
// suffixes (case-insensitive).
func MatchSuffix(suffixes ...string) func(os.DirEntry) bool {
	lowered := make([]string, 0, len(suffixes))
	for _, suffix := range suffixes {
		lowered = append(lowered, strings.ToLower(suffix))
	}
	return func(d os.DirEntry) bool {
		if d.IsDir() || hidden(d.Name()) {
			return false
		}
		name := strings.ToLower(d.Name())
		for _, suffix := range lowered {
			if strings.HasSuffix(name, suffix) {
				return true
			}
		}
		return false
	}
}

// MatchDVE accepts zip files and bag directories.
func MatchDVE(d os.DirEntry) bool {
	if hidden(d.Name()) {
		return false
	}
	if d.IsDir() {
		return true
	}
	return d.Type().IsRegular() && strings.HasSuffix(strings.ToLower(d.Name()), ".zip")
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
