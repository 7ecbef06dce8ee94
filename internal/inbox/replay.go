package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dvetransfer/internal/dve"
)

// Replayed describes one item moved back from an outbox into an inbox.
type Replayed struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Replay moves every item of outbox back into dir under its original name
// and removes the sidecars written for it. Items are replayed in name order.
// The first failing move stops the replay; items already moved stay moved.
func Replay(outbox, dir string, now time.Time) ([]Replayed, error) {
	entries, err := os.ReadDir(outbox)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read outbox %s: %w", outbox, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if hidden(name) || IsSidecar(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Replayed
	for _, name := range names {
		src := filepath.Join(outbox, name)
		target, err := dve.MoveUnique(src, dir, originalName(src, name), now)
		if err != nil {
			return out, fmt.Errorf("replay %s: %w", name, err)
		}
		for _, suffix := range []string{errorSidecarSuffix, reasonSidecarSuffix} {
			if err := os.Remove(src + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return out, fmt.Errorf("remove sidecar of %s: %w", name, err)
			}
		}
		out = append(out, Replayed{From: src, To: target})
	}
	return out, nil
}

// originalName reads the name recorded in the item's sidecar. Outbox names
// can carry a collision timestamp that must not reach the inbox.
func originalName(path, fallback string) string {
	for _, suffix := range []string{errorSidecarSuffix, reasonSidecarSuffix} {
		data, err := os.ReadFile(path + suffix)
		if err != nil {
			continue
		}
		var sidecar struct {
			OriginalName string `json:"originalName"`
		}
		if json.Unmarshal(data, &sidecar) == nil {
			if name := filepath.Base(strings.TrimSpace(sidecar.OriginalName)); name != "" && name != "." && name != string(filepath.Separator) {
				return name
			}
		}
	}
	return fallback
}
