// Package archive writes the timestamped catalog dumps and finds them again
// for offline filtering and dump reuse.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
	"github.com/tom-jm69/cs-medal-parser/pkg/fsutil"
)

// Layout is the time layout embedded in dump file names (DD_MM_YYYY_HH_MM_SS).
const Layout = "02_01_2006_15_04_05"

const (
	prefix = "collectibles_"
	ext    = ".json"
)

var (
	ErrNothingToDump = errors.New("archive: no items to dump")
	ErrNoDump        = errors.New("archive: no dump found")
)

// Writer serializes parsed catalogs into a dump directory.
type Writer struct {
	dir string
	now func() time.Time
	log *slog.Logger
}

// NewWriter creates a Writer for dir. File names use local time.
func NewWriter(dir string, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{dir: dir, now: time.Now, log: log}
}

// FileName is the dump name for a given instant.
func FileName(t time.Time) string {
	return prefix + t.Local().Format(Layout) + ext
}

// Dump writes items as an indented JSON array and returns the file path.
func (w *Writer) Dump(items []collectible.Item) (string, error) {
	if len(items) == 0 {
		return "", ErrNothingToDump
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir: %w", err)
	}
	path := filepath.Join(w.dir, FileName(w.now()))
	err := fsutil.WriteAtomic(path, 0o644, func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "    ")
		enc.SetEscapeHTML(false)
		return enc.Encode(items)
	})
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	w.log.Info("catalog dumped", "path", path, "items", len(items))
	return path, nil
}

// Dumps lists the dump files in dir, ignoring temp files.
func Dumps(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*"+ext))
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if !fsutil.IsTemp(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Newest returns the most recently modified dump in dir.
func Newest(dir string) (string, time.Time, error) {
	paths, err := Dumps(dir)
	if err != nil {
		return "", time.Time{}, err
	}
	var best string
	var bestMod time.Time
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		mod := info.ModTime()
		if best == "" || mod.After(bestMod) || (mod.Equal(bestMod) && p > best) {
			best, bestMod = p, mod
		}
	}
	if best == "" {
		return "", time.Time{}, ErrNoDump
	}
	return best, bestMod, nil
}

// Fresh returns the newest dump if it is younger than maxAge at now.
func Fresh(dir string, maxAge time.Duration, now time.Time) (string, bool, error) {
	path, mod, err := Newest(dir)
	if errors.Is(err, ErrNoDump) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return path, now.Sub(mod) < maxAge, nil
}

// Load parses a dump back into items.
func Load(path string, log *slog.Logger) ([]collectible.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	items, err := collectible.ParseCatalog(data, log)
	if err != nil {
		return nil, fmt.Errorf("archive: load %s: %w", filepath.Base(path), err)
	}
	return items, nil
}
