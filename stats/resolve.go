package stats

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// UnprocessedFiles resolves which snapshot files in dataDir still need
// ingestion. "Processed" is derived state, never stored: a file is processed
// iff it has been moved into archiveDir OR its lenient timestamp is at or
// before the newest database capture (latest, nil for an empty database).
// Files whose timestamp cannot be determined at all are included; it is safer
// to re-ingest (the row constraint absorbs duplicates) than to silently drop
// a snapshot. Results are in lexicographic order, which the filename
// convention makes chronological.
func UnprocessedFiles(dataDir, archiveDir string, latest *time.Time) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, err
	}

	archived := make(map[string]struct{})
	if archiveDir != "" {
		if archiveEntries, err := os.ReadDir(archiveDir); err == nil {
			for _, e := range archiveEntries {
				archived[e.Name()] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		if name == SentinelFile {
			continue
		}
		if _, ok := archived[name]; ok {
			continue
		}
		if latest != nil {
			ts := FileTimestamp(filepath.Join(dataDir, name))
			// A file stamped exactly at the newest DB row counts as processed.
			if !ts.IsZero() && !ts.After(*latest) {
				continue
			}
		}
		out = append(out, name)
	}
	return out, nil
}
