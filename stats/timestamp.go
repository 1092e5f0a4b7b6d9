package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SentinelFile marks the last successful marketplace fetch. It lives in the
// data directory but is never a snapshot, so every scan excludes it.
const SentinelFile = "last_fetched.json"

// filenameTimeLayout is the timestamp convention for snapshot filenames,
// e.g. 2025-07-12-12-06-24.json. Lexicographic order equals chronological.
const filenameTimeLayout = "2006-01-02-15-04-05"

// canonicalZone is the single reference timezone all capture timestamps are
// normalized to before comparison or storage.
var canonicalZone = loadCanonicalZone()

func loadCanonicalZone() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		// No tzdata available; a fixed UTC-8 keeps behavior deterministic.
		return time.FixedZone("PST", -8*60*60)
	}
	return loc
}

// ParseCapturedAt is the strict timestamp path used by the ingestor: it reads
// the created_at field from a decoded snapshot and returns it in the canonical
// zone. A missing or unparsable created_at is an error, never a fallback.
func ParseCapturedAt(decoded any) (time.Time, error) {
	m, ok := decoded.(map[string]any)
	if !ok {
		return time.Time{}, errors.New("created_at missing: snapshot has no top-level object")
	}
	raw, _ := m["created_at"].(string)
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("created_at missing")
	}
	return parseISOTime(raw)
}

// parseISOTime parses an ISO-8601 timestamp. A value carrying an offset is
// converted to the canonical zone; a naive value is taken to already be
// canonical-zone wall time.
func parseISOTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.In(canonicalZone), nil
		}
	}
	layouts := []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, s, canonicalZone); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported created_at format: %q", s)
}

// FileTimestamp is the lenient timestamp path used by the directory scanner.
// It tries created_at, then the filename pattern, then the file's mtime, and
// returns the zero time only when even stat fails. A bad timestamp must not
// hide a file from discovery, so this path never errors.
func FileTimestamp(path string) time.Time {
	if content, err := os.ReadFile(path); err == nil {
		var decoded any
		if json.Unmarshal(content, &decoded) == nil {
			if ts, err := ParseCapturedAt(decoded); err == nil {
				return ts
			}
		}
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if ts, err := time.ParseInLocation(filenameTimeLayout, base, canonicalZone); err == nil {
		return ts
	}

	if info, err := os.Stat(path); err == nil {
		return info.ModTime().In(canonicalZone)
	}
	return time.Time{}
}
