package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"vscode-stats/marketplace"
)

// ExtensionSource yields marketplace extension records ready to embed in a
// snapshot file.
type ExtensionSource interface {
	FetchExtensions(ctx context.Context) ([]marketplace.Extension, error)
}

// SentinelData is the content of last_fetched.json.
type SentinelData struct {
	Timestamp     string `json:"timestamp"`
	UnixTimestamp int64  `json:"unix_timestamp"`
	HumanReadable string `json:"human_readable"`
}

// FetchResult summarizes one eager-fetch attempt.
type FetchResult struct {
	DryRun       bool          `json:"dry_run"`
	Skipped      bool          `json:"skipped"`
	SnapshotFile string        `json:"snapshot_file,omitempty"`
	Extensions   int           `json:"extensions"`
	LastFetched  *SentinelData `json:"last_fetched,omitempty"`
	WouldCreate  []string      `json:"would_create,omitempty"`
	Message      string        `json:"message"`
}

type snapshotData struct {
	Message string                  `json:"message"`
	Items   []marketplace.Extension `json:"items"`
	Count   int                     `json:"count"`
}

type snapshotMetadata struct {
	Version  string `json:"version"`
	Source   string `json:"source"`
	Category string `json:"category"`
}

type snapshotEnvelope struct {
	Status    string           `json:"status"`
	Data      snapshotData     `json:"data"`
	Metadata  snapshotMetadata `json:"metadata"`
	CreatedAt string           `json:"created_at"`
}

// Fetcher governs acquisition of new snapshots, independent of ingestion.
// It enforces a minimum inter-fetch interval via the sentinel file and keeps
// sentinel and snapshot consistent: if the snapshot write fails, the freshly
// written sentinel is removed again.
type Fetcher struct {
	source      ExtensionSource
	dataDir     string
	minInterval time.Duration
	category    string
	group       singleflight.Group
	debug       bool
}

func NewFetcher(source ExtensionSource, dataDir string, minInterval time.Duration, category string, debug bool) *Fetcher {
	if minInterval <= 0 {
		minInterval = 6 * time.Hour
	}
	if category == "" {
		category = "AI"
	}
	return &Fetcher{source: source, dataDir: dataDir, minInterval: minInterval, category: category, debug: debug}
}

func (f *Fetcher) debugf(format string, args ...any) {
	if f == nil || !f.debug {
		return
	}
	log.Printf(format, args...)
}

// Fetch triggers one snapshot capture. Dry runs report the files a real run
// would write and touch nothing. Concurrent triggers collapse into a single
// marketplace crawl.
func (f *Fetcher) Fetch(ctx context.Context, dryRun bool) (FetchResult, error) {
	if dryRun {
		now := time.Now().In(canonicalZone)
		return FetchResult{
			DryRun: true,
			WouldCreate: []string{
				filepath.Join(f.dataDir, SentinelFile),
				filepath.Join(f.dataDir, now.Format(filenameTimeLayout)+".json"),
			},
			Message: "dry run - no files were created",
		}, nil
	}

	v, err, _ := f.group.Do("fetch", func() (any, error) {
		return f.fetchOnce(ctx)
	})
	if err != nil {
		return FetchResult{}, err
	}
	return v.(FetchResult), nil
}

func (f *Fetcher) fetchOnce(ctx context.Context) (FetchResult, error) {
	if err := os.MkdirAll(f.dataDir, 0o755); err != nil {
		return FetchResult{}, err
	}

	sentinelPath := filepath.Join(f.dataDir, SentinelFile)
	if sd, err := readSentinel(sentinelPath); err == nil {
		elapsed := time.Since(time.Unix(sd.UnixTimestamp, 0))
		// Strictly less than the window means skip; at or past it, refetch.
		if elapsed < f.minInterval {
			f.debugf("fetch: %s since last fetch, window %s, skipping", elapsed.Round(time.Second), f.minInterval)
			return FetchResult{
				Skipped:     true,
				LastFetched: sd,
				Message:     fmt.Sprintf("using existing data (less than %s old)", f.minInterval),
			}, nil
		}
	}

	// Two-phase write: sentinel first, snapshot second. If the snapshot
	// never lands, the sentinel must not survive, or the next fetch window
	// would skip data that was never captured.
	now := time.Now().In(canonicalZone)
	sd := SentinelData{
		Timestamp:     now.Format(time.RFC3339Nano),
		UnixTimestamp: now.Unix(),
		HumanReadable: now.Format("2006-01-02 15:04:05 MST"),
	}
	if err := writeJSONFile(sentinelPath, sd); err != nil {
		return FetchResult{}, err
	}

	extensions, err := f.source.FetchExtensions(ctx)
	if err != nil {
		f.removeSentinel(sentinelPath)
		return FetchResult{}, fmt.Errorf("marketplace fetch: %w", err)
	}

	envelope := snapshotEnvelope{
		Status: "success",
		Data: snapshotData{
			Message: fmt.Sprintf("VS Code %s extensions data - %d extensions found", f.category, len(extensions)),
			Items:   extensions,
			Count:   len(extensions),
		},
		Metadata: snapshotMetadata{
			Version:  "1.0",
			Source:   "vscode_marketplace",
			Category: f.category,
		},
		CreatedAt: now.Format(time.RFC3339Nano),
	}

	snapshotPath := filepath.Join(f.dataDir, now.Format(filenameTimeLayout)+".json")
	if err := writeJSONFile(snapshotPath, envelope); err != nil {
		f.removeSentinel(sentinelPath)
		return FetchResult{}, err
	}

	f.debugf("fetch: wrote %q with %d extensions", snapshotPath, len(extensions))
	return FetchResult{
		SnapshotFile: filepath.Base(snapshotPath),
		Extensions:   len(extensions),
		LastFetched:  &sd,
		Message:      "files created successfully",
	}, nil
}

func (f *Fetcher) removeSentinel(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("fetch: cleanup sentinel: %v", err)
	}
}

func readSentinel(path string) (*SentinelData, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sd SentinelData
	if err := json.Unmarshal(content, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
