package stats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vscode-stats/marketplace"
)

type fakeSource struct {
	extensions []marketplace.Extension
	err        error
	calls      int
}

func (f *fakeSource) FetchExtensions(ctx context.Context) ([]marketplace.Extension, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.extensions, nil
}

func fakeExtensions(n int) []marketplace.Extension {
	installs := int64(1234)
	out := make([]marketplace.Extension, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, marketplace.Extension{
			ExtensionID:  "pub.fetched",
			Name:         "Fetched",
			Publisher:    "Pub",
			Version:      "2.0.0",
			InstallCount: &installs,
		})
	}
	return out
}

func TestFetch_WritesSentinelAndSnapshot(t *testing.T) {
	dataDir := t.TempDir()
	src := &fakeSource{extensions: fakeExtensions(2)}
	f := NewFetcher(src, dataDir, 6*time.Hour, "AI", false)

	res, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Extensions)
	require.NotEmpty(t, res.SnapshotFile)

	// Sentinel exists and parses.
	sd, err := readSentinel(filepath.Join(dataDir, SentinelFile))
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), sd.UnixTimestamp, 5)

	// The snapshot is a valid ingestion input.
	store := openTestStore(t)
	ingRes, err := NewIngestor(store, false).Ingest(filepath.Join(dataDir, res.SnapshotFile))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, ingRes.Outcome)
	// Both fetched records share one extension id, so one row survives.
	assert.Equal(t, 1, ingRes.RowsInserted)
}

func TestFetch_SkipsWithinMinimumInterval(t *testing.T) {
	dataDir := t.TempDir()
	src := &fakeSource{extensions: fakeExtensions(1)}
	f := NewFetcher(src, dataDir, 6*time.Hour, "AI", false)

	recent := SentinelData{UnixTimestamp: time.Now().Add(-time.Hour).Unix()}
	require.NoError(t, writeJSONFile(filepath.Join(dataDir, SentinelFile), recent))

	res, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, src.calls)

	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1) // only the sentinel
}

func TestFetch_RefetchesAfterWindowElapsed(t *testing.T) {
	dataDir := t.TempDir()
	src := &fakeSource{extensions: fakeExtensions(1)}
	f := NewFetcher(src, dataDir, 6*time.Hour, "AI", false)

	stale := SentinelData{UnixTimestamp: time.Now().Add(-7 * time.Hour).Unix()}
	require.NoError(t, writeJSONFile(filepath.Join(dataDir, SentinelFile), stale))

	res, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, src.calls)
}

func TestFetch_CleansUpSentinelOnSourceFailure(t *testing.T) {
	dataDir := t.TempDir()
	src := &fakeSource{err: errors.New("gallery down")}
	f := NewFetcher(src, dataDir, 6*time.Hour, "AI", false)

	_, err := f.Fetch(context.Background(), false)
	require.Error(t, err)

	// The half-written sentinel must not survive, or the next fetch would
	// skip a capture that never happened.
	_, statErr := os.Stat(filepath.Join(dataDir, SentinelFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_DryRunTouchesNothing(t *testing.T) {
	dataDir := t.TempDir()
	src := &fakeSource{extensions: fakeExtensions(1)}
	f := NewFetcher(src, dataDir, 6*time.Hour, "AI", false)

	res, err := f.Fetch(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 0, src.calls)

	// The paths a real run would write are reported, not created.
	require.Len(t, res.WouldCreate, 2)
	assert.Equal(t, filepath.Join(dataDir, SentinelFile), res.WouldCreate[0])
	assert.True(t, strings.HasSuffix(res.WouldCreate[1], ".json"))

	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetch_SnapshotEmbedsCreatedAt(t *testing.T) {
	dataDir := t.TempDir()
	src := &fakeSource{extensions: fakeExtensions(1)}
	f := NewFetcher(src, dataDir, 6*time.Hour, "AI", false)

	res, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dataDir, res.SnapshotFile))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(content, &decoded))
	ts, err := ParseCapturedAt(decoded)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), ts.Unix(), 5)
}
