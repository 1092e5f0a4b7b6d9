package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vscode-stats/marketplace"
	"vscode-stats/stats"
)

const testKey = "550e8400-e29b-41d4-a716-446655440000"

type stubSource struct {
	extensions []marketplace.Extension
	calls      int
}

func (s *stubSource) FetchExtensions(ctx context.Context) ([]marketplace.Extension, error) {
	s.calls++
	return s.extensions, nil
}

type testEnv struct {
	router     http.Handler
	dataDir    string
	exportPath string
	source     *stubSource
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := stats.OpenDB(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dataDir := t.TempDir()
	archiveDir := t.TempDir()
	exportPath := filepath.Join(t.TempDir(), "data.tar")
	ingestor := stats.NewIngestor(store, false)
	syncer := stats.NewSyncer(store, ingestor, dataDir, archiveDir, false, false)
	source := &stubSource{}
	fetcher := stats.NewFetcher(source, dataDir, 6*time.Hour, "AI", false)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := NewHandler(store, syncer, ingestor, fetcher, NewKeyring([]string{testKey}), dataDir, exportPath, logger)
	return &testEnv{router: NewRouter(h), dataDir: dataDir, exportPath: exportPath, source: source}
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func (e *testEnv) postJSON(t *testing.T, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// writeSnapshot drops a well-formed snapshot file into the data directory.
func (e *testEnv) writeSnapshot(t *testing.T, name string, createdAt time.Time, items []map[string]any) {
	t.Helper()
	envelope := map[string]any{
		"status":     "success",
		"data":       map[string]any{"items": items, "count": len(items)},
		"created_at": createdAt.Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.dataDir, name), b, 0o644))
}

func snapshotItems(ids ...string) []map[string]any {
	items := make([]map[string]any, 0, len(ids))
	for i, id := range ids {
		items = append(items, map[string]any{
			"extension_id":  id,
			"name":          "Extension " + id,
			"publisher":     "Example Corp",
			"version":       "1.0.0",
			"install_count": 5000 + i,
			"rating":        4.2,
		})
	}
	return items
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])
}

func TestAuth_MissingKey(t *testing.T) {
	e := newTestEnv(t)
	for _, target := range []string{"/api/fetch", "/api/sync-status", "/api/auto-sync", "/api/download"} {
		w := e.get(t, target)
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
		assert.Contains(t, decodeBody(t, w)["error"], "malformed")
	}
}

func TestAuth_UnknownKeyWithValidUUID(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/sync-status?key=123e4567-e89b-12d3-a456-426614174000")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "unknown")
}

func TestSyncStatus_EmptyDatabaseWarns(t *testing.T) {
	e := newTestEnv(t)
	e.writeSnapshot(t, "2025-07-12-12-00-00.json", time.Date(2025, 7, 12, 12, 0, 0, 0, time.UTC), snapshotItems("pub.a"))

	w := e.get(t, "/api/sync-status?key="+testKey)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Nil(t, body["latest_db_record"])
	assert.Contains(t, body["warning"], "no records found")
	assert.Equal(t, float64(1), body["total_json_files"])
	assert.Equal(t, float64(1), body["unprocessed_count"])
}

func TestSyncStatus_AfterIngest(t *testing.T) {
	e := newTestEnv(t)
	e.writeSnapshot(t, "2025-07-12-12-00-00.json", time.Date(2025, 7, 12, 12, 0, 0, 0, time.UTC), snapshotItems("pub.a"))

	w := e.get(t, "/api/auto-sync?key="+testKey)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.get(t, "/api/sync-status?key="+testKey)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.NotNil(t, body["latest_db_record"])
	assert.NotContains(t, body, "warning")
	// The file stays on disk (no archival on this path) but is no longer
	// unprocessed.
	assert.Equal(t, float64(1), body["total_json_files"])
	assert.Equal(t, float64(0), body["unprocessed_count"])
}

func TestAutoSync_DryRun(t *testing.T) {
	e := newTestEnv(t)
	e.writeSnapshot(t, "2025-07-12-12-00-00.json", time.Date(2025, 7, 12, 12, 0, 0, 0, time.UTC), snapshotItems("pub.a"))

	w := e.get(t, "/api/auto-sync?key="+testKey+"&dryrun=1")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["dry_run"])
	assert.Equal(t, float64(0), body["files_processed"])

	// The snapshot remains unprocessed.
	w = e.get(t, "/api/sync-status?key="+testKey)
	assert.Equal(t, float64(1), decodeBody(t, w)["unprocessed_count"])
}

func TestAutoSync_ProcessesFiles(t *testing.T) {
	e := newTestEnv(t)
	e.writeSnapshot(t, "2025-07-12-12-00-00.json", time.Date(2025, 7, 12, 12, 0, 0, 0, time.UTC), snapshotItems("pub.a", "pub.b"))

	w := e.get(t, "/api/auto-sync?key="+testKey)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["files_processed"])
	assert.Equal(t, float64(2), body["total_records"])

	w = e.get(t, "/api/extensions")
	require.Equal(t, http.StatusOK, w.Code)
	extensions := decodeBody(t, w)["extensions"].([]any)
	assert.Len(t, extensions, 2)
}

func TestIngest_SuccessThenAlreadyExists(t *testing.T) {
	e := newTestEnv(t)
	e.writeSnapshot(t, "2025-07-12-12-00-00.json", time.Date(2025, 7, 12, 12, 0, 0, 0, time.UTC), snapshotItems("pub.a"))

	w := e.postJSON(t, "/api/ingest", map[string]string{"filename": "2025-07-12-12-00-00.json", "key": testKey})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["records_inserted"])

	w = e.postJSON(t, "/api/ingest", map[string]string{"filename": "2025-07-12-12-00-00.json", "key": testKey})
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, "already_exists", body["status"])
	assert.Equal(t, float64(0), body["records_inserted"])
}

func TestIngest_RejectsPathTraversal(t *testing.T) {
	e := newTestEnv(t)
	for _, name := range []string{"../../etc/passwd", "dir/file.json", "snapshot.txt"} {
		w := e.postJSON(t, "/api/ingest", map[string]string{"filename": name, "key": testKey})
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestIngest_MissingFileIs404(t *testing.T) {
	e := newTestEnv(t)
	w := e.postJSON(t, "/api/ingest", map[string]string{"filename": "gone.json", "key": testKey})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngest_KeyCheckedBeforeFilename(t *testing.T) {
	e := newTestEnv(t)
	w := e.postJSON(t, "/api/ingest", map[string]string{"filename": "../../etc/passwd", "key": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSearch(t *testing.T) {
	e := newTestEnv(t)
	e.writeSnapshot(t, "2025-07-12-12-00-00.json", time.Date(2025, 7, 12, 12, 0, 0, 0, time.UTC), snapshotItems("pub.copilot", "pub.other"))
	e.get(t, "/api/auto-sync?key="+testKey)

	w := e.get(t, "/api/search?q=copilot")
	require.Equal(t, http.StatusOK, w.Code)
	extensions := decodeBody(t, w)["extensions"].([]any)
	require.Len(t, extensions, 1)
	first := extensions[0].(map[string]any)
	assert.Equal(t, "pub.copilot", first["extension_id"])
}

func TestSearch_QueryTooShort(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/search?q=a")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompare(t *testing.T) {
	e := newTestEnv(t)
	now := time.Now()
	e.writeSnapshot(t, "recent-1.json", now.Add(-72*time.Hour), snapshotItems("pub.a", "pub.b"))
	e.writeSnapshot(t, "recent-2.json", now.Add(-24*time.Hour), snapshotItems("pub.a", "pub.b"))
	e.get(t, "/api/auto-sync?key="+testKey)

	w := e.get(t, "/api/compare?extension_ids=pub.a,pub.b&days=7")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["total_extensions"])
	assert.Equal(t, float64(7), body["days"])
	extensions := body["extensions"].([]any)
	require.Len(t, extensions, 2)
	first := extensions[0].(map[string]any)
	series := first["time_series"].([]any)
	assert.Len(t, series, 2)
}

func TestCompare_Validation(t *testing.T) {
	e := newTestEnv(t)

	w := e.get(t, "/api/compare?extension_ids=")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ids := make([]string, 11)
	for i := range ids {
		ids[i] = fmt.Sprintf("pub.ext-%d", i)
	}
	w = e.get(t, "/api/compare?extension_ids="+strings.Join(ids, ","))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.get(t, "/api/compare?extension_ids=pub.a&days=5")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = e.get(t, "/api/compare?extension_ids=pub.a&days=120")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompare_UnknownExtensionIs404(t *testing.T) {
	e := newTestEnv(t)
	now := time.Now()
	e.writeSnapshot(t, "recent.json", now.Add(-24*time.Hour), snapshotItems("pub.a"))
	e.get(t, "/api/auto-sync?key="+testKey)

	w := e.get(t, "/api/compare?extension_ids=pub.a,pub.missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "pub.missing")
}

func TestFetch_DryRun(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/fetch?key="+testKey+"&dryrun=1")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["dry_run"])
	assert.Len(t, body["would_create"], 2)
	assert.Equal(t, 0, e.source.calls)
}

func TestDownload_MissingArchiveIs404(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/download?key="+testKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "data.tar")
}

func TestDownload_ServesArchive(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, os.WriteFile(e.exportPath, []byte("tar bytes"), 0o644))

	w := e.get(t, "/api/download?key="+testKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-tar", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "data.tar")
	assert.Equal(t, "tar bytes", w.Body.String())
}

func TestFetch_WritesSnapshot(t *testing.T) {
	e := newTestEnv(t)
	installs := int64(9000)
	e.source.extensions = []marketplace.Extension{{ExtensionID: "pub.live", Name: "Live", InstallCount: &installs}}

	w := e.get(t, "/api/fetch?key="+testKey)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["extensions"])
	assert.Equal(t, 1, e.source.calls)

	snapshot, ok := body["snapshot_file"].(string)
	require.True(t, ok)
	_, err := os.Stat(filepath.Join(e.dataDir, snapshot))
	assert.NoError(t, err)

	// A second trigger inside the fetch window reuses the existing data.
	w = e.get(t, "/api/fetch?key="+testKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["skipped"])
	assert.Equal(t, 1, e.source.calls)
}
