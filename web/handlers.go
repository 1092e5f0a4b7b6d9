package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vscode-stats/stats"
)

// Handler bundles the dependencies the HTTP layer needs. All state is
// injected; handlers hold no globals.
type Handler struct {
	store      *stats.Store
	syncer     *stats.Syncer
	ingestor   *stats.Ingestor
	fetcher    *stats.Fetcher
	keys       Keyring
	dataDir    string
	exportPath string
	log        *slog.Logger
}

func NewHandler(store *stats.Store, syncer *stats.Syncer, ingestor *stats.Ingestor, fetcher *stats.Fetcher, keys Keyring, dataDir, exportPath string, log *slog.Logger) *Handler {
	return &Handler{
		store:      store,
		syncer:     syncer,
		ingestor:   ingestor,
		fetcher:    fetcher,
		keys:       keys,
		dataDir:    dataDir,
		exportPath: exportPath,
		log:        log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	var authErr *stats.AuthorizationError
	var nfErr *stats.NotFoundError
	var parseErr *stats.ParseError
	var schemaErr *stats.SchemaError
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &nfErr):
		return http.StatusNotFound
	case errors.As(err, &parseErr), errors.As(err, &schemaErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// authorize validates the client key from the query string (or request body
// field) before any other work happens.
func (h *Handler) authorize(w http.ResponseWriter, key string) bool {
	if err := h.keys.Validate(key); err != nil {
		h.log.Warn("rejected client key", "reason", err.Error())
		writeError(w, err)
		return false
	}
	return true
}

func dryRunParam(r *http.Request) bool {
	return r.URL.Query().Get("dryrun") == "1"
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "connected"})
}

// Extensions lists the latest stats per extension.
func (h *Handler) Extensions(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.LatestPerExtension(100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"extensions": out})
}

// Search serves autocomplete over name, publisher, and extension id.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "search query must be at least 2 characters"})
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= 50 {
			limit = n
		}
	}
	out, err := h.store.SearchExtensions(q, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"extensions": out})
}

type compareExtension struct {
	ExtensionID string             `json:"extension_id"`
	Name        string             `json:"name"`
	Publisher   string             `json:"publisher"`
	TimeSeries  []stats.SeriesPoint `json:"time_series"`
}

// Compare returns per-day install series for up to 10 extensions.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, raw := range strings.Split(r.URL.Query().Get("extension_ids"), ",") {
		if id := strings.TrimSpace(raw); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one extension ID is required"})
		return
	}
	if len(ids) > 10 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "maximum 10 extensions can be compared at once"})
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 7 || n > 90 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be between 7 and 90"})
			return
		}
		days = n
	}

	points, err := h.store.InstallSeries(ids, days)
	if err != nil {
		writeError(w, err)
		return
	}

	byID := make(map[string]*compareExtension)
	var order []string
	for _, p := range points {
		ext, ok := byID[p.ExtensionID]
		if !ok {
			ext = &compareExtension{ExtensionID: p.ExtensionID, Name: p.Name, Publisher: p.Publisher}
			byID[p.ExtensionID] = ext
			order = append(order, p.ExtensionID)
		}
		ext.TimeSeries = append(ext.TimeSeries, p)
	}

	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "extensions not found: " + strings.Join(missing, ", ")})
		return
	}

	out := make([]compareExtension, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"extensions":       out,
		"days":             days,
		"total_extensions": len(out),
	})
}

// Fetch triggers the eager acquisition path.
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r.URL.Query().Get("key")) {
		return
	}
	res, err := h.fetcher.Fetch(r.Context(), dryRunParam(r))
	if err != nil {
		h.log.Error("fetch failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Download streams the packaged data.tar export to an authenticated client.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r.URL.Query().Get("key")) {
		return
	}
	if _, err := os.Stat(h.exportPath); err != nil {
		h.log.Error("export archive missing", "path", h.exportPath)
		writeError(w, &stats.NotFoundError{Name: filepath.Base(h.exportPath)})
		return
	}
	w.Header().Set("Content-Type", "application/x-tar")
	w.Header().Set("Content-Disposition", `attachment; filename="data.tar"`)
	http.ServeFile(w, r, h.exportPath)
}

// SyncStatus reports the resolver's view without ingesting anything.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r.URL.Query().Get("key")) {
		return
	}

	latest, err := h.store.LatestCapturedAt()
	if err != nil {
		writeError(w, err)
		return
	}
	unprocessed, err := stats.UnprocessedFiles(h.dataDir, h.syncer.ArchiveDir(), latest)
	if err != nil {
		writeError(w, err)
		return
	}
	// All snapshot files on disk, processed or not; sentinel excluded.
	allFiles, err := stats.UnprocessedFiles(h.dataDir, "", nil)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"status":            "success",
		"timestamp":         time.Now().Format(time.RFC3339),
		"total_json_files":  len(allFiles),
		"unprocessed_files": unprocessed,
		"unprocessed_count": len(unprocessed),
		"dry_run":           dryRunParam(r),
	}
	if latest != nil {
		resp["latest_db_record"] = latest.Format(time.RFC3339)
	} else {
		resp["latest_db_record"] = nil
		resp["warning"] = "no records found in database - all files considered unprocessed"
	}
	writeJSON(w, http.StatusOK, resp)
}

// AutoSync runs one full orchestrated sync cycle.
func (h *Handler) AutoSync(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r.URL.Query().Get("key")) {
		return
	}
	summary, err := h.syncer.Sync(dryRunParam(r))
	if err != nil {
		h.log.Error("auto-sync failed", "error", err)
		writeError(w, err)
		return
	}
	h.log.Info("auto-sync finished",
		"status", string(summary.Status),
		"files_processed", summary.FilesProcessed,
		"files_failed", summary.FilesFailed,
		"total_records", summary.TotalRecords)
	writeJSON(w, http.StatusOK, summary)
}

type ingestRequest struct {
	Filename string `json:"filename"`
	Key      string `json:"key"`
}

// Ingest processes one named snapshot file from the data directory.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !h.authorize(w, req.Key) {
		return
	}
	if !strings.HasSuffix(req.Filename, ".json") || strings.ContainsAny(req.Filename, "/\\") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "filename must be a bare .json name"})
		return
	}

	res, err := h.ingestor.Ingest(filepath.Join(h.dataDir, req.Filename))
	if err != nil {
		h.log.Error("ingest failed", "filename", req.Filename, "error", err)
		writeError(w, err)
		return
	}

	status := "success"
	message := "file ingested successfully"
	if res.Outcome == stats.OutcomeAlreadyExists {
		status = "already_exists"
		message = "data from " + res.CapturedAt.Format(time.RFC3339) + " already exists in database"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"message":          message,
		"filename":         req.Filename,
		"timestamp":        res.CapturedAt.Format(time.RFC3339),
		"records_inserted": res.RowsInserted,
	})
}
