package stats

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

type SyncStatus string

const (
	// StatusSuccess: every discovered file ingested (or nothing to do).
	StatusSuccess SyncStatus = "success"
	// StatusPartial: some files ingested, some failed.
	StatusPartial SyncStatus = "partial"
	// StatusError: every discovered file failed.
	StatusError SyncStatus = "error"
)

// FileFailure records one file the sync cycle could not ingest, with enough
// detail for operator triage.
type FileFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// SyncSummary is the outcome of one sync cycle. Partial failure is an
// expected, first-class result.
type SyncSummary struct {
	Status         SyncStatus    `json:"status"`
	Timestamp      time.Time     `json:"timestamp"`
	LatestDBRecord *time.Time    `json:"latest_db_record"`
	FilesFound     int           `json:"files_found"`
	FilesProcessed int           `json:"files_processed"`
	FilesFailed    int           `json:"files_failed"`
	TotalRecords   int           `json:"total_records"`
	DryRun         bool          `json:"dry_run"`
	Message        string        `json:"message"`
	FilesToProcess []string      `json:"files_to_process,omitempty"`
	FailedFiles    []FileFailure `json:"failed_files,omitempty"`
}

// Syncer drives one end-to-end cycle: resolve unprocessed files, ingest each,
// optionally archive, and account for partial failures.
type Syncer struct {
	store    *Store
	ingestor *Ingestor
	dataDir  string
	// archiveDir is always consulted by the resolver; files are only moved
	// there when archiveAfterIngest is set (the batch CLI path). The HTTP
	// path leaves files in place and relies on the timestamp comparison.
	archiveDir         string
	archiveAfterIngest bool
	debug              bool
}

func NewSyncer(store *Store, ingestor *Ingestor, dataDir, archiveDir string, archiveAfterIngest bool, debug bool) *Syncer {
	return &Syncer{
		store:              store,
		ingestor:           ingestor,
		dataDir:            dataDir,
		archiveDir:         archiveDir,
		archiveAfterIngest: archiveAfterIngest,
		debug:              debug,
	}
}

// ArchiveDir is the directory whose membership marks files as processed.
func (s *Syncer) ArchiveDir() string { return s.archiveDir }

func (s *Syncer) debugf(format string, args ...any) {
	if s == nil || !s.debug {
		return
	}
	log.Printf(format, args...)
}

// Sync runs one cycle. Per-file errors are recorded in the summary and never
// abort the batch; only discovery or database-connectivity failures return a
// non-nil error, since no partial progress is safe to assume after those.
func (s *Syncer) Sync(dryRun bool) (SyncSummary, error) {
	latest, err := s.store.LatestCapturedAt()
	if err != nil {
		return SyncSummary{}, err
	}

	files, err := UnprocessedFiles(s.dataDir, s.archiveDir, latest)
	if err != nil {
		return SyncSummary{}, err
	}

	sum := SyncSummary{
		Status:         StatusSuccess,
		Timestamp:      time.Now().In(canonicalZone),
		LatestDBRecord: latest,
		FilesFound:     len(files),
		DryRun:         dryRun,
	}

	if len(files) == 0 {
		sum.Message = "no unprocessed files found"
		return sum, nil
	}

	if dryRun {
		sum.Message = fmt.Sprintf("would process %d files", len(files))
		sum.FilesToProcess = files
		return sum, nil
	}

	for _, name := range files {
		path := filepath.Join(s.dataDir, name)
		if _, err := os.Stat(path); err != nil {
			s.debugf("sync: file vanished before ingest: %q", name)
			sum.FilesFailed++
			sum.FailedFiles = append(sum.FailedFiles, FileFailure{Filename: name, Error: "file not found"})
			continue
		}

		res, err := s.ingestor.Ingest(path)
		if err != nil {
			log.Printf("sync: ingest %s: %v", name, err)
			sum.FilesFailed++
			sum.FailedFiles = append(sum.FailedFiles, FileFailure{Filename: name, Error: err.Error()})
			continue
		}

		sum.FilesProcessed++
		sum.TotalRecords += res.RowsInserted

		if s.archiveAfterIngest && s.archiveDir != "" {
			// Not atomic with the insert. A crash or move failure here
			// leaves a file the resolver's timestamp check still skips.
			if dst, err := ArchiveFile(path, s.archiveDir); err != nil {
				log.Printf("sync: archive %s: %v", name, err)
			} else {
				s.debugf("sync: archived %q -> %q", name, dst)
			}
		}
	}

	switch {
	case sum.FilesFailed > 0 && sum.FilesProcessed > 0:
		sum.Status = StatusPartial
		sum.Message = fmt.Sprintf("processed %d files, %d failed", sum.FilesProcessed, sum.FilesFailed)
	case sum.FilesFailed > 0:
		sum.Status = StatusError
		sum.Message = fmt.Sprintf("all %d files failed to process", sum.FilesFailed)
	default:
		sum.Message = fmt.Sprintf("successfully processed %d files", sum.FilesProcessed)
	}
	return sum, nil
}
