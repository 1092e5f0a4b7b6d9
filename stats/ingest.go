package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// insertBatchSize bounds how many records go into one transaction. 500 keeps
// transactions small without paying one round trip per record.
const insertBatchSize = 500

type IngestOutcome int

const (
	// OutcomeInserted means the snapshot was new and its rows were written.
	OutcomeInserted IngestOutcome = iota
	// OutcomeAlreadyExists means rows for this capture timestamp were already
	// present; the ingest was a no-op.
	OutcomeAlreadyExists
)

// IngestResult is the explicit outcome of one snapshot ingestion.
// RowsInserted counts only rows that changed table state; conflicts absorbed
// by the uniqueness constraint do not count.
type IngestResult struct {
	Outcome      IngestOutcome
	RowsInserted int
	CapturedAt   time.Time
}

// Ingestor loads one snapshot file and writes its records into the stats
// table with per-record conflict tolerance.
type Ingestor struct {
	store *Store
	debug bool
}

func NewIngestor(store *Store, debug bool) *Ingestor {
	return &Ingestor{store: store, debug: debug}
}

func (in *Ingestor) debugf(format string, args ...any) {
	if in == nil || !in.debug {
		return
	}
	log.Printf(format, args...)
}

// Ingest processes a single snapshot file. Typed failures: *NotFoundError for
// a missing file, *ParseError for bad JSON or a bad capture timestamp,
// *SchemaError for an unexpected record shape, *StorageError for database
// trouble.
func (in *Ingestor) Ingest(path string) (IngestResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return IngestResult{}, &NotFoundError{Name: path}
		}
		return IngestResult{}, err
	}

	var decoded any
	if err := json.Unmarshal(content, &decoded); err != nil {
		return IngestResult{}, &ParseError{Path: path, Err: err}
	}

	items, err := snapshotItems(decoded)
	if err != nil {
		return IngestResult{}, &SchemaError{Path: path, Detail: err.Error()}
	}

	capturedAt, err := ParseCapturedAt(decoded)
	if err != nil {
		return IngestResult{}, &ParseError{Path: path, Err: err}
	}

	// File-level idempotency pre-check. Best effort only: a concurrent
	// ingestor can race past it, and the row constraint still wins.
	exists, err := in.store.TimestampExists(capturedAt)
	if err != nil {
		return IngestResult{}, err
	}
	if exists {
		in.debugf("skip already ingested capture=%s path=%q", capturedAt.Format(time.RFC3339), path)
		return IngestResult{Outcome: OutcomeAlreadyExists, CapturedAt: capturedAt}, nil
	}

	inserted := 0
	for start := 0; start < len(items); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(items) {
			end = len(items)
		}
		n, err := in.insertBatch(items[start:end], capturedAt, path)
		if err != nil {
			return IngestResult{}, err
		}
		inserted += n
	}

	in.debugf("ingested path=%q capture=%s rows=%d records=%d", path, capturedAt.Format(time.RFC3339), inserted, len(items))
	return IngestResult{Outcome: OutcomeInserted, RowsInserted: inserted, CapturedAt: capturedAt}, nil
}

// snapshotItems accepts the nested data.items shape or a bare top-level list.
func snapshotItems(decoded any) ([]any, error) {
	switch v := decoded.(type) {
	case []any:
		return v, nil
	case map[string]any:
		data, ok := v["data"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("no data object")
		}
		items, ok := data["items"].([]any)
		if !ok {
			return nil, fmt.Errorf("data.items is not a list")
		}
		return items, nil
	default:
		return nil, fmt.Errorf("snapshot is neither an object nor a list")
	}
}

// insertBatch writes one batch inside a transaction. A conflicting row
// no-ops via the (extension_id, captured_at) constraint; a malformed or
// failing record is logged and skipped so it cannot abort the batch.
func (in *Ingestor) insertBatch(items []any, capturedAt time.Time, path string) (int, error) {
	inserted := 0
	err := in.store.db.Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			row, err := statFromRecord(item, capturedAt)
			if err != nil {
				log.Printf("skip record in %s: %v", filepath.Base(path), err)
				continue
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "extension_id"}, {Name: "captured_at"}},
				DoNothing: true,
			}).Create(&row)
			if res.Error != nil {
				log.Printf("insert %s from %s: %v", row.ExtensionID, filepath.Base(path), res.Error)
				continue
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "insert batch", Err: err}
	}
	return inserted, nil
}
