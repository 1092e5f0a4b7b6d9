package stats

import (
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the explicitly constructed database handle shared by the pipeline
// and the HTTP layer. Callers own its lifecycle: OpenDB then Close.
type Store struct {
	db *gorm.DB
}

func OpenDB(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ExtensionStat{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// LatestCapturedAt returns the newest capture timestamp in the stats table,
// or nil when the table is empty.
func (s *Store) LatestCapturedAt() (*time.Time, error) {
	var st ExtensionStat
	err := s.db.Order("captured_at DESC").First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "latest captured_at", Err: err}
	}
	ts := st.CapturedAt.In(canonicalZone)
	return &ts, nil
}

// TimestampExists reports whether any row was captured at exactly ts. It is
// the ingestor's file-level idempotency pre-check; the row constraint remains
// the actual correctness guard.
func (s *Store) TimestampExists(ts time.Time) (bool, error) {
	var n int64
	if err := s.db.Model(&ExtensionStat{}).Where("captured_at = ?", ts).Count(&n).Error; err != nil {
		return false, &StorageError{Op: "timestamp exists", Err: err}
	}
	return n > 0, nil
}
