package stats

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExtensionStat is one marketplace observation of one extension. The
// composite unique index makes (extension_id, captured_at) the durable
// deduplication guard: re-ingesting a snapshot can never create a second row
// for the same key.
type ExtensionStat struct {
	ID           uint     `gorm:"primaryKey" json:"-"`
	ExtensionID  string   `gorm:"uniqueIndex:uniq_ext_captured;size:256" json:"extension_id"`
	Name         string   `gorm:"index;size:256" json:"name"`
	Publisher    string   `gorm:"index;size:256" json:"publisher"`
	Description  string   `gorm:"type:text" json:"description"`
	Version      string   `gorm:"size:64" json:"version"`
	InstallCount int64    `gorm:"index" json:"install_count"`
	Rating       *float64 `gorm:"index" json:"rating"`
	RatingCount  int64    `json:"rating_count"`
	// Tags and Categories hold JSON-encoded string arrays.
	Tags       string    `gorm:"type:text" json:"tags"`
	Categories string    `gorm:"type:text" json:"categories"`
	CapturedAt time.Time `gorm:"uniqueIndex:uniq_ext_captured;index" json:"captured_at"`
}

func (ExtensionStat) TableName() string { return "extension_stats" }

// statFromRecord maps one decoded snapshot record onto a row. Snapshots from
// different fetcher generations use extension_id/id and install_count/installs
// interchangeably; missing optional fields default rather than block the row.
func statFromRecord(item any, capturedAt time.Time) (ExtensionStat, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return ExtensionStat{}, fmt.Errorf("record is not an object")
	}
	st := ExtensionStat{
		ExtensionID:  stringField(m, "extension_id", "id"),
		Name:         stringField(m, "name"),
		Publisher:    stringField(m, "publisher"),
		Description:  stringField(m, "description"),
		Version:      stringField(m, "version"),
		InstallCount: intField(m, "install_count", "installs"),
		RatingCount:  intField(m, "rating_count"),
		Tags:         jsonListField(m, "tags"),
		Categories:   jsonListField(m, "categories"),
		CapturedAt:   capturedAt,
	}
	if v, ok := m["rating"].(float64); ok {
		st.Rating = &v
	}
	return st, nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func intField(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func jsonListField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
