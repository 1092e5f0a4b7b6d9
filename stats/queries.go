package stats

import "time"

// ExtensionSummary is the latest observation of one extension.
type ExtensionSummary struct {
	ExtensionID  string    `json:"extension_id"`
	Name         string    `json:"name"`
	Publisher    string    `json:"publisher"`
	InstallCount int64     `json:"install_count"`
	Rating       *float64  `json:"rating"`
	CapturedAt   time.Time `json:"captured_at"`
}

// SeriesPoint is one day of one extension's install series.
type SeriesPoint struct {
	ExtensionID  string `json:"-"`
	Name         string `json:"-"`
	Publisher    string `json:"-"`
	Day          string `json:"day"`
	InstallCount int64  `json:"install_count"`
}

// LatestPerExtension returns the most recent row per extension, highest
// install counts first.
func (s *Store) LatestPerExtension(limit int) ([]ExtensionSummary, error) {
	var out []ExtensionSummary
	err := s.db.Raw(`
		SELECT extension_id, name, publisher, install_count, rating, MAX(captured_at) AS captured_at
		FROM extension_stats
		GROUP BY extension_id
		ORDER BY install_count DESC
		LIMIT ?`, limit).Scan(&out).Error
	if err != nil {
		return nil, &StorageError{Op: "latest per extension", Err: err}
	}
	return out, nil
}

// SearchExtensions matches name, publisher, or extension id against a
// substring term, returning latest stats per match. Tiny extensions are
// filtered out to keep autocomplete useful.
func (s *Store) SearchExtensions(term string, limit int) ([]ExtensionSummary, error) {
	pattern := "%" + term + "%"
	var out []ExtensionSummary
	err := s.db.Raw(`
		SELECT extension_id, name, publisher, install_count, rating, MAX(captured_at) AS captured_at
		FROM extension_stats
		WHERE (name LIKE ? OR publisher LIKE ? OR extension_id LIKE ?)
		GROUP BY extension_id
		HAVING install_count > 100
		ORDER BY install_count DESC
		LIMIT ?`, pattern, pattern, pattern, limit).Scan(&out).Error
	if err != nil {
		return nil, &StorageError{Op: "search extensions", Err: err}
	}
	return out, nil
}

// InstallSeries returns one point per extension per day over the trailing
// window, using the day's maximum observed install count.
func (s *Store) InstallSeries(extensionIDs []string, days int) ([]SeriesPoint, error) {
	cutoff := time.Now().In(canonicalZone).AddDate(0, 0, -days)
	var out []SeriesPoint
	err := s.db.Raw(`
		SELECT extension_id, name, publisher, DATE(captured_at) AS day, MAX(install_count) AS install_count
		FROM extension_stats
		WHERE extension_id IN ? AND captured_at >= ?
		GROUP BY extension_id, DATE(captured_at)
		ORDER BY extension_id, day`, extensionIDs, cutoff).Scan(&out).Error
	if err != nil {
		return nil, &StorageError{Op: "install series", Err: err}
	}
	return out, nil
}
