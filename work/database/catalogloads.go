package database

import (
	"fmt"
	"time"
)

// CatalogLoadRow is one recorded catalog load attempt.
type CatalogLoadRow struct {
	ID         int64     `json:"id"`
	Catalog    string    `json:"catalog"`
	Generation uint64    `json:"generation"`
	Entries    int       `json:"entries"`
	Error      string    `json:"error,omitempty"`
	LoadedAt   time.Time `json:"loadedAt"`
}

// keptCatalogLoads is how many history rows are kept per catalog.
const keptCatalogLoads = 50

// RecordCatalogLoad appends a load attempt to the history of catalog and trims old rows.
func (db *DB) RecordCatalogLoad(catalog string, generation uint64, entries int, loadErr error) error {
	errText := ""
	if loadErr != nil {
		errText = loadErr.Error()
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO catalog_loads (catalog, generation, entries, error, loaded_at)
		VALUES (?, ?, ?, ?, ?)
	`, catalog, int64(generation), entries, errText, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record catalog load: %w", err)
	}

	_, err = tx.Exec(`
		DELETE FROM catalog_loads
		WHERE catalog = ? AND id NOT IN (
			SELECT id FROM catalog_loads WHERE catalog = ? ORDER BY id DESC LIMIT ?
		)
	`, catalog, catalog, keptCatalogLoads)
	if err != nil {
		return fmt.Errorf("failed to trim catalog history: %w", err)
	}

	return tx.Commit()
}

// CatalogLoads returns the most recent load attempts of catalog, newest first.
func (db *DB) CatalogLoads(catalog string, limit int) ([]CatalogLoadRow, error) {
	if limit <= 0 || limit > keptCatalogLoads {
		limit = keptCatalogLoads
	}

	rows, err := db.Query(`
		SELECT id, catalog, generation, entries, error, loaded_at
		FROM catalog_loads WHERE catalog = ?
		ORDER BY id DESC LIMIT ?
	`, catalog, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog history: %w", err)
	}
	defer rows.Close()

	var out []CatalogLoadRow
	for rows.Next() {
		var (
			r          CatalogLoadRow
			generation int64
			loadedAt   int64
		)
		if err := rows.Scan(&r.ID, &r.Catalog, &generation, &r.Entries, &r.Error, &loadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan catalog history: %w", err)
		}
		r.Generation = uint64(generation)
		r.LoadedAt = time.Unix(loadedAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
