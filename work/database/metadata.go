package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MetadataRow is a persisted movie metadata lookup. Found is false for titles the
// lookup service did not know, so they are not asked for again until the row expires.
type MetadataRow struct {
	Title     string
	Found     bool
	Poster    string
	Rating    string
	Genres    []string
	Year      string
	Plot      string
	FetchedAt time.Time
}

// GetMetadata returns the stored lookup for title, or ok=false when there is none or it
// is older than maxAge. A maxAge of zero accepts any age.
func (db *DB) GetMetadata(title string, maxAge time.Duration) (row MetadataRow, ok bool, err error) {
	var (
		found     int
		genres    string
		fetchedAt int64
	)
	err = db.QueryRow(`
		SELECT title, found, poster, rating, genres, year, plot, fetched_at
		FROM metadata WHERE title = ?
	`, title).Scan(&row.Title, &found, &row.Poster, &row.Rating, &genres, &row.Year, &row.Plot, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return MetadataRow{}, false, nil
	}
	if err != nil {
		return MetadataRow{}, false, fmt.Errorf("failed to load metadata: %w", err)
	}

	row.Found = found != 0
	row.Genres = splitGenres(genres)
	row.FetchedAt = time.Unix(fetchedAt, 0)
	if maxAge > 0 && time.Since(row.FetchedAt) > maxAge {
		return row, false, nil
	}
	return row, true, nil
}

// PutMetadata inserts or replaces the lookup for row.Title.
func (db *DB) PutMetadata(row MetadataRow) error {
	if row.FetchedAt.IsZero() {
		row.FetchedAt = time.Now()
	}
	found := 0
	if row.Found {
		found = 1
	}

	_, err := db.Exec(`
		INSERT INTO metadata (title, found, poster, rating, genres, year, plot, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			found = excluded.found,
			poster = excluded.poster,
			rating = excluded.rating,
			genres = excluded.genres,
			year = excluded.year,
			plot = excluded.plot,
			fetched_at = excluded.fetched_at
	`, row.Title, found, row.Poster, row.Rating, strings.Join(row.Genres, ","), row.Year, row.Plot, row.FetchedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}
	return nil
}

// PurgeMetadata deletes lookups fetched before cutoff and returns how many were removed.
func (db *DB) PurgeMetadata(cutoff time.Time) (int64, error) {
	res, err := db.Exec("DELETE FROM metadata WHERE fetched_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge metadata: %w", err)
	}
	return res.RowsAffected()
}

func splitGenres(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
