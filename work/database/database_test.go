package database

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "teslatv.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teslatv.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatal(err)
	}
	if applied != 2 {
		t.Fatalf("applied migrations = %d", applied)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats["metadata_count"] != 0 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if _, ok, err := db.GetMetadata("Inception", 0); ok || err != nil {
		t.Fatalf("missing row: ok=%v err=%v", ok, err)
	}

	row := MetadataRow{
		Title:  "Inception",
		Found:  true,
		Poster: "https://img/inception.jpg",
		Rating: "8.8/10",
		Genres: []string{"Action", "Sci-Fi"},
		Year:   "2010",
	}
	if err := db.PutMetadata(row); err != nil {
		t.Fatal(err)
	}

	got, ok, err := db.GetMetadata("Inception", time.Hour)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !got.Found || got.Rating != "8.8/10" || !reflect.DeepEqual(got.Genres, row.Genres) {
		t.Fatalf("row = %+v", got)
	}

	// upsert replaces
	row.Rating = "9.0/10"
	row.Genres = nil
	if err := db.PutMetadata(row); err != nil {
		t.Fatal(err)
	}
	got, _, _ = db.GetMetadata("Inception", 0)
	if got.Rating != "9.0/10" || got.Genres != nil {
		t.Fatalf("after upsert = %+v", got)
	}
}

func TestMetadataExpiryAndPurge(t *testing.T) {
	db := openTestDB(t)
	old := MetadataRow{Title: "Old", FetchedAt: time.Now().Add(-48 * time.Hour)}
	if err := db.PutMetadata(old); err != nil {
		t.Fatal(err)
	}
	if err := db.PutMetadata(MetadataRow{Title: "Fresh", Found: true}); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := db.GetMetadata("Old", 24*time.Hour); ok {
		t.Fatal("expired row reported as fresh")
	}
	n, err := db.PurgeMetadata(time.Now().Add(-24 * time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purged %d, err %v", n, err)
	}
	if _, ok, _ := db.GetMetadata("Fresh", 0); !ok {
		t.Fatal("fresh row purged")
	}
}

func TestCatalogLoadHistory(t *testing.T) {
	db := openTestDB(t)

	for i := 1; i <= keptCatalogLoads+5; i++ {
		var loadErr error
		if i%10 == 0 {
			loadErr = errors.New("upstream returned HTTP 502")
		}
		if err := db.RecordCatalogLoad("live", uint64(i), i, loadErr); err != nil {
			t.Fatal(err)
		}
	}
	db.RecordCatalogLoad("vod", 1, 3, nil)

	rows, err := db.CatalogLoads("live", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != keptCatalogLoads {
		t.Fatalf("kept %d rows", len(rows))
	}
	if rows[0].Generation != keptCatalogLoads+5 || rows[0].Catalog != "live" {
		t.Fatalf("newest row = %+v", rows[0])
	}

	rows, _ = db.CatalogLoads("live", 10)
	if len(rows) != 10 || rows[5].Error == "" {
		t.Fatalf("rows = %+v", rows)
	}
}
