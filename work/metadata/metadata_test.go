package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"

	"teslatv/work/client"
	"teslatv/work/config"
	"teslatv/work/database"
	"teslatv/work/types"
)

const placeholder = "https://img.local/placeholder.jpg"

const inceptionJSON = `{
	"Title": "Inception",
	"Year": "2010",
	"Genre": "Action, Adventure, Sci-Fi",
	"Plot": "A thief who steals corporate secrets.",
	"Poster": "https://img.local/inception.jpg",
	"Ratings": [
		{"Source": "Rotten Tomatoes", "Value": "87%"},
		{"Source": "Internet Movie Database", "Value": "8.8/10"}
	],
	"imdbRating": "8.8",
	"Response": "True"
}`

type omdbServer struct {
	srv  *httptest.Server
	hits atomic.Int32
	fail atomic.Bool
}

func newOMDbServer(t *testing.T) *omdbServer {
	t.Helper()
	o := &omdbServer{}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		if o.fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		q := r.URL.Query()
		if q.Get("apikey") != "secret" || q.Get("type") != "movie" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		switch q.Get("t") {
		case "Inception":
			w.Write([]byte(inceptionJSON))
		case "No Poster":
			w.Write([]byte(`{"Response":"True","Poster":"N/A","imdbRating":"6.1","Genre":"Drama"}`))
		case "Broken":
			w.Write([]byte(`{not json`))
		default:
			w.Write([]byte(`{"Response":"False","Error":"Movie not found!"}`))
		}
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func newTestService(t *testing.T, o *omdbServer, store Store) *Service {
	t.Helper()
	cfg := &config.Config{
		UserAgent:        "test",
		RequestTimeout:   5 * time.Second,
		CacheDuration:    time.Minute,
		MetadataBaseURL:  o.srv.URL + "/",
		MetadataAPIKey:   "secret",
		PlaceholderImage: placeholder,
	}
	pool, err := ants.NewPool(4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Release)
	return NewService(cfg, client.NewHeaderSettingClient(cfg), pool, store)
}

func TestLookupFound(t *testing.T) {
	o := newOMDbServer(t)
	svc := newTestService(t, o, nil)

	md, err := svc.Lookup(context.Background(), "Inception")
	if err != nil {
		t.Fatal(err)
	}
	want := Metadata{
		Title:  "Inception",
		Found:  true,
		Poster: "https://img.local/inception.jpg",
		Rating: "8.8/10",
		Genres: []string{"Action", "Adventure", "Sci-Fi"},
		Year:   "2010",
		Plot:   "A thief who steals corporate secrets.",
	}
	if !reflect.DeepEqual(md, want) {
		t.Fatalf("Lookup = %+v", md)
	}

	// second lookup is served from memory
	if _, err := svc.Lookup(context.Background(), "Inception"); err != nil {
		t.Fatal(err)
	}
	if o.hits.Load() != 1 {
		t.Fatalf("upstream hits = %d", o.hits.Load())
	}
}

func TestLookupPosterFallsBackToPlaceholder(t *testing.T) {
	o := newOMDbServer(t)
	svc := newTestService(t, o, nil)

	md, err := svc.Lookup(context.Background(), "No Poster")
	if err != nil {
		t.Fatal(err)
	}
	if md.Poster != placeholder || md.Rating != "6.1/10" || !md.Found {
		t.Fatalf("Lookup = %+v", md)
	}

	md, err = svc.Lookup(context.Background(), "Unknown Film")
	if err != nil {
		t.Fatal(err)
	}
	if md.Found || md.Poster != placeholder || md.Rating != NotAvailable {
		t.Fatalf("not found = %+v", md)
	}
}

func TestLookupErrors(t *testing.T) {
	o := newOMDbServer(t)
	svc := newTestService(t, o, nil)

	var lookupErr *LookupError
	_, err := svc.Lookup(context.Background(), "Broken")
	if !errors.As(err, &lookupErr) || lookupErr.Title != "Broken" {
		t.Fatalf("err = %v", err)
	}

	_, err = svc.Lookup(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("empty title err = %v", err)
	}

	o.fail.Store(true)
	md, err := svc.Lookup(context.Background(), "Inception")
	if !errors.As(err, &lookupErr) {
		t.Fatalf("err = %v", err)
	}
	if md.Poster != placeholder {
		t.Fatalf("failed lookup poster = %q", md.Poster)
	}

	svc.cfg.MetadataAPIKey = ""
	if _, err := svc.Lookup(context.Background(), "Anything"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("missing key err = %v", err)
	}
}

func TestPickRating(t *testing.T) {
	tests := []struct {
		name    string
		ratings []SourceRating
		imdb    string
		want    string
	}{
		{"imdb entry preferred", []SourceRating{{"Metacritic", "74/100"}, {imdbSource, "7.1/10"}}, "7.0", "7.1/10"},
		{"imdbRating field", []SourceRating{{"Metacritic", "74/100"}}, "7.0", "7.0/10"},
		{"first rating", []SourceRating{{"Rotten Tomatoes", "91%"}}, "N/A", "91%"},
		{"nothing", nil, "", NotAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickRating(tt.ratings, tt.imdb); got != tt.want {
				t.Errorf("PickRating = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitGenres(t *testing.T) {
	if got := SplitGenres(" Drama,Horror , ,Sci-Fi"); !reflect.DeepEqual(got, []string{"Drama", "Horror", "Sci-Fi"}) {
		t.Fatalf("SplitGenres = %q", got)
	}
	if got := SplitGenres("N/A"); got != nil {
		t.Fatalf("SplitGenres(N/A) = %q", got)
	}
}

func TestLookupPersistsAcrossServices(t *testing.T) {
	o := newOMDbServer(t)
	db, err := database.Open(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	first := newTestService(t, o, db)
	if _, err := first.Lookup(context.Background(), "Inception"); err != nil {
		t.Fatal(err)
	}

	second := newTestService(t, o, db)
	md, err := second.Lookup(context.Background(), "Inception")
	if err != nil {
		t.Fatal(err)
	}
	if md.Rating != "8.8/10" || len(md.Genres) != 3 {
		t.Fatalf("stored lookup = %+v", md)
	}
	if o.hits.Load() != 1 {
		t.Fatalf("upstream hits = %d, want 1", o.hits.Load())
	}
}

func TestEnrich(t *testing.T) {
	o := newOMDbServer(t)
	svc := newTestService(t, o, nil)

	entries := []types.ChannelEntry{
		{ID: "inception", Name: "Inception (2010) FHD", Title: "Inception"},
		{ID: "inception-2", Name: "Inception MULTI", Title: "Inception"},
		{ID: "unknown", Name: "Unknown Film", Title: "Unknown Film", LogoURL: "https://img.local/own.png"},
		{ID: "broken", Name: "Broken", Title: "Broken"},
	}
	out := svc.Enrich(context.Background(), entries)

	if len(out) != len(entries) {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].LogoURL != "https://img.local/inception.jpg" || out[0].Rating != "8.8/10" || !out[1].HasGenre("Sci-Fi") {
		t.Fatalf("enriched = %+v", out[:2])
	}
	if out[2].LogoURL != "https://img.local/own.png" || out[2].Rating != "" {
		t.Fatalf("unknown = %+v", out[2])
	}
	if out[3].LogoURL != placeholder {
		t.Fatalf("failed lookup = %+v", out[3])
	}
	if entries[0].Rating != "" {
		t.Fatal("input slice modified")
	}
	// one upstream request per distinct title
	if o.hits.Load() != 3 {
		t.Fatalf("upstream hits = %d", o.hits.Load())
	}
}
