package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"

	"teslatv/work/cache"
	"teslatv/work/client"
	"teslatv/work/config"
	"teslatv/work/database"
	"teslatv/work/logger"
	"teslatv/work/metrics"
	"teslatv/work/types"
	"teslatv/work/utils"
)

// NotAvailable is the rating shown when the lookup service has none.
const NotAvailable = "N/A"

// imdbSource is the Ratings source preferred for the displayed rating.
const imdbSource = "Internet Movie Database"

// storedMaxAge bounds how long persisted lookups are trusted.
const storedMaxAge = 30 * 24 * time.Hour

var (
	ErrEmptyTitle    = errors.New("empty title")
	ErrMissingAPIKey = errors.New("metadata API key not configured")
)

// Metadata is the enrichment data for one movie title.
type Metadata struct {
	Title  string   `json:"title"`
	Found  bool     `json:"found"`
	Poster string   `json:"poster"`
	Rating string   `json:"rating"`
	Genres []string `json:"genres,omitempty"`
	Year   string   `json:"year,omitempty"`
	Plot   string   `json:"plot,omitempty"`
}

// LookupError is returned when a title could not be looked up. It never aborts
// enrichment: the entry keeps its placeholder values.
type LookupError struct {
	Title string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("metadata lookup for %q failed: %v", e.Title, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Store persists lookups across restarts. *database.DB implements it.
type Store interface {
	GetMetadata(title string, maxAge time.Duration) (database.MetadataRow, bool, error)
	PutMetadata(row database.MetadataRow) error
	PurgeMetadata(cutoff time.Time) (int64, error)
}

// SourceRating is one entry of the Ratings array.
type SourceRating struct {
	Source string `json:"Source"`
	Value  string `json:"Value"`
}

type omdbResponse struct {
	Response   string         `json:"Response"`
	Error      string         `json:"Error"`
	Title      string         `json:"Title"`
	Year       string         `json:"Year"`
	Genre      string         `json:"Genre"`
	Plot       string         `json:"Plot"`
	Poster     string         `json:"Poster"`
	ImdbRating string         `json:"imdbRating"`
	Ratings    []SourceRating `json:"Ratings"`
}

// Service looks up movie posters, ratings and genres from an OMDb compatible endpoint.
// Results are kept in memory and, when a Store is set, in the database.
type Service struct {
	cfg     *config.Config
	client  *client.HeaderSettingClient
	pool    *ants.Pool
	limiter ratelimit.Limiter
	memory  *cache.Cache[Metadata]
	store   Store
}

// NewService creates a lookup service. pool and store may be nil.
func NewService(cfg *config.Config, httpClient *client.HeaderSettingClient, pool *ants.Pool, store Store) *Service {
	limiter := ratelimit.NewUnlimited()
	if cfg.MetadataRateLimit > 0 {
		limiter = ratelimit.New(cfg.MetadataRateLimit)
	}
	ttl := cfg.CacheDuration
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Service{
		cfg:     cfg,
		client:  httpClient,
		pool:    pool,
		limiter: limiter,
		memory:  cache.NewCache[Metadata](5000, ttl),
		store:   store,
	}
}

// Lookup returns the metadata for title. A title the service does not know is not an
// error: it yields Found=false with the placeholder poster.
func (s *Service) Lookup(ctx context.Context, title string) (Metadata, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return s.placeholder(title), &LookupError{Title: title, Err: ErrEmptyTitle}
	}

	if md, ok := s.memory.Get(title); ok {
		metrics.MetadataLookups.WithLabelValues("hit").Inc()
		return md, nil
	}

	if s.store != nil {
		row, ok, err := s.store.GetMetadata(title, storedMaxAge)
		if err != nil {
			logger.Warn("{metadata - Lookup} %v", err)
		} else if ok {
			md := fromRow(row)
			s.memory.Set(title, md)
			metrics.MetadataLookups.WithLabelValues("stored").Inc()
			return md, nil
		}
	}

	if s.cfg.MetadataAPIKey == "" {
		return s.placeholder(title), &LookupError{Title: title, Err: ErrMissingAPIKey}
	}

	md, err := s.fetch(ctx, title)
	if err != nil {
		metrics.MetadataLookups.WithLabelValues("error").Inc()
		logger.Debug("{metadata - Lookup} %v", err)
		return s.placeholder(title), err
	}

	if md.Found {
		metrics.MetadataLookups.WithLabelValues("fetched").Inc()
	} else {
		metrics.MetadataLookups.WithLabelValues("not_found").Inc()
	}
	s.memory.Set(title, md)
	if s.store != nil {
		if err := s.store.PutMetadata(toRow(md)); err != nil {
			logger.Warn("{metadata - Lookup} %v", err)
		}
	}
	return md, nil
}

func (s *Service) fetch(ctx context.Context, title string) (Metadata, error) {
	lookupURL, err := s.lookupURL(title)
	if err != nil {
		return Metadata{}, &LookupError{Title: title, Err: err}
	}

	s.limiter.Take()

	fetchCtx := ctx
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	logger.Debug("{metadata - fetch} looking up %q via %s", title, utils.LogURL(s.cfg, s.cfg.MetadataBaseURL))
	body, err := s.client.Fetch(fetchCtx, lookupURL, 1<<20)
	if err != nil {
		return Metadata{}, &LookupError{Title: title, Err: err}
	}

	var resp omdbResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Metadata{}, &LookupError{Title: title, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return s.convert(title, resp), nil
}

func (s *Service) lookupURL(title string) (string, error) {
	u, err := url.Parse(s.cfg.MetadataBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid metadata base URL: %w", err)
	}
	q := u.Query()
	q.Set("apikey", s.cfg.MetadataAPIKey)
	q.Set("t", title)
	q.Set("type", "movie")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Service) convert(title string, resp omdbResponse) Metadata {
	if resp.Response != "True" {
		logger.Debug("{metadata - convert} no match for %q: %s", title, resp.Error)
		return s.placeholder(title)
	}

	md := Metadata{
		Title:  title,
		Found:  true,
		Poster: s.cfg.PlaceholderImage,
		Rating: PickRating(resp.Ratings, resp.ImdbRating),
		Genres: SplitGenres(resp.Genre),
		Year:   orEmpty(resp.Year),
		Plot:   orEmpty(resp.Plot),
	}
	if resp.Poster != "" && resp.Poster != NotAvailable {
		md.Poster = resp.Poster
	}
	return md
}

func (s *Service) placeholder(title string) Metadata {
	return Metadata{Title: title, Poster: s.cfg.PlaceholderImage, Rating: NotAvailable}
}

// PickRating prefers the IMDb entry of ratings, then imdbRating out of ten, then the
// first rating of any source.
func PickRating(ratings []SourceRating, imdbRating string) string {
	for _, r := range ratings {
		if r.Source == imdbSource && r.Value != "" {
			return r.Value
		}
	}
	if imdbRating != "" && imdbRating != NotAvailable {
		return imdbRating + "/10"
	}
	if len(ratings) > 0 && ratings[0].Value != "" {
		return ratings[0].Value
	}
	return NotAvailable
}

// SplitGenres turns "Drama, Horror, Sci-Fi" into its trimmed parts.
func SplitGenres(genre string) []string {
	if genre == "" || genre == NotAvailable {
		return nil
	}
	var out []string
	for _, g := range strings.Split(genre, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

func orEmpty(s string) string {
	if s == NotAvailable {
		return ""
	}
	return s
}

// Enrich looks up every distinct title of entries on the worker pool and returns a
// new slice carrying posters, ratings and genres. Entries whose lookup fails keep
// their own logo, or get the placeholder image when they have none.
func (s *Service) Enrich(ctx context.Context, entries []types.ChannelEntry) []types.ChannelEntry {
	out := make([]types.ChannelEntry, len(entries))
	copy(out, entries)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Metadata)
		failed  int
	)

	seen := make(map[string]bool)
	for _, e := range entries {
		title := e.DisplayTitle()
		if seen[title] {
			continue
		}
		seen[title] = true

		wg.Add(1)
		task := func() {
			defer wg.Done()
			md, err := s.Lookup(ctx, title)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return
			}
			results[title] = md
		}
		if s.pool == nil {
			go task()
			continue
		}
		if err := s.pool.Submit(task); err != nil {
			go task()
		}
	}
	wg.Wait()

	for i := range out {
		md, ok := results[out[i].DisplayTitle()]
		if ok && md.Found {
			out[i].LogoURL = md.Poster
			if md.Rating != NotAvailable {
				out[i].Rating = md.Rating
			}
			out[i].Genres = md.Genres
			continue
		}
		if out[i].LogoURL == "" {
			out[i].LogoURL = s.cfg.PlaceholderImage
		}
	}

	if failed > 0 {
		logger.Warn("{metadata - Enrich} %d of %d lookups failed", failed, len(seen))
	}
	logger.Debug("{metadata - Enrich} enriched %d entries (%d titles)", len(out), len(seen))
	return out
}

// Purge drops persisted lookups that are too old to be trusted.
func (s *Service) Purge() {
	if s.store == nil {
		return
	}
	n, err := s.store.PurgeMetadata(time.Now().Add(-storedMaxAge))
	if err != nil {
		logger.Warn("{metadata - Purge} %v", err)
		return
	}
	if n > 0 {
		logger.Info("{metadata - Purge} removed %d stale lookups", n)
	}
}

// Clear forgets every lookup held in memory.
func (s *Service) Clear() {
	s.memory.Clear()
}

func fromRow(row database.MetadataRow) Metadata {
	return Metadata{
		Title:  row.Title,
		Found:  row.Found,
		Poster: row.Poster,
		Rating: row.Rating,
		Genres: row.Genres,
		Year:   row.Year,
		Plot:   row.Plot,
	}
}

func toRow(md Metadata) database.MetadataRow {
	return database.MetadataRow{
		Title:     md.Title,
		Found:     md.Found,
		Poster:    md.Poster,
		Rating:    md.Rating,
		Genres:    md.Genres,
		Year:      md.Year,
		Plot:      md.Plot,
		FetchedAt: time.Now(),
	}
}
