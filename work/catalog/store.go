package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"teslatv/work/cache"
	"teslatv/work/client"
	"teslatv/work/config"
	"teslatv/work/logger"
	"teslatv/work/metrics"
	"teslatv/work/types"
	"teslatv/work/utils"
)

// Enricher adds metadata (posters, ratings, genres) to catalog entries. It must return
// a new slice and leave its input untouched.
type Enricher interface {
	Enrich(ctx context.Context, entries []types.ChannelEntry) []types.ChannelEntry
}

// Recorder keeps a history of load attempts. *database.DB implements it.
type Recorder interface {
	RecordCatalogLoad(catalog string, generation uint64, entries int, loadErr error) error
}

// Catalog is an immutable snapshot of one loaded catalog. A reload publishes a new
// snapshot; readers holding an old one keep a consistent view.
type Catalog struct {
	Config     config.CatalogConfig
	Entries    []types.ChannelEntry
	Generation uint64
	LoadedAt   time.Time
	LastError  error
}

// Info summarises the snapshot for the API.
func (c *Catalog) Info() types.CatalogInfo {
	info := types.CatalogInfo{
		Name:       c.Config.Name,
		Title:      c.Config.Title,
		Kind:       c.Config.Kind,
		Hidden:     c.Config.Hidden,
		Entries:    len(c.Entries),
		Generation: c.Generation,
	}
	if !c.LoadedAt.IsZero() {
		info.LoadedAt = c.LoadedAt.Format(time.RFC3339)
	}
	if c.LastError != nil {
		info.LastError = c.LastError.Error()
	}
	return info
}

// Store is the process-wide catalog registry. Every catalog is replaced wholesale on
// reload and carries a generation number that increases with each publication.
type Store struct {
	cfg        *config.Config
	client     *client.HeaderSettingClient
	pool       *ants.Pool
	payloads   *cache.Cache[[]byte]
	enricher   Enricher
	recorder   Recorder
	catalogs   *xsync.MapOf[string, *Catalog]
	generation atomic.Uint64
	mu         sync.Mutex
	stopChan   chan struct{}
}

// NewStore creates an empty store. payloads caches raw catalog bodies by URL so a
// config reload does not refetch unchanged sources.
func NewStore(cfg *config.Config, httpClient *client.HeaderSettingClient, pool *ants.Pool, payloads *cache.Cache[[]byte]) *Store {
	return &Store{
		cfg:      cfg,
		client:   httpClient,
		pool:     pool,
		payloads: payloads,
		catalogs: xsync.NewMapOf[string, *Catalog](),
	}
}

// SetEnricher installs the metadata enricher used for catalogs with enrich enabled.
func (s *Store) SetEnricher(e Enricher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enricher = e
}

// SetRecorder installs the load history recorder.
func (s *Store) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// SetConfig swaps the configuration after a restart. Catalogs no longer configured
// are dropped.
func (s *Store) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.catalogs.Range(func(name string, _ *Catalog) bool {
		if cfg.Catalog(name) == nil {
			s.catalogs.Delete(name)
		}
		return true
	})
}

func (s *Store) config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Get returns the current snapshot of a configured catalog. A configured catalog
// that has never loaded yields an empty snapshot.
func (s *Store) Get(name string) (*Catalog, error) {
	cfg := s.config()
	cc := cfg.Catalog(name)
	if cc == nil {
		return nil, ErrUnknownCatalog
	}
	if c, ok := s.catalogs.Load(name); ok {
		return c, nil
	}
	return &Catalog{Config: *cc}, nil
}

// List returns every configured catalog in config order.
func (s *Store) List() []types.CatalogInfo {
	cfg := s.config()
	out := make([]types.CatalogInfo, 0, len(cfg.Catalogs))
	for _, cc := range cfg.Catalogs {
		c, err := s.Get(cc.Name)
		if err != nil {
			continue
		}
		out = append(out, c.Info())
	}
	return out
}

// Reload fetches one catalog and publishes it. With force unset a cached payload is
// reused. A failed load keeps the previous entries (empty on first load) and records
// the error on the snapshot; the error is also returned.
func (s *Store) Reload(ctx context.Context, name string, force bool) error {
	cfg := s.config()
	cc := cfg.Catalog(name)
	if cc == nil {
		return ErrUnknownCatalog
	}
	src := *cc

	entries, err := s.load(ctx, src, force)
	if err != nil {
		metrics.CatalogLoads.WithLabelValues(src.Name, "error").Inc()
		logger.Warn("{catalog/store - Reload} %v", err)

		previous, _ := s.catalogs.Load(src.Name)
		failed := &Catalog{Config: src, Generation: s.generation.Add(1), LastError: err}
		if previous != nil {
			failed.Entries = previous.Entries
			failed.LoadedAt = previous.LoadedAt
		}
		s.catalogs.Store(src.Name, failed)
		s.record(failed)
		return err
	}

	snapshot := s.publish(src, entries)
	s.record(snapshot)
	metrics.CatalogLoads.WithLabelValues(src.Name, "ok").Inc()
	logger.Info("{catalog/store - Reload} loaded %d entries for %s (generation %d)", len(entries), src.Name, snapshot.Generation)

	s.mu.Lock()
	enricher := s.enricher
	s.mu.Unlock()
	if src.Enrich && enricher != nil && len(entries) > 0 {
		go s.enrich(enricher, snapshot)
	}
	return nil
}

func (s *Store) record(c *Catalog) {
	s.mu.Lock()
	recorder := s.recorder
	s.mu.Unlock()
	if recorder == nil {
		return
	}
	if err := recorder.RecordCatalogLoad(c.Config.Name, c.Generation, len(c.Entries), c.LastError); err != nil {
		logger.Warn("{catalog/store - record} %v", err)
	}
}

func (s *Store) load(ctx context.Context, src config.CatalogConfig, force bool) ([]types.ChannelEntry, error) {
	payload, cached := []byte(nil), false
	if !force && s.payloads != nil {
		payload, cached = s.payloads.Get(src.URL)
	}

	if !cached {
		cfg := s.config()
		fetchCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()

		logger.Debug("{catalog/store - load} fetching %s", utils.LogURL(cfg, src.URL))
		var err error
		payload, err = fetchPayload(fetchCtx, s.client, src.URL)
		if err != nil {
			return nil, &LoadError{Catalog: src.Name, URL: src.URL, Err: err}
		}
	}

	entries, err := Decode(payload, src.Format, src.Kind)
	if err != nil {
		return nil, &LoadError{Catalog: src.Name, URL: src.URL, Err: err}
	}
	if !cached && s.payloads != nil {
		s.payloads.Set(src.URL, payload)
	}
	return entries, nil
}

func (s *Store) publish(src config.CatalogConfig, entries []types.ChannelEntry) *Catalog {
	snapshot := &Catalog{
		Config:     src,
		Entries:    entries,
		Generation: s.generation.Add(1),
		LoadedAt:   time.Now(),
	}
	s.catalogs.Store(src.Name, snapshot)
	metrics.CatalogEntries.WithLabelValues(src.Name).Set(float64(len(entries)))
	return snapshot
}

// enrich runs metadata enrichment for a published snapshot and republishes the result,
// unless a newer load replaced the snapshot in the meantime.
func (s *Store) enrich(enricher Enricher, base *Catalog) {
	cfg := s.config()
	timeout := cfg.RequestTimeout * time.Duration(len(base.Entries)+1)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	enriched := enricher.Enrich(ctx, base.Entries)

	current, ok := s.catalogs.Load(base.Config.Name)
	if !ok || current.Generation != base.Generation {
		logger.Debug("{catalog/store - enrich} %s changed during enrichment, discarding result", base.Config.Name)
		return
	}
	snapshot := &Catalog{
		Config:     base.Config,
		Entries:    enriched,
		Generation: s.generation.Add(1),
		LoadedAt:   base.LoadedAt,
	}
	s.catalogs.Compute(base.Config.Name, func(old *Catalog, loaded bool) (*Catalog, bool) {
		if loaded && old.Generation != base.Generation {
			return old, false
		}
		return snapshot, false
	})
}

// Refresh reloads every configured catalog concurrently on the worker pool and waits
// for all of them.
func (s *Store) Refresh(ctx context.Context, force bool) {
	cfg := s.config()
	if len(cfg.Catalogs) == 0 {
		logger.Warn("{catalog/store - Refresh} no catalogs configured")
		return
	}

	var wg sync.WaitGroup
	for _, cc := range cfg.Catalogs {
		name := cc.Name
		wg.Add(1)
		task := func() {
			defer wg.Done()
			s.Reload(ctx, name, force)
		}
		if s.pool == nil {
			go task()
			continue
		}
		if err := s.pool.Submit(task); err != nil {
			logger.Warn("{catalog/store - Refresh} worker pool rejected %s, loading inline: %v", name, err)
			go task()
		}
	}
	wg.Wait()
}

// StartRefresh reloads every catalog on the given interval until StopRefresh.
func (s *Store) StartRefresh(interval time.Duration) {
	s.mu.Lock()
	if s.stopChan != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stopChan = stop
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			logger.Debug("{catalog/store - StartRefresh} periodic catalog refresh")
			s.Refresh(context.Background(), true)
		case <-stop:
			return
		}
	}
}

// StopRefresh ends the loop started by StartRefresh.
func (s *Store) StopRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopChan != nil {
		close(s.stopChan)
		s.stopChan = nil
	}
}
