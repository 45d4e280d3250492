package station

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"teslatv/work/catalog"
	"teslatv/work/client"
	"teslatv/work/config"
	"teslatv/work/filter"
	"teslatv/work/gate"
	"teslatv/work/listing"
	"teslatv/work/logger"
	"teslatv/work/metadata"
	"teslatv/work/metrics"
	"teslatv/work/player"
	"teslatv/work/probe"
	"teslatv/work/status"
	"teslatv/work/types"
)

// NoticeEmptyCatalog is shown when a catalog could not be loaded and has no entries.
const NoticeEmptyCatalog = "Could not load the channel list"

// Station is the process-wide state of the server: the loaded catalogs, the shared
// stream classification, the metadata service and every connected viewer.
//
// Viewers are identified by an opaque id kept in a cookie. Each one owns a player
// session and its own list selections, so two cars watching at the same time never
// interfere. Viewers that stop polling are torn down by the cleanup loop.
type Station struct {
	Config     *config.Config              // Active configuration
	Client     *client.HeaderSettingClient // Upstream client for probes and lookups
	Catalogs   *catalog.Store              // Loaded catalogs
	Metadata   *metadata.Service           // Movie metadata lookups, may be nil
	Gate       *gate.Gate                  // Hidden page password prompt
	Pool       *ants.Pool                  // Shared worker pool
	Filters    *filter.FilterManager       // Compiled URL pattern sets
	Classifier *player.Classifier          // Stream URL classification
	Rewriter   *player.Rewriter            // Proxy rewriting of stream URLs
	Location   *time.Location              // Clock time zone

	viewers  *xsync.MapOf[string, *Viewer]
	running  atomic.Bool
	stopChan chan struct{}
}

// New assembles a station around an already built catalog store and metadata service.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, store *catalog.Store, meta *metadata.Service, pool *ants.Pool) *Station {
	fm := filter.NewFilterManager()
	classifier := player.NewClassifier(cfg, fm)
	return &Station{
		Config:     cfg,
		Client:     httpClient,
		Catalogs:   store,
		Metadata:   meta,
		Gate:       gate.New(cfg),
		Pool:       pool,
		Filters:    fm,
		Classifier: classifier,
		Rewriter:   player.NewRewriter(cfg, fm, classifier),
		Location:   cfg.Location(),
		viewers:    xsync.NewMapOf[string, *Viewer](),
		stopChan:   make(chan struct{}),
	}
}

// Viewer is one connected client: its player, per-catalog selections and message box.
type Viewer struct {
	ID     string
	Player *player.Orchestrator
	Sink   *probe.Sink
	Board  *status.Board

	selections *xsync.MapOf[string, *listing.Selection]
	lastSeen   atomic.Int64
	cancel     context.CancelFunc
}

// Selection returns the viewer's selection state for a catalog.
func (v *Viewer) Selection(catalogName string) *listing.Selection {
	sel, _ := v.selections.LoadOrCompute(catalogName, func() *listing.Selection {
		return &listing.Selection{}
	})
	return sel
}

// Touch marks the viewer as active now.
func (v *Viewer) Touch() {
	v.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns when the viewer last made a request.
func (v *Viewer) LastSeen() time.Time {
	return time.Unix(0, v.lastSeen.Load())
}

func (v *Viewer) close() {
	v.Player.Close()
	v.cancel()
}

// Attach returns the viewer for id, creating one when id is empty or unknown. The
// returned id is the one the client must keep.
func (s *Station) Attach(id string) (*Viewer, string) {
	if id != "" {
		if v, ok := s.viewers.Load(id); ok {
			v.Touch()
			return v, id
		}
	}
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	v, loaded := s.viewers.LoadOrCompute(id, func() *Viewer {
		return s.newViewer(id)
	})
	if !loaded {
		metrics.ActiveViewers.Inc()
		logger.Debug("{station - Attach} new viewer %s", id)
	}
	v.Touch()
	return v, id
}

// Lookup returns an existing viewer without creating one.
func (s *Station) Lookup(id string) (*Viewer, bool) {
	v, ok := s.viewers.Load(id)
	if ok {
		v.Touch()
	}
	return v, ok
}

func (s *Station) newViewer(id string) *Viewer {
	timeout := s.Config.RequestTimeout
	unwrap := s.Rewriter.Unwrap
	sink := probe.NewSink(s.Client, timeout, unwrap)
	board := status.NewBoard()

	orchestrator := player.New(player.Options{
		Sink:       sink,
		NewDecoder: probe.Factory(s.Client, timeout, unwrap),
		Classifier: s.Classifier,
		Rewriter:   s.Rewriter,
		Notifier:   board,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go orchestrator.Run(ctx)

	return &Viewer{
		ID:         id,
		Player:     orchestrator,
		Sink:       sink,
		Board:      board,
		selections: xsync.NewMapOf[string, *listing.Selection](),
		cancel:     cancel,
	}
}

// Remove tears down a viewer's player and forgets it.
func (s *Station) Remove(id string) bool {
	v, ok := s.viewers.LoadAndDelete(id)
	if !ok {
		return false
	}
	v.close()
	metrics.ActiveViewers.Dec()
	logger.Debug("{station - Remove} viewer %s removed", id)
	return true
}

// ViewerCount returns how many viewers are connected.
func (s *Station) ViewerCount() int {
	return s.viewers.Size()
}

// Entries returns the current entries of a catalog.
func (s *Station) Entries(catalogName string) (*catalog.Catalog, error) {
	return s.Catalogs.Get(catalogName)
}

// Select marks id as the viewer's active row in catalogName and starts playing it.
// caps, when set, replaces the capabilities the viewer's runtime reported before.
func (s *Station) Select(v *Viewer, catalogName, id string, caps *player.Capabilities) (player.Snapshot, error) {
	cat, err := s.Catalogs.Get(catalogName)
	if err != nil {
		return player.Snapshot{}, err
	}
	if caps != nil {
		v.Player.SetCapabilities(*caps)
	}

	snap := v.Player.Snapshot()
	err = v.Selection(catalogName).Select(cat.Entries, id, func(e types.ChannelEntry) error {
		var playErr error
		snap, playErr = v.Player.Play(e.StreamURL, e.Name, e.ID)
		return playErr
	})
	return snap, err
}

// PlayActive plays the row shown as active in catalogName, the first row before any
// selection. An empty catalog leaves the player untouched.
func (s *Station) PlayActive(v *Viewer, catalogName string, caps *player.Capabilities) (player.Snapshot, error) {
	cat, err := s.Catalogs.Get(catalogName)
	if err != nil {
		return player.Snapshot{}, err
	}
	if caps != nil {
		v.Player.SetCapabilities(*caps)
	}

	snap := v.Player.Snapshot()
	err = v.Selection(catalogName).PlayActive(cat.Entries, func(e types.ChannelEntry) error {
		var playErr error
		snap, playErr = v.Player.Play(e.StreamURL, e.Name, e.ID)
		return playErr
	})
	if errors.Is(err, listing.ErrUnknownRow) && len(cat.Entries) == 0 {
		v.Board.Show(player.NoticeInfo, listing.NoticeEmptyCatalog)
	}
	return snap, err
}

// ReportCatalog pushes a notice to the viewer when cat failed to load and has nothing
// to show.
func (s *Station) ReportCatalog(v *Viewer, cat *catalog.Catalog) {
	if cat.LastError != nil && len(cat.Entries) == 0 {
		v.Board.Show(player.NoticeError, NoticeEmptyCatalog)
	}
}

// Clock returns the page clock text for now.
func (s *Station) Clock(now time.Time) string {
	return status.Clock(now, s.Location)
}

// Start runs the idle viewer cleanup until Stop. It returns immediately if already
// running.
func (s *Station) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go s.maintenance()
}

// Stop ends the cleanup loop and tears down every viewer.
func (s *Station) Stop() {
	if s.running.CompareAndSwap(true, false) {
		close(s.stopChan)
	}
	s.viewers.Range(func(id string, _ *Viewer) bool {
		s.Remove(id)
		return true
	})
}

func (s *Station) maintenance() {
	interval := s.Config.ViewerIdleTimeout / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	cleanup := time.NewTicker(interval)
	defer cleanup.Stop()
	purge := time.NewTicker(6 * time.Hour)
	defer purge.Stop()

	for {
		select {
		case now := <-cleanup.C:
			if n := s.CleanupIdle(now); n > 0 {
				logger.Info("{station - maintenance} removed %d idle viewers, %d remaining", n, s.ViewerCount())
			}
		case <-purge.C:
			if s.Metadata != nil {
				s.Metadata.Purge()
			}
		case <-s.stopChan:
			return
		}
	}
}

// CleanupIdle removes viewers not seen within the idle timeout before now and returns
// how many were removed.
func (s *Station) CleanupIdle(now time.Time) int {
	idle := s.Config.ViewerIdleTimeout
	if idle <= 0 {
		return 0
	}
	removed := 0
	s.viewers.Range(func(id string, v *Viewer) bool {
		if now.Sub(v.LastSeen()) > idle && s.Remove(id) {
			removed++
		}
		return true
	})
	return removed
}
