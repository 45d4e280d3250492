package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"teslatv/work/buffer"
	"teslatv/work/cache"
	"teslatv/work/catalog"
	"teslatv/work/client"
	"teslatv/work/config"
	"teslatv/work/database"
	"teslatv/work/handlers"
	"teslatv/work/logger"
	"teslatv/work/metadata"
	"teslatv/work/middleware"
	"teslatv/work/proxy"
	"teslatv/work/station"
	"teslatv/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// app is everything built from one configuration. A restart builds a new one and
// swaps it in.
type app struct {
	cfg     *config.Config
	store   *catalog.Store
	station *station.Station
	router  *mux.Router
}

// our main app worker
func main() {

	// write an example config the first time around
	if _, err := os.Stat(config.Path()); errors.Is(err, os.ErrNotExist) {
		if err := config.CreateExampleConfig(config.Path()); err != nil {
			logger.Warn("{main - main} could not write example config to %s: %v", config.Path(), err)
		}
	}

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	// Initialize worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// Initialize buffer pool
	bufferPool := buffer.NewBufferPool(64 * 1024)

	// metadata and catalog history survive restarts
	var db *database.DB
	if cfg.DatabasePath != "" {
		db, err = database.Open(cfg.DatabasePath)
		if err != nil {
			logger.Error("{main - main} database unavailable, metadata will not persist: %v", err)
			db = nil
		} else {
			defer db.Close()
		}
	}

	current := buildApp(cfg, workerPool, bufferPool, db)
	var active atomic.Pointer[app]
	active.Store(current)

	// show info
	logger.Info("Starting Tesla TV %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Address: %s", cfg.ListenAddr)
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Catalogs: %d", len(cfg.Catalogs))
	for _, c := range cfg.Catalogs {
		logger.Info("      %s (%s/%s, hidden=%v): %s", c.Name, c.Kind, c.Format, c.Hidden, utils.LogURL(cfg, c.URL))
	}
	logger.Info("  - Proxy: %s via %s", cfg.ProxyPolicy, cfg.ProxyBaseURL)
	logger.Info("  - Catalog Refresh Rate: %s", cfg.CatalogRefreshInterval)
	logger.Info("  - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("  - Metadata Lookups: %v", cfg.MetadataAPIKey != "")
	logger.Info("  - Database: %v", db != nil)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// gracefully restart if it's requested to do.
	go func() {

		// start a loop
		for {
			<-restartChan

			logger.Info("{main - restart} graceful restart requested")

			// CLEAR CONFIG CACHE FIRST
			config.ClearConfigCache()

			// Reload config from file
			newConfig := config.LoadConfig()
			logger.SetLogLevel(newConfig.LogLevel)

			next := buildApp(newConfig, workerPool, bufferPool, db)
			old := active.Swap(next)
			old.shutdown()

			addLogEntry("info", "Restart completed")
			logger.Info("{main - restart} graceful restart completed - loaded %d catalogs", len(newConfig.Catalogs))
		}

	}()

	// every request goes to the router of the current app
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		active.Load().router.ServeHTTP(w, r)
	})

	// fire us up
	if err := http.ListenAndServe(cfg.ListenAddr, root); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}

// buildApp loads the catalogs of cfg and assembles the station and routes around them.
func buildApp(cfg *config.Config, workerPool *ants.Pool, bufferPool *buffer.BufferPool, db *database.DB) *app {
	httpClient := client.NewHeaderSettingClient(cfg)
	payloads := cache.NewCache[[]byte](64, cfg.CacheDuration)

	var store metadata.Store
	if db != nil {
		store = db
	}
	meta := metadata.NewService(cfg, httpClient, workerPool, store)

	catalogs := catalog.NewStore(cfg, httpClient, workerPool, payloads)
	if cfg.MetadataAPIKey != "" {
		catalogs.SetEnricher(meta)
	}
	if db != nil {
		catalogs.SetRecorder(db)
	}

	// Initial load
	catalogs.Refresh(context.Background(), false)
	go catalogs.StartRefresh(cfg.CatalogRefreshInterval)

	st := station.New(cfg, httpClient, catalogs, meta, workerPool)
	st.Start()

	streamProxy := proxy.New(cfg, httpClient, bufferPool)

	// Setup HTTP routes
	router := mux.NewRouter()

	// list pages
	router.HandleFunc("/", middleware.GzipMiddleware(handlers.HandlePage(st))).Methods("GET")
	router.HandleFunc("/c/{catalog}", middleware.GzipMiddleware(handlers.HandlePage(st))).Methods("GET")

	// offline cache
	router.HandleFunc("/precache.json", handlers.HandlePrecache(st)).Methods("GET")
	router.HandleFunc("/service-worker.js", handlers.HandleServiceWorker(st)).Methods("GET")

	// rewrite proxy
	router.Handle("/proxy", streamProxy).Methods("GET", "OPTIONS")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the api routes
	setupAPIRoutes(router, st, db)

	// page assets
	router.PathPrefix("/").Handler(handlers.StaticHandler()).Methods("GET")

	return &app{cfg: cfg, store: catalogs, station: st, router: router}
}

// shutdown stops the background loops of a replaced app and tears down its viewers.
func (a *app) shutdown() {
	a.store.StopRefresh()
	a.station.Stop()
}
