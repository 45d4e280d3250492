package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"teslatv/work/database"
	"teslatv/work/handlers"
	"teslatv/work/logger"
	"teslatv/work/middleware"
	"teslatv/work/station"
)

// StatsResponse is the operational summary served at /api/stats.
type StatsResponse struct {
	Catalogs      int                    `json:"catalogs"`
	TotalEntries  int                    `json:"totalEntries"`
	Viewers       int                    `json:"viewers"`
	Uptime        string                 `json:"uptime"`
	MemoryUsage   string                 `json:"memoryUsage"`
	WorkerThreads int                    `json:"workerThreads"`
	WorkersBusy   int                    `json:"workersBusy"`
	Metadata      bool                   `json:"metadata"`
	LogLevel      string                 `json:"logLevel"`
	Database      map[string]interface{} `json:"database,omitempty"`
}

// LogEntry is one line of the in-memory log shown at /api/logs.
type LogEntry struct {
	Timestamp string `json:"timestamp"` // Human-readable timestamp of log entry creation
	Level     string `json:"level"`     // Log severity level (info, debug, error, etc.)
	Message   string `json:"message"`   // Complete log message content for analysis
}

var (
	// apiStartTime is used for the uptime in /api/stats.
	apiStartTime = time.Now()

	// logEntries keeps the last 1000 entries.
	logEntries   = make([]LogEntry, 0, 1000)
	logEntriesMu sync.Mutex
)

// Global restart coordination channel
var (
	// restartChan signals the restart loop in main to reload the configuration and
	// rebuild the catalogs and routes.
	restartChan = make(chan bool, 1)
)

// setupAPIRoutes registers the JSON API. db may be nil, in which case the catalog
// history and vacuum routes are left out.
func setupAPIRoutes(router *mux.Router, st *station.Station, db *database.DB) {
	router.HandleFunc("/health", handleHealth(st)).Methods("GET")

	router.HandleFunc("/api/catalogs", corsMiddleware(middleware.GzipMiddleware(handlers.HandleCatalogs(st)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/catalogs/{catalog}/entries", corsMiddleware(middleware.GzipMiddleware(handlers.HandleEntries(st)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/catalogs/{catalog}/refresh", corsMiddleware(handlers.HandleRefresh(st))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/catalogs/{catalog}/select", corsMiddleware(middleware.GzipMiddleware(handlers.HandleSelect(st)))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/catalogs/{catalog}/play-active", corsMiddleware(middleware.GzipMiddleware(handlers.HandlePlayActive(st)))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/player", corsMiddleware(middleware.GzipMiddleware(handlers.HandlePlayer(st)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/player/events", corsMiddleware(middleware.GzipMiddleware(handlers.HandlePlayerEvent(st)))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/player/stop", corsMiddleware(handlers.HandleStop(st))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/messages", corsMiddleware(handlers.HandleMessages(st))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/messages", corsMiddleware(handlers.HandleDismissMessage(st))).Methods("DELETE")
	router.HandleFunc("/api/metadata", corsMiddleware(middleware.GzipMiddleware(handlers.HandleMetadata(st)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/metadata", corsMiddleware(handlers.HandleClearMetadata(st))).Methods("DELETE")
	router.HandleFunc("/api/gate", corsMiddleware(handlers.HandleGate(st))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/clock", corsMiddleware(handlers.HandleClock(st))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/stats", corsMiddleware(middleware.GzipMiddleware(handleGetStats(st, db)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/logs", corsMiddleware(middleware.GzipMiddleware(handleGetLogs))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/logs", corsMiddleware(handleClearLogs)).Methods("DELETE")
	router.HandleFunc("/api/restart", corsMiddleware(handleRestart)).Methods("POST", "OPTIONS")

	if db != nil {
		router.HandleFunc("/api/catalogs/{catalog}/history", corsMiddleware(middleware.GzipMiddleware(handlers.HandleCatalogHistory(st, db)))).Methods("GET", "OPTIONS")
		router.HandleFunc("/api/database/vacuum", corsMiddleware(handleVacuum(db))).Methods("POST", "OPTIONS")
	}

	addLogEntry("info", "API routes initialized")
}

// corsMiddleware lets the API be called from other origins and answers preflight
// requests itself.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addLogEntry("debug", fmt.Sprintf("Request: %s %s", r.Method, r.URL.Path))

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// handleHealth reports liveness along with the number of catalogs that loaded.
func handleHealth(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loaded := 0
		for _, info := range st.Catalogs.List() {
			if info.LastError == "" && info.Generation > 0 {
				loaded++
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"catalogs": loaded,
			"viewers":  st.ViewerCount(),
		})
	}
}

// handleGetStats gathers catalog, viewer, runtime and database figures.
func handleGetStats(st *station.Station, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		stats := StatsResponse{
			Viewers:     st.ViewerCount(),
			Uptime:      formatDuration(time.Since(apiStartTime)),
			MemoryUsage: formatBytes(int64(mem.Alloc)),
			Metadata:    st.Metadata != nil,
			LogLevel:    logger.GetLogLevel(),
		}
		for _, info := range st.Catalogs.List() {
			stats.Catalogs++
			stats.TotalEntries += info.Entries
		}
		if st.Pool != nil {
			stats.WorkerThreads = st.Pool.Cap()
			stats.WorkersBusy = st.Pool.Running()
		}
		if db != nil {
			dbStats, err := db.GetStats()
			if err != nil {
				logger.Warn("{main/api_handlers - handleGetStats} database stats: %v", err)
			} else {
				stats.Database = dbStats
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			addLogEntry("error", fmt.Sprintf("Failed to encode stats: %v", err))
			http.Error(w, "Failed to encode stats", http.StatusInternalServerError)
		}
	}
}

// handleVacuum compacts the metadata database.
func handleVacuum(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Vacuum(); err != nil {
			addLogEntry("error", fmt.Sprintf("Vacuum failed: %v", err))
			http.Error(w, "Vacuum failed", http.StatusInternalServerError)
			return
		}
		addLogEntry("info", "Database vacuumed")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}
}

// handleGetLogs returns the log buffer.
func handleGetLogs(w http.ResponseWriter, r *http.Request) {
	logEntriesMu.Lock()
	entries := make([]LogEntry, len(logEntries))
	copy(entries, logEntries)
	logEntriesMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		http.Error(w, "Failed to encode logs", http.StatusInternalServerError)
	}
}

// handleClearLogs empties the log buffer and records the clearing action
func handleClearLogs(w http.ResponseWriter, r *http.Request) {
	logEntriesMu.Lock()
	logEntries = logEntries[:0]
	logEntriesMu.Unlock()
	addLogEntry("info", "Log entries cleared")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// handleRestart asks the restart loop to reload the configuration. The response goes
// out before the reload starts.
func handleRestart(w http.ResponseWriter, r *http.Request) {
	addLogEntry("info", "Restart requested - triggering graceful restart")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "restart_initiated",
		"message": "Reloading configuration and catalogs...",
	})

	// Trigger restart signal after brief delay
	go func() {
		time.Sleep(500 * time.Millisecond)
		select {
		case restartChan <- true:
		default:
			logger.Debug("{main/api_handlers - handleRestart} restart already pending")
		}
	}()
}

// addLogEntry adds a new entry to the log buffer, dropping the oldest past 1000.
func addLogEntry(level, message string) {
	entry := LogEntry{
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Level:     level,
		Message:   message,
	}

	logEntriesMu.Lock()
	defer logEntriesMu.Unlock()
	logEntries = append(logEntries, entry)
	if len(logEntries) > 1000 {
		logEntries = logEntries[len(logEntries)-1000:]
	}
}

// formatDuration converts time.Duration to human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else {
		days := int(d.Hours()) / 24
		hours := int(d.Hours()) % 24
		return fmt.Sprintf("%dd %dh", days, hours)
	}
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
