package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CatalogLoads counts catalog fetch attempts per catalog.
// The "result" label is either "ok" or "error".
var CatalogLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "teslatv_catalog_loads_total",
	Help: "Catalog load attempts",
}, []string{"catalog", "result"})

// CatalogEntries tracks the number of entries in the latest published snapshot of each catalog.
var CatalogEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "teslatv_catalog_entries",
	Help: "Entries in the current catalog snapshot",
}, []string{"catalog"})

// PlaybackSessions counts playback sessions started, labelled by the negotiated strategy
// (adaptive, native_hls, native_direct, embed).
var PlaybackSessions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "teslatv_playback_sessions_total",
	Help: "Playback sessions started",
}, []string{"strategy"})

// PlaybackErrors counts playback failures by kind (unsupported_format, playback, decoder_fatal, autoplay_blocked).
var PlaybackErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "teslatv_playback_errors_total",
	Help: "Playback errors",
}, []string{"kind"})

// StaleEvents counts decoder and sink events dropped because they belonged to an
// earlier playback session.
var StaleEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "teslatv_stale_events_total",
	Help: "Events discarded because their session was superseded",
})

// ProxyRequests counts requests to the rewrite proxy endpoint.
// The "result" label is one of ok, rewritten, bad_request, upstream_error, rate_limited.
var ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "teslatv_proxy_requests_total",
	Help: "Proxy endpoint requests",
}, []string{"result"})

// ProxyBytes tracks the total number of bytes relayed by the proxy endpoint.
var ProxyBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "teslatv_proxy_bytes_total",
	Help: "Bytes relayed through the proxy endpoint",
})

// MetadataLookups counts movie metadata lookups. The "result" label is one of
// hit (memory cache), stored (database), fetched, not_found, error.
var MetadataLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "teslatv_metadata_lookups_total",
	Help: "Movie metadata lookups",
}, []string{"result"})

// ActiveViewers tracks viewers that currently hold a player.
var ActiveViewers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "teslatv_active_viewers",
	Help: "Number of viewers with a live player",
})
