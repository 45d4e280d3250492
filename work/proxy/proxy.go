package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"teslatv/work/buffer"
	"teslatv/work/cache"
	"teslatv/work/client"
	"teslatv/work/config"
	"teslatv/work/logger"
	"teslatv/work/metrics"
	"teslatv/work/parser"
	"teslatv/work/utils"
)

const (
	// maxManifestSize bounds a manifest body read for rewriting.
	maxManifestSize = 8 << 20

	// manifestCacheTTL keeps rewritten manifests just long enough to absorb
	// duplicate requests from players polling a live playlist.
	manifestCacheTTL = 2 * time.Second

	relayBufferSize = 32 << 10
)

// relayedHeaders are copied from the upstream response for pass-through bodies.
var relayedHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Last-Modified",
	"ETag",
	"Cache-Control",
}

// StreamProxy is the rewrite endpoint: it fetches an upstream resource on the viewer's
// behalf and returns it with permissive CORS headers. HLS manifests are rewritten so
// every URI they reference comes back through the proxy as well.
type StreamProxy struct {
	Config      *config.Config              // application configuration
	HttpClient  *client.HeaderSettingClient // client carrying the configured upstream headers
	RateLimiter ratelimit.Limiter           // global limit on upstream requests
	Manifests   *cache.Cache[[]byte]        // rewritten manifests keyed by upstream URL
	BufferPool  *buffer.BufferPool          // copy buffers for pass-through bodies
	base        string
}

// New creates the proxy. A non-positive ProxyRateLimit disables rate limiting.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, bufferPool *buffer.BufferPool) *StreamProxy {
	limiter := ratelimit.NewUnlimited()
	if cfg.ProxyRateLimit > 0 {
		limiter = ratelimit.New(cfg.ProxyRateLimit)
		logger.Debug("{proxy/proxy - New} upstream rate limit %d req/sec", cfg.ProxyRateLimit)
	}
	if bufferPool == nil {
		bufferPool = buffer.NewBufferPool(relayBufferSize)
	}

	base := strings.TrimSpace(cfg.ProxyBaseURL)
	if base == "" {
		base = "/proxy"
	}

	return &StreamProxy{
		Config:      cfg,
		HttpClient:  httpClient,
		RateLimiter: limiter,
		Manifests:   cache.NewCache[[]byte](256, manifestCacheTTL),
		BufferPool:  bufferPool,
		base:        base,
	}
}

// Route returns the proxy URL for an upstream URL.
func (sp *StreamProxy) Route(upstream string) string {
	sep := "?"
	if strings.Contains(sp.base, "?") {
		sep = "&"
	}
	return sp.base + sep + "url=" + url.QueryEscape(upstream)
}

// ServeHTTP handles GET /proxy?url=<encoded upstream URL>.
func (sp *StreamProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	target := r.URL.Query().Get("url")
	if !utils.IsHTTPURL(target) {
		metrics.ProxyRequests.WithLabelValues("bad_request").Inc()
		logger.Debug("{proxy/proxy - ServeHTTP} rejected target %q", target)
		http.Error(w, "Missing or invalid url parameter", http.StatusBadRequest)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		if body, ok := sp.Manifests.Get(target); ok {
			metrics.ProxyRequests.WithLabelValues("rewritten").Inc()
			writeManifest(w, body)
			return
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, "Invalid url parameter", http.StatusBadRequest)
		return
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	sp.RateLimiter.Take()
	resp, err := sp.HttpClient.Do(req)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("upstream_error").Inc()
		logger.Warn("{proxy/proxy - ServeHTTP} upstream request failed for %s: %v", utils.LogURL(sp.Config, target), err)
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ProxyRequests.WithLabelValues("upstream_error").Inc()
		logger.Warn("{proxy/proxy - ServeHTTP} upstream returned %d for %s", resp.StatusCode, utils.LogURL(sp.Config, target))
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		http.Error(w, "Upstream returned "+resp.Status, http.StatusBadGateway)
		return
	}

	// relative URIs resolve against where the manifest really came from
	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if rangeHeader == "" && parser.IsManifest(resp.Header.Get("Content-Type"), finalURL) {
		sp.serveManifest(w, resp, target, finalURL)
		return
	}
	sp.relay(w, resp, target)
}

func (sp *StreamProxy) serveManifest(w http.ResponseWriter, resp *http.Response, target, finalURL string) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("upstream_error").Inc()
		logger.Warn("{proxy/proxy - serveManifest} reading manifest %s: %v", utils.LogURL(sp.Config, target), err)
		http.Error(w, "Upstream read failed", http.StatusBadGateway)
		return
	}

	head := bytes.TrimLeft(body, "\xef\xbb\xbf \t\r\n")
	if !bytes.HasPrefix(head, []byte("#EXTM3U")) {
		// labelled as a playlist but is not one: hand it over untouched
		logger.Debug("{proxy/proxy - serveManifest} %s has no #EXTM3U header, relaying as-is", utils.LogURL(sp.Config, target))
		copyHeaders(w, resp)
		w.Header().Del("Content-Length")
		w.WriteHeader(resp.StatusCode)
		n, _ := w.Write(body)
		metrics.ProxyBytes.Add(float64(n))
		metrics.ProxyRequests.WithLabelValues("ok").Inc()
		return
	}

	rewritten := parser.RewriteManifest(head, finalURL, sp.Route)
	sp.Manifests.Set(target, rewritten)
	metrics.ProxyRequests.WithLabelValues("rewritten").Inc()
	logger.Debug("{proxy/proxy - serveManifest} rewrote manifest %s (%d bytes)", utils.LogURL(sp.Config, target), len(rewritten))
	writeManifest(w, rewritten)
}

func (sp *StreamProxy) relay(w http.ResponseWriter, resp *http.Response, target string) {
	copyHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)

	n, err := sp.BufferPool.Copy(w, resp.Body)
	metrics.ProxyBytes.Add(float64(n))
	if err != nil {
		// the viewer going away mid-body is routine for media
		logger.Debug("{proxy/proxy - relay} relay of %s stopped after %d bytes: %v", utils.LogURL(sp.Config, target), n, err)
	}
	metrics.ProxyRequests.WithLabelValues("ok").Inc()
}

func writeManifest(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", parser.MimeHLS)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(body)
	metrics.ProxyBytes.Add(float64(n))
}

func copyHeaders(w http.ResponseWriter, resp *http.Response) {
	for _, h := range relayedHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Range, Content-Type")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Content-Type")
}
