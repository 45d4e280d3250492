package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"teslatv/work/logger"
)

// gzipWriterPool keeps gzip writers around between responses so the list pages and
// JSON endpoints do not allocate a fresh compressor per request. Writers run at
// BestSpeed: the payloads are small and the player polls often, so latency matters more
// than the last few percent of ratio.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// gzipResponseWriter wraps an http.ResponseWriter with a gzip-compressing io.Writer.
// Body writes go through the compressor while headers and the status code still reach
// the original writer. It tracks whether the header went out so a bodiless status can
// drop the encoding header in time.
type gzipResponseWriter struct {
	io.Writer                // Pooled gzip writer for the body
	http.ResponseWriter      // Original response writer for headers and status
	wroteHeader         bool // Set once WriteHeader reached the original writer
}

// WriteHeader sends the status code on the underlying ResponseWriter. The compressed
// length is unknown up front, so any Content-Length set by the handler is removed, and
// statuses that never carry a body (204, 304) lose the gzip encoding header.
func (w *gzipResponseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		// 204/304 and friends carry no body
		if status == http.StatusNoContent || status == http.StatusNotModified {
			w.Header().Del("Content-Encoding")
		}
		w.Header().Del("Content-Length")
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

// Write compresses b into the response. A handler that never called WriteHeader gets
// an implicit 200 OK before the first chunk, matching net/http's own behavior.
func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(b)
}

// Flush pushes whatever the compressor holds to the client, then flushes the
// underlying writer. Long-poll player responses rely on this to arrive as soon as the
// session settles.
func (w *gzipResponseWriter) Flush() {
	// drain the gzip writer's internal buffer first
	if gzw, ok := w.Writer.(*gzip.Writer); ok {
		gzw.Flush()
	}

	// then the response writer, if it can
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// GzipMiddleware wraps an http.HandlerFunc with transparent gzip response compression.
// Clients that do not advertise gzip in Accept-Encoding, and range requests whose byte
// offsets would otherwise point into the compressed stream, are passed through
// unmodified.
//
// The middleware owns the pooled writer for the whole request: it is taken from the
// pool, reset onto the response, closed once the handler returns and put back. When
// the handler answered with a bodiless status the writer is reset instead of closed so
// no gzip trailer is written after the headers.
func GzipMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		// pass through if the client doesn't accept gzip or asked for a byte range
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") || r.Header.Get("Range") != "" {
			next(w, r)
			return
		}

		// announce the encoding; Content-Length is dropped when the header goes out
		w.Header().Set("Content-Encoding", "gzip")

		// acquire a gzip writer from the pool and point it at this response
		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(w)
		gzw := &gzipResponseWriter{Writer: gz, ResponseWriter: w}
		defer func() {
			if w.Header().Get("Content-Encoding") == "gzip" {
				if err := gz.Close(); err != nil {
					logger.Error("{middleware/compression - GzipMiddleware} failed to close gzip writer for %s %s: %v", r.Method, r.URL.Path, err)
				}
			} else {
				gz.Reset(io.Discard)
			}
			gzipWriterPool.Put(gz)
		}()

		// hand off to the next handler with the compressing writer
		next(gzw, r)
	}
}
