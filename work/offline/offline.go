package offline

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"text/template"

	"github.com/cespare/xxhash/v2"

	"teslatv/work/config"
)

// Manifest is the offline cache generation served at /precache.json and baked into
// the service worker.
type Manifest struct {
	CacheName string   `json:"cacheName"`
	Assets    []string `json:"assets"`
}

// Build assembles the precache list from the configured static assets, the adaptive
// decoder library and the placeholder image. The cache name carries a hash of the
// list, so any change to it starts a new cache generation.
func Build(cfg *config.Config) Manifest {
	seen := make(map[string]bool)
	var assets []string
	add := func(a string) {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			return
		}
		seen[a] = true
		assets = append(assets, a)
	}

	for _, a := range cfg.PrecacheAssets {
		add(a)
	}
	add(cfg.DecoderLibraryURL)
	add(cfg.PlaceholderImage)

	return Manifest{
		CacheName: cfg.CacheName + "-" + Generation(assets),
		Assets:    assets,
	}
}

// Generation hashes the asset list in order.
func Generation(assets []string) string {
	h := xxhash.New()
	for _, a := range assets {
		h.WriteString(a)
		h.WriteString("\n")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

var workerTemplate = template.Must(template.New("service-worker").Funcs(template.FuncMap{
	"json": func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}).Parse(workerSource))

// WriteWorker renders the service worker script for m.
func WriteWorker(w io.Writer, m Manifest) error {
	return workerTemplate.Execute(w, m)
}

// workerSource is the service worker. Only the precached assets are ever answered from
// the cache: the API, the stream proxy and the manifest always go to the network, and
// page navigations are network-first so the channel list stays current.
const workerSource = `const CACHE_NAME = {{json .CacheName}};
const PRECACHE = {{json .Assets}};
const PRECACHED = new Set(PRECACHE.map((asset) => new URL(asset, self.location.origin).href));
const NETWORK_ONLY = ['/api/', '/proxy', '/precache.json', '/service-worker.js', '/metrics', '/health'];

function networkOnly(url) {
  return url.origin === self.location.origin &&
    NETWORK_ONLY.some((prefix) => url.pathname.startsWith(prefix));
}

self.addEventListener('install', (event) => {
  event.waitUntil(
    caches.open(CACHE_NAME).then((cache) => Promise.all(PRECACHE.map((asset) =>
      cache.add(asset).catch((err) => console.error('[service-worker] precache of', asset, 'failed:', err))
    )))
  );
});

self.addEventListener('fetch', (event) => {
  const request = event.request;
  if (request.method !== 'GET') {
    return;
  }
  const url = new URL(request.url);
  if (networkOnly(url)) {
    return;
  }

  if (request.mode === 'navigate') {
    event.respondWith(
      fetch(request)
        .then((response) => {
          if (response && response.status === 200 && PRECACHED.has(url.href)) {
            const copy = response.clone();
            caches.open(CACHE_NAME).then((cache) => cache.put(request, copy));
          }
          return response;
        })
        .catch(() => caches.match(request).then((cached) => cached || caches.match('/')))
    );
    return;
  }

  if (!PRECACHED.has(url.href)) {
    return;
  }
  event.respondWith(
    caches.match(request).then((cached) => {
      if (cached) {
        return cached;
      }
      return fetch(request).then((response) => {
        if (!response || response.status !== 200) {
          return response;
        }
        const copy = response.clone();
        caches.open(CACHE_NAME).then((cache) => cache.put(request, copy));
        return response;
      });
    })
  );
});

self.addEventListener('activate', (event) => {
  event.waitUntil(
    caches.keys().then((names) => Promise.all(
      names.filter((name) => name !== CACHE_NAME).map((name) => caches.delete(name))
    ))
  );
  return self.clients.claim();
});
`
