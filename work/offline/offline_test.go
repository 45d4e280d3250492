package offline

import (
	"bytes"
	"strings"
	"testing"

	"teslatv/work/config"
)

func testConfig() *config.Config {
	return &config.Config{
		CacheName:         "tesla-tv-cache",
		PrecacheAssets:    []string{"/", "/index.html", "/style.css", "/index.html"},
		DecoderLibraryURL: "https://cdn.jsdelivr.net/npm/hls.js@latest",
		PlaceholderImage:  "https://img.local/image.jpg",
	}
}

func TestBuildAssets(t *testing.T) {
	m := Build(testConfig())

	want := []string{"/", "/index.html", "/style.css", "https://cdn.jsdelivr.net/npm/hls.js@latest", "https://img.local/image.jpg"}
	if strings.Join(m.Assets, " ") != strings.Join(want, " ") {
		t.Fatalf("assets = %q", m.Assets)
	}
	if !strings.HasPrefix(m.CacheName, "tesla-tv-cache-") {
		t.Fatalf("cache name = %q", m.CacheName)
	}
}

func TestCacheNameFollowsAssetList(t *testing.T) {
	cfg := testConfig()
	first := Build(cfg)
	if again := Build(cfg); again.CacheName != first.CacheName {
		t.Fatalf("same list, different names: %q vs %q", first.CacheName, again.CacheName)
	}

	cfg.PrecacheAssets = append(cfg.PrecacheAssets, "/script.js")
	if changed := Build(cfg); changed.CacheName == first.CacheName {
		t.Fatal("adding an asset kept the cache name")
	}

	cfg = testConfig()
	cfg.PrecacheAssets = []string{"/style.css", "/", "/index.html"}
	if reordered := Build(cfg); reordered.CacheName == first.CacheName {
		t.Fatal("reordering the list kept the cache name")
	}
}

func TestWriteWorker(t *testing.T) {
	m := Build(testConfig())
	var buf bytes.Buffer
	if err := WriteWorker(&buf, m); err != nil {
		t.Fatal(err)
	}
	script := buf.String()

	for _, want := range []string{
		`const CACHE_NAME = "` + m.CacheName + `";`,
		`"https://cdn.jsdelivr.net/npm/hls.js@latest"`,
		`response.status !== 200`,
		`name !== CACHE_NAME`,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("worker script missing %q", want)
		}
	}
}

func TestWorkerKeepsLiveRoutesOffTheCache(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWorker(&buf, Build(testConfig())); err != nil {
		t.Fatal(err)
	}
	script := buf.String()

	for _, want := range []string{
		`'/api/'`,
		`'/proxy'`,
		`'/precache.json'`,
		`request.mode === 'navigate'`,
		`if (!PRECACHED.has(url.href)) {`,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("worker script missing %q", want)
		}
	}

	// the network-only check runs before anything is looked up in the cache
	if strings.Index(script, "if (networkOnly(url))") > strings.Index(script, "caches.match(request)") {
		t.Error("cache is consulted before the network-only routes are skipped")
	}
}
