package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Proxy policies accepted by the proxyPolicy setting.
const (
	ProxyHTTPOnly = "http-only" // rewrite only plain http:// stream URLs
	ProxyAlways   = "always"    // rewrite every stream URL
	ProxyNever    = "never"     // hand stream URLs to the player untouched
)

// Catalog formats accepted by CatalogConfig.Format.
const (
	FormatJSON     = "json"
	FormatPlaylist = "m3u"
	FormatAuto     = "auto"
)

// Catalog kinds accepted by CatalogConfig.Kind.
const (
	KindLive = "live"
	KindVOD  = "vod"
)

// DefaultConfigPath is read when TESLATV_CONFIG is not set.
const DefaultConfigPath = "/settings/config.json"

// Config holds all application configuration values for the front end server.
// It covers the catalogs to load, how stream URLs are proxied and classified,
// metadata enrichment, the gate and the offline cache manifest.
type Config struct {
	BaseURL                string          `json:"baseURL"`                // Public base URL of this server (used for the proxy base)
	ListenAddr             string          `json:"listenAddr"`             // Address the HTTP server binds to
	LogLevel               string          `json:"logLevel"`               // DEBUG, INFO, WARN or ERROR
	Debug                  bool            `json:"debug"`                  // Enable debug logging
	ObfuscateUrls          bool            `json:"obfuscateUrls"`          // Obfuscate URLs in logs
	WorkerThreads          int             `json:"workerThreads"`          // Size of the shared worker pool
	CacheDuration          time.Duration   `json:"cacheDuration"`          // TTL for cached catalog payloads and manifests
	CatalogRefreshInterval time.Duration   `json:"catalogRefreshInterval"` // Interval between catalog reloads
	RequestTimeout         time.Duration   `json:"requestTimeout"`         // Timeout for catalog, metadata and probe requests
	ViewerIdleTimeout      time.Duration   `json:"viewerIdleTimeout"`      // Idle viewers are torn down after this long
	UserAgent              string          `json:"userAgent"`              // User-Agent for upstream requests
	ReqOrigin              string          `json:"reqOrigin"`              // Origin header for upstream requests
	ReqReferrer            string          `json:"reqReferrer"`            // Referer header for upstream requests
	Catalogs               []CatalogConfig `json:"catalogs"`               // Catalog sources, first one is the home page
	ProxyBaseURL           string          `json:"proxyBaseURL"`           // Rewrite endpoint, e.g. http://host/proxy
	ProxyPolicy            string          `json:"proxyPolicy"`            // http-only, always or never
	ProxyRateLimit         int             `json:"proxyRateLimit"`         // Upstream requests per second through /proxy
	ProxyBypassPatterns    []string        `json:"proxyBypassPatterns"`    // URLs matching these are never rewritten
	AdaptivePatterns       []string        `json:"adaptivePatterns"`       // Host/path patterns treated as adaptive manifests
	EmbedPatterns          []string        `json:"embedPatterns"`          // Player-page patterns loaded into a frame
	DirectExtensions       []string        `json:"directExtensions"`       // Extensions played natively without a decoder
	MetadataBaseURL        string          `json:"metadataBaseURL"`        // OMDb-compatible lookup endpoint
	MetadataAPIKey         string          `json:"metadataAPIKey"`         // API key for the lookup endpoint
	MetadataRateLimit      int             `json:"metadataRateLimit"`      // Lookups per second
	PlaceholderImage       string          `json:"placeholderImage"`       // Artwork used when no poster is known
	DatabasePath           string          `json:"databasePath"`           // SQLite file for persisted metadata
	GateSecret             string          `json:"gateSecret"`             // Plaintext gate secret
	GateSecretHash         string          `json:"gateSecretHash"`         // bcrypt hash, preferred over GateSecret when set
	GateTarget             string          `json:"gateTarget"`             // Page the gate redirects to
	CacheName              string          `json:"cacheName"`              // Service worker cache name prefix
	PrecacheAssets         []string        `json:"precacheAssets"`         // Static assets pre-populated by the service worker
	DecoderLibraryURL      string          `json:"decoderLibraryURL"`      // Adaptive decoder script loaded by the page
	TimeZone               string          `json:"timeZone"`               // IANA zone used by the clock
}

// CatalogConfig describes one catalog source.
type CatalogConfig struct {
	Name   string `json:"name"`   // Route key, e.g. "live" serves /c/live
	Title  string `json:"title"`  // Heading shown on the page
	URL    string `json:"url"`    // Remote JSON or playlist URL, or a local file path
	Format string `json:"format"` // json, m3u or auto
	Kind   string `json:"kind"`   // live or vod
	Enrich bool   `json:"enrich"` // Look up posters/ratings for every entry
	Hidden bool   `json:"hidden"` // Left out of navigation, reached through the gate
}

// ConfigFile represents the JSON file structure. Duration fields are strings
// (e.g. "30m") and are parsed into time.Duration values.
type ConfigFile struct {
	BaseURL                string          `json:"baseURL"`
	ListenAddr             string          `json:"listenAddr"`
	LogLevel               string          `json:"logLevel"`
	Debug                  bool            `json:"debug"`
	ObfuscateUrls          bool            `json:"obfuscateUrls"`
	WorkerThreads          int             `json:"workerThreads"`
	CacheDuration          string          `json:"cacheDuration"`
	CatalogRefreshInterval string          `json:"catalogRefreshInterval"`
	RequestTimeout         string          `json:"requestTimeout"`
	ViewerIdleTimeout      string          `json:"viewerIdleTimeout"`
	UserAgent              string          `json:"userAgent"`
	ReqOrigin              string          `json:"reqOrigin"`
	ReqReferrer            string          `json:"reqReferrer"`
	Catalogs               []CatalogConfig `json:"catalogs"`
	ProxyBaseURL           string          `json:"proxyBaseURL"`
	ProxyPolicy            string          `json:"proxyPolicy"`
	ProxyRateLimit         int             `json:"proxyRateLimit"`
	ProxyBypassPatterns    []string        `json:"proxyBypassPatterns"`
	AdaptivePatterns       []string        `json:"adaptivePatterns"`
	EmbedPatterns          []string        `json:"embedPatterns"`
	DirectExtensions       []string        `json:"directExtensions"`
	MetadataBaseURL        string          `json:"metadataBaseURL"`
	MetadataAPIKey         string          `json:"metadataAPIKey"`
	MetadataRateLimit      int             `json:"metadataRateLimit"`
	PlaceholderImage       string          `json:"placeholderImage"`
	DatabasePath           string          `json:"databasePath"`
	GateSecret             string          `json:"gateSecret"`
	GateSecretHash         string          `json:"gateSecretHash"`
	GateTarget             string          `json:"gateTarget"`
	CacheName              string          `json:"cacheName"`
	PrecacheAssets         []string        `json:"precacheAssets"`
	DecoderLibraryURL      string          `json:"decoderLibraryURL"`
	TimeZone               string          `json:"timeZone"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// Path returns the config file location, honouring TESLATV_CONFIG.
func Path() string {
	if p := os.Getenv("TESLATV_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from Path().
//   - Falls back to the default config if the file is missing or invalid.
//   - Runs validation to fill safe defaults.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	configPath := Path()
	config, err := LoadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Catalogs: %d configured", len(config.Catalogs))
		for i := range config.Catalogs {
			c := &config.Catalogs[i]
			log.Printf("    Catalog %d (%s, %s/%s): %s", i+1, c.Name, c.Kind, c.Format, obfuscateURL(c.URL))
		}
		log.Printf("  Proxy: %s via %s", config.ProxyPolicy, config.ProxyBaseURL)
		log.Printf("  Obfuscate URLs: %v", config.ObfuscateUrls)
	}

	return config
}

// LoadFromFile reads, parses and validates the configuration at path.
// It does not touch the cached singleton.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg, err := convertFromFile(&configFile)
	if err != nil {
		return nil, err
	}
	validateAndSetDefaults(cfg)
	return cfg, nil
}

// parseDuration accepts an empty string as zero so validation can default it.
func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:             cf.BaseURL,
		ListenAddr:          cf.ListenAddr,
		LogLevel:            cf.LogLevel,
		Debug:               cf.Debug,
		ObfuscateUrls:       cf.ObfuscateUrls,
		WorkerThreads:       cf.WorkerThreads,
		UserAgent:           cf.UserAgent,
		ReqOrigin:           cf.ReqOrigin,
		ReqReferrer:         cf.ReqReferrer,
		Catalogs:            append([]CatalogConfig(nil), cf.Catalogs...),
		ProxyBaseURL:        cf.ProxyBaseURL,
		ProxyPolicy:         cf.ProxyPolicy,
		ProxyRateLimit:      cf.ProxyRateLimit,
		ProxyBypassPatterns: cf.ProxyBypassPatterns,
		AdaptivePatterns:    cf.AdaptivePatterns,
		EmbedPatterns:       cf.EmbedPatterns,
		DirectExtensions:    cf.DirectExtensions,
		MetadataBaseURL:     cf.MetadataBaseURL,
		MetadataAPIKey:      cf.MetadataAPIKey,
		MetadataRateLimit:   cf.MetadataRateLimit,
		PlaceholderImage:    cf.PlaceholderImage,
		DatabasePath:        cf.DatabasePath,
		GateSecret:          cf.GateSecret,
		GateSecretHash:      cf.GateSecretHash,
		GateTarget:          cf.GateTarget,
		CacheName:           cf.CacheName,
		PrecacheAssets:      cf.PrecacheAssets,
		DecoderLibraryURL:   cf.DecoderLibraryURL,
		TimeZone:            cf.TimeZone,
	}

	var err error
	if config.CacheDuration, err = parseDuration("cacheDuration", cf.CacheDuration); err != nil {
		return nil, err
	}
	if config.CatalogRefreshInterval, err = parseDuration("catalogRefreshInterval", cf.CatalogRefreshInterval); err != nil {
		return nil, err
	}
	if config.RequestTimeout, err = parseDuration("requestTimeout", cf.RequestTimeout); err != nil {
		return nil, err
	}
	if config.ViewerIdleTimeout, err = parseDuration("viewerIdleTimeout", cf.ViewerIdleTimeout); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultCatalogs mirrors the catalogs the original page shipped with.
func DefaultCatalogs() []CatalogConfig {
	return []CatalogConfig{
		{Name: "live", Title: "Live TV", URL: "https://mikefri.github.io/Teslatv/channels.json", Format: FormatJSON, Kind: KindLive},
		{Name: "vod", Title: "Movies", URL: "https://mikefri.github.io/Teslatv/vod.m3u", Format: FormatPlaylist, Kind: KindVOD, Enrich: true},
		{Name: "after-dark", Title: "After dark", URL: "https://mikefri.github.io/Teslatv/xxx.m3u", Format: FormatPlaylist, Kind: KindVOD, Hidden: true},
	}
}

// DefaultPrecacheAssets is the static asset list pre-populated by the service worker.
// Every entry must be served by this process: the worker installs all of them or none.
func DefaultPrecacheAssets() []string {
	return []string{
		"/",
		"/style.css",
		"/script.js",
		"/manifest.json",
		"/icons/icon.svg",
	}
}

// getDefaultConfig returns a baseline configuration used when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:                "http://localhost:8080",
		ListenAddr:             ":8080",
		LogLevel:               "INFO",
		WorkerThreads:          8,
		CacheDuration:          10 * time.Minute,
		CatalogRefreshInterval: 6 * time.Hour,
		RequestTimeout:         15 * time.Second,
		ViewerIdleTimeout:      30 * time.Minute,
		Catalogs:               DefaultCatalogs(),
		ProxyPolicy:            ProxyHTTPOnly,
		MetadataBaseURL:        "https://www.omdbapi.com/",
		GateSecret:             "Tesla",
		GateTarget:             "/c/after-dark",
		PrecacheAssets:         DefaultPrecacheAssets(),
	}
}

// validateAndSetDefaults fills defaults for missing or invalid values.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.Debug {
		config.LogLevel = "DEBUG"
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = 10 * time.Minute
	}
	if config.CatalogRefreshInterval <= 0 {
		config.CatalogRefreshInterval = 6 * time.Hour
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 15 * time.Second
	}
	if config.ViewerIdleTimeout <= 0 {
		config.ViewerIdleTimeout = 30 * time.Minute
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (X11; GNU/Linux) AppleWebKit/537.36 (KHTML, like Gecko) Chromium/79.0.3945.130 Chrome/79.0.3945.130 Safari/537.36 Tesla/2024"
	}
	if config.ProxyBaseURL == "" {
		config.ProxyBaseURL = config.BaseURL + "/proxy"
	}
	switch config.ProxyPolicy {
	case ProxyHTTPOnly, ProxyAlways, ProxyNever:
	default:
		if config.ProxyPolicy != "" {
			log.Printf("Unknown proxyPolicy %q, using %s", config.ProxyPolicy, ProxyHTTPOnly)
		}
		config.ProxyPolicy = ProxyHTTPOnly
	}
	if config.ProxyRateLimit <= 0 {
		config.ProxyRateLimit = 50
	}
	if config.AdaptivePatterns == nil {
		config.AdaptivePatterns = []string{`(?i)/live/`, `(?i)/hls/`, `(?i)\.m3u8(\?|$)`}
	}
	if config.EmbedPatterns == nil {
		config.EmbedPatterns = []string{`(?i)/embed/`, `(?i)/player\.html`, `(?i)/player/`}
	}
	if config.DirectExtensions == nil {
		config.DirectExtensions = []string{".mp4", ".m4v", ".mkv", ".webm", ".mov", ".ts"}
	}
	if config.MetadataBaseURL == "" {
		config.MetadataBaseURL = "https://www.omdbapi.com/"
	}
	if config.MetadataRateLimit <= 0 {
		config.MetadataRateLimit = 5
	}
	if config.PlaceholderImage == "" {
		config.PlaceholderImage = "https://mikefri.github.io/Teslatv/image.jpg"
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/settings/metadata.db"
	}
	if config.GateSecret == "" && config.GateSecretHash == "" {
		config.GateSecret = "Tesla"
	}
	if config.GateTarget == "" {
		config.GateTarget = "/c/after-dark"
	}
	if config.CacheName == "" {
		config.CacheName = "tesla-tv-cache"
	}
	if config.PrecacheAssets == nil {
		config.PrecacheAssets = DefaultPrecacheAssets()
	}
	if config.DecoderLibraryURL == "" {
		config.DecoderLibraryURL = "https://cdn.jsdelivr.net/npm/hls.js@latest"
	}
	if config.TimeZone == "" {
		config.TimeZone = "Europe/Paris"
	}

	for i := range config.Catalogs {
		c := &config.Catalogs[i]
		if c.Name == "" {
			c.Name = fmt.Sprintf("catalog-%d", i+1)
		}
		if c.Title == "" {
			c.Title = c.Name
		}
		switch c.Format {
		case FormatJSON, FormatPlaylist, FormatAuto:
		default:
			c.Format = FormatAuto
		}
		if c.Kind != KindVOD {
			c.Kind = KindLive
		}
	}
}

// Catalog returns the catalog config with the given name, or nil.
func (c *Config) Catalog(name string) *CatalogConfig {
	for i := range c.Catalogs {
		if c.Catalogs[i].Name == name {
			return &c.Catalogs[i]
		}
	}
	return nil
}

// DefaultCatalog returns the first non-hidden catalog, the page served at "/".
func (c *Config) DefaultCatalog() *CatalogConfig {
	for i := range c.Catalogs {
		if !c.Catalogs[i].Hidden {
			return &c.Catalogs[i]
		}
	}
	if len(c.Catalogs) > 0 {
		return &c.Catalogs[0]
	}
	return nil
}

// Location returns the configured clock time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:                "http://localhost:8080",
		ListenAddr:             ":8080",
		LogLevel:               "INFO",
		WorkerThreads:          8,
		CacheDuration:          "10m",
		CatalogRefreshInterval: "6h",
		RequestTimeout:         "15s",
		ViewerIdleTimeout:      "30m",
		Catalogs:               DefaultCatalogs(),
		ProxyPolicy:            ProxyHTTPOnly,
		ProxyRateLimit:         50,
		MetadataBaseURL:        "https://www.omdbapi.com/",
		MetadataAPIKey:         "",
		MetadataRateLimit:      5,
		DatabasePath:           "/settings/metadata.db",
		GateSecret:             "Tesla",
		GateTarget:             "/c/after-dark",
		CacheName:              "tesla-tv-cache",
		PrecacheAssets:         DefaultPrecacheAssets(),
		TimeZone:               "Europe/Paris",
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache forces a reload on the next LoadConfig call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// obfuscateURL masks path and query of a URL for logging.
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	if u.Host == "" {
		return "***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	return result
}
