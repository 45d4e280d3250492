package player

import (
	"strings"

	"teslatv/work/config"
	"teslatv/work/filter"
	"teslatv/work/parser"
	"teslatv/work/utils"
)

// Strategy is the negotiated way a URL gets played.
type Strategy string

const (
	StrategyNone         Strategy = ""
	StrategyAdaptive     Strategy = "adaptive"
	StrategyNativeHLS    Strategy = "native_hls"
	StrategyNativeDirect Strategy = "native_direct"
	StrategyEmbed        Strategy = "embed"
)

// Capabilities describes the playback runtime of the client. It is reported by the
// browser with each play request.
type Capabilities struct {
	AdaptiveDecoder bool `json:"adaptiveDecoder"`
	NativeHLS       bool `json:"nativeHLS"`
}

// MIME hints handed to the sink.
const (
	MimeTransportStream = "video/mp2t"
)

var directMimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".ts":   MimeTransportStream,
}

// Classifier sorts URLs into embed pages, adaptive manifests and direct media using the
// configured pattern sets.
type Classifier struct {
	embed      *filter.PatternSet
	adaptive   *filter.PatternSet
	extensions map[string]bool
}

// NewClassifier builds a classifier from config. Pattern sets are taken from fm so a
// config reload recompiles them once.
func NewClassifier(cfg *config.Config, fm *filter.FilterManager) *Classifier {
	c := &Classifier{
		embed:      fm.GetOrCreate(filter.SetEmbed, cfg.EmbedPatterns),
		adaptive:   fm.GetOrCreate(filter.SetAdaptive, cfg.AdaptivePatterns),
		extensions: make(map[string]bool, len(cfg.DirectExtensions)),
	}
	for _, ext := range cfg.DirectExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.extensions[ext] = true
	}
	return c
}

// IsEmbed reports whether u is a third-party player page.
func (c *Classifier) IsEmbed(u string) bool {
	return c.embed.Match(u)
}

// IsAdaptive reports whether u is an HLS manifest, by path suffix or configured pattern.
func (c *Classifier) IsAdaptive(u string) bool {
	if utils.PathExtension(u) == ".m3u8" {
		return true
	}
	return c.adaptive.Match(u)
}

// IsDirect reports whether u has one of the configured container extensions.
func (c *Classifier) IsDirect(u string) bool {
	return c.extensions[utils.PathExtension(u)]
}

// MimeHint guesses the MIME type a sink should expect for a strategy and URL. Direct
// media only gets a hint when its extension is one of the configured ones; anything
// else is left for the element to sniff.
func (c *Classifier) MimeHint(strategy Strategy, u string) string {
	switch strategy {
	case StrategyAdaptive, StrategyNativeHLS:
		return parser.MimeHLS
	case StrategyNativeDirect:
		if !c.IsDirect(u) {
			return ""
		}
		return directMimeTypes[utils.PathExtension(u)]
	}
	return ""
}

// Negotiate picks the playback strategy for sourceURL. Embed pages win over everything,
// then adaptive manifests (decoder first, native HLS second), then direct playback.
// Classification always runs on the original URL, never on a proxied one.
func Negotiate(sourceURL string, caps Capabilities, c *Classifier) (Strategy, error) {
	if c.IsEmbed(sourceURL) {
		return StrategyEmbed, nil
	}
	if c.IsAdaptive(sourceURL) {
		switch {
		case caps.AdaptiveDecoder:
			return StrategyAdaptive, nil
		case caps.NativeHLS:
			return StrategyNativeHLS, nil
		}
		return StrategyNone, &UnsupportedFormatError{
			URL:    sourceURL,
			Reason: "HLS stream but neither an adaptive decoder nor native HLS is available",
		}
	}
	return StrategyNativeDirect, nil
}
