package player

import (
	"net/url"
	"strings"

	"teslatv/work/config"
	"teslatv/work/filter"
	"teslatv/work/utils"
)

// Rewriter routes stream URLs through the rewrite proxy according to the configured
// policy.
type Rewriter struct {
	base       string
	policy     string
	bypass     *filter.PatternSet
	classifier *Classifier
}

// NewRewriter builds a rewriter for cfg.ProxyBaseURL and cfg.ProxyPolicy.
func NewRewriter(cfg *config.Config, fm *filter.FilterManager, classifier *Classifier) *Rewriter {
	policy := cfg.ProxyPolicy
	if policy == "" {
		policy = config.ProxyHTTPOnly
	}
	return &Rewriter{
		base:       strings.TrimSpace(cfg.ProxyBaseURL),
		policy:     policy,
		bypass:     fm.GetOrCreate(filter.SetProxyBypass, cfg.ProxyBypassPatterns),
		classifier: classifier,
	}
}

// Rewrite returns the URL the decoder or sink should load. Embed pages, bypassed hosts,
// non-http URLs and URLs already pointing at the proxy are returned unchanged.
func (r *Rewriter) Rewrite(raw string) string {
	if !r.shouldProxy(raw) {
		return raw
	}
	sep := "?"
	if strings.Contains(r.base, "?") {
		sep = "&"
	}
	return r.base + sep + "url=" + url.QueryEscape(raw)
}

func (r *Rewriter) shouldProxy(raw string) bool {
	if r.base == "" || r.policy == config.ProxyNever {
		return false
	}
	if !utils.IsHTTPURL(raw) || strings.HasPrefix(raw, r.base) {
		return false
	}
	if r.bypass.Match(raw) {
		return false
	}
	if r.classifier != nil && r.classifier.IsEmbed(raw) {
		return false
	}
	if r.policy == config.ProxyAlways {
		return true
	}
	return utils.IsPlainHTTP(raw)
}

// Unwrap returns the original URL behind a URL produced by Rewrite, or u unchanged.
func (r *Rewriter) Unwrap(u string) string {
	if r.base == "" || !strings.HasPrefix(u, r.base) {
		return u
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	if original := parsed.Query().Get("url"); original != "" {
		return original
	}
	return u
}
