package utils

import (
	"net/url"
	"strings"
	"unicode"

	"teslatv/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, u string) string {
	if cfg != nil && cfg.ObfuscateUrls {
		return ObfuscateURL(u)
	}
	return u
}

// Slugify turns a display name into a row id by replacing every run of
// whitespace with a single "-". Other characters are kept as-is.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	inSpace := false
	for _, r := range name {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('-')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// IsHTTPURL reports whether s parses as an absolute http or https URL with a host.
func IsHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// IsPlainHTTP reports whether s uses the unencrypted http scheme.
func IsPlainHTTP(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "http://")
}

// PathExtension returns the lower-cased extension of the URL path, ignoring
// query strings and fragments ("" when there is none).
func PathExtension(s string) string {
	p := s
	if u, err := url.Parse(s); err == nil {
		p = u.Path
	}
	slash := strings.LastIndex(p, "/")
	dot := strings.LastIndex(p, ".")
	if dot < 0 || dot < slash {
		return ""
	}
	return strings.ToLower(p[dot:])
}

// ObfuscateURL keeps scheme and host and masks path, query and fragment.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}
