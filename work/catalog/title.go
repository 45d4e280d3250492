package catalog

import (
	"strings"

	"github.com/grafana/regexp"
)

var (
	leadingTagRe   = regexp.MustCompile(`(?i)^(FR:\s*|FR:|\s*#\s*)`)
	trailingYearRe = regexp.MustCompile(`\s*\(\d{4}\)$`)
	dashYearRe     = regexp.MustCompile(`\s*-\s*\d{4}$`)
	qualityTagRe   = regexp.MustCompile(`(?i) - (FHD|HD|VOSTFR|VF|MULTI|FR|SUB|2160P|1080P|720P|WEB-DL|BLURAY|DVDRIP|X264|XVID|AC3|DD5\.1|DTS|TRUEFRENCH)\b`)
	spaceRunRe     = regexp.MustCompile(`\s+`)
)

// CleanTitle reduces a release-style movie name to the title used for display, search
// and metadata lookups. The steps run in order: drop a leading "FR:" or "#" tag, drop a
// trailing "(YYYY)", drop a trailing "- YYYY", cut at the first " - <quality tag>", and
// collapse whitespace.
func CleanTitle(name string) string {
	cleaned := strings.TrimSpace(leadingTagRe.ReplaceAllString(name, ""))
	cleaned = strings.TrimSpace(trailingYearRe.ReplaceAllString(cleaned, ""))
	cleaned = strings.TrimSpace(dashYearRe.ReplaceAllString(cleaned, ""))
	if loc := qualityTagRe.FindStringIndex(cleaned); loc != nil {
		cleaned = strings.TrimSpace(cleaned[:loc[0]])
	}
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(cleaned, " "))
}
