package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/grafov/m3u8"

	"teslatv/work/logger"
)

// MIME types an HLS manifest may be served with.
const (
	MimeHLS       = "application/vnd.apple.mpegurl"
	MimeHLSLegacy = "application/x-mpegurl"
)

// maxManifestSize bounds how much of a response is read as a manifest.
const maxManifestSize = 8 << 20

// ManifestKind distinguishes master playlists (variant lists) from media playlists
// (segment lists).
type ManifestKind int

const (
	ManifestMedia ManifestKind = iota
	ManifestMaster
)

func (k ManifestKind) String() string {
	if k == ManifestMaster {
		return "master"
	}
	return "media"
}

// Variant is one quality level of a master playlist, with its URI resolved to an
// absolute URL.
type Variant struct {
	URI        string
	Bandwidth  uint32
	Resolution string
	Codecs     string
}

// Manifest summarises a decoded HLS manifest.
type Manifest struct {
	Kind     ManifestKind
	Variants []Variant // master only, highest bandwidth first
	Segments int       // media only
	Closed   bool      // media only, true for VOD playlists with #EXT-X-ENDLIST
}

// DecodeManifest decodes an HLS manifest with grafov/m3u8 in non-strict mode and resolves
// variant URIs against baseURL. The payload must start with #EXTM3U.
func DecodeManifest(r io.Reader, baseURL string) (*Manifest, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	head := bytes.TrimLeft(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")), " \t\r\n")
	if !bytes.HasPrefix(head, []byte("#EXTM3U")) {
		return nil, fmt.Errorf("decoding manifest: missing #EXTM3U header")
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(head), false)
	if err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		m := &Manifest{Kind: ManifestMaster}
		for _, v := range master.Variants {
			if v == nil {
				break
			}
			m.Variants = append(m.Variants, Variant{
				URI:        ResolveURL(v.URI, baseURL),
				Bandwidth:  v.Bandwidth,
				Resolution: v.Resolution,
				Codecs:     v.Codecs,
			})
		}
		if len(m.Variants) == 0 {
			return nil, fmt.Errorf("decoding manifest: master playlist has no variants")
		}
		sort.SliceStable(m.Variants, func(i, j int) bool {
			return m.Variants[i].Bandwidth > m.Variants[j].Bandwidth
		})
		return m, nil

	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		m := &Manifest{Kind: ManifestMedia, Closed: media.Closed}
		for _, seg := range media.Segments {
			if seg == nil {
				break
			}
			m.Segments++
		}
		return m, nil
	}

	return nil, fmt.Errorf("decoding manifest: unknown playlist type")
}

// SelectVariant picks a variant from a bandwidth-sorted list: "lowest", "medium" or
// "highest" (the default).
func SelectVariant(variants []Variant, strategy string) Variant {
	if len(variants) == 0 {
		return Variant{}
	}
	switch strategy {
	case "lowest":
		return variants[len(variants)-1]
	case "medium":
		return variants[len(variants)/2]
	default:
		return variants[0]
	}
}

// ResolveURL resolves ref against base. Absolute refs and unparseable input are
// returned unchanged.
func ResolveURL(ref, base string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		logger.Debug("{parser/manifest - ResolveURL} bad base URL: %v", err)
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		logger.Debug("{parser/manifest - ResolveURL} bad reference: %v", err)
		return ref
	}
	return b.ResolveReference(r).String()
}

// IsManifest reports whether a response is an HLS manifest, judging by its content type
// first and the URL path suffix second.
func IsManifest(contentType, rawURL string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.HasSuffix(strings.ToLower(p), ".m3u8")
}

// RewriteManifest resolves every URI in an HLS manifest against baseURL and passes it
// through route. URI lines and URI="..." attributes of tags (keys, media renditions,
// maps) are rewritten; every other line is copied unchanged.
func RewriteManifest(body []byte, baseURL string, route func(string) string) []byte {
	var out bytes.Buffer
	out.Grow(len(body) + len(body)/2)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			out.WriteString(line)
		case strings.HasPrefix(trimmed, "#"):
			out.WriteString(rewriteURIAttributes(line, baseURL, route))
		default:
			out.WriteString(route(ResolveURL(trimmed, baseURL)))
		}
		out.WriteByte('\n')
	}
	return out.Bytes()
}

// rewriteURIAttributes rewrites every URI="..." attribute value of a tag line.
func rewriteURIAttributes(line, baseURL string, route func(string) string) string {
	const marker = `URI="`
	if !strings.Contains(line, marker) {
		return line
	}

	var b strings.Builder
	rest := line
	for {
		idx := strings.Index(rest, marker)
		if idx < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx+len(marker)])
		rest = rest[idx+len(marker):]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(route(ResolveURL(rest[:end], baseURL)))
		rest = rest[end:]
		b.WriteByte('"')
		rest = rest[1:]
	}
	return b.String()
}
