package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotPlaylist is returned when a payload has content but no playlist records or header.
var ErrNotPlaylist = errors.New("payload is not an M3U playlist")

// PlaylistRecord is one committed "#EXTINF + URL" pair of an M3U catalog.
type PlaylistRecord struct {
	Name       string            // tvg-name, or the display text after the last comma
	URL        string            // Stream URL taken from the following http(s) line
	Attributes map[string]string // Every key="value" attribute of the #EXTINF line
}

// ParsePlaylist reads an M3U catalog. Each record is a "#EXTINF:" metadata line followed
// by the next line starting with http:// or https://. Blank lines, other comment lines and
// stray text are skipped. A record is committed only once both its name and URL have been
// seen, so a metadata line without a URL produces nothing, and a URL with no pending
// metadata line is ignored.
func ParsePlaylist(r io.Reader) ([]PlaylistRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		records   []PlaylistRecord
		pending   map[string]string
		sawHeader bool
		sawText   bool
		lineNum   int
	)

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}
		if line == "" {
			continue
		}
		sawText = true

		switch {
		case strings.HasPrefix(line, "#EXTM3U"):
			sawHeader = true
		case strings.HasPrefix(line, "#EXTINF:"):
			attrs := ParseEXTINF(line)
			if attrs["tvg-name"] == "" {
				pending = nil
				continue
			}
			pending = attrs
		case strings.HasPrefix(line, "#"):
			// #EXTGRP, #EXTVLCOPT and friends do not break a pending record
		case strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://"):
			if pending == nil {
				continue
			}
			records = append(records, PlaylistRecord{
				Name:       pending["tvg-name"],
				URL:        line,
				Attributes: pending,
			})
			pending = nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading playlist line %d: %w", lineNum, err)
	}
	if sawText && !sawHeader && len(records) == 0 {
		return nil, ErrNotPlaylist
	}

	return records, nil
}

// ParseEXTINF splits an "#EXTINF:" line into its attributes. Quoted values may contain
// spaces and commas. The text after the last unquoted comma is the display name; it is
// stored under "tvg-name" only when the line has no explicit tvg-name attribute.
func ParseEXTINF(line string) map[string]string {
	attrs := make(map[string]string)
	line = strings.TrimPrefix(line, "#EXTINF:")

	// find the last comma outside quotes separating attributes from the display name
	lastComma := -1
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				lastComma = i
			}
		}
	}

	attrPart := line
	displayName := ""
	if lastComma >= 0 {
		attrPart = line[:lastComma]
		displayName = strings.TrimSpace(line[lastComma+1:])
	}

	// duration is the first token
	rest := strings.TrimSpace(attrPart)
	if end := strings.IndexAny(rest, " \t"); end >= 0 {
		attrs["duration"] = rest[:end]
		rest = rest[end:]
	} else {
		attrs["duration"] = rest
		rest = ""
	}

	// key="value" pairs; values keep inner spaces
	for {
		rest = strings.TrimLeft(rest, " \t")
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			break
		}
		key := strings.TrimSpace(rest[:eq])
		rest = rest[eq+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				value = rest[1:]
				rest = ""
			} else {
				value = rest[1 : end+1]
				rest = rest[end+2:]
			}
		} else {
			end := strings.IndexAny(rest, " \t")
			if end < 0 {
				value = rest
				rest = ""
			} else {
				value = rest[:end]
				rest = rest[end:]
			}
		}
		if key != "" {
			attrs[key] = value
		}
	}

	if displayName != "" {
		attrs["display-name"] = displayName
	}
	if attrs["tvg-name"] == "" && displayName != "" {
		attrs["tvg-name"] = displayName
	}

	return attrs
}
