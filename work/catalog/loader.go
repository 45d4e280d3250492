package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"teslatv/work/client"
	"teslatv/work/config"
	"teslatv/work/logger"
	"teslatv/work/parser"
	"teslatv/work/types"
	"teslatv/work/utils"
)

// maxCatalogSize bounds a catalog payload.
const maxCatalogSize = 32 << 20

// ErrUnknownCatalog is returned for catalog names that are not configured.
var ErrUnknownCatalog = errors.New("unknown catalog")

// LoadError reports that a catalog could not be fetched or parsed. Callers degrade to
// an empty list and show a notice; it never aborts the page.
type LoadError struct {
	Catalog string
	URL     string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading catalog %s: %v", e.Catalog, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// jsonEntry is one element of a JSON catalog array.
type jsonEntry struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Logo     string `json:"logo"`
	Category string `json:"category"`
	NeedsVPN bool   `json:"needsVPN"`
}

// Load fetches and decodes one catalog. Remote sources go through the shared client;
// anything that is not an http(s) URL is read from the local filesystem.
func Load(ctx context.Context, httpClient *client.HeaderSettingClient, src config.CatalogConfig) ([]types.ChannelEntry, error) {
	payload, err := fetchPayload(ctx, httpClient, src.URL)
	if err != nil {
		return nil, &LoadError{Catalog: src.Name, URL: src.URL, Err: err}
	}

	entries, err := Decode(payload, src.Format, src.Kind)
	if err != nil {
		return nil, &LoadError{Catalog: src.Name, URL: src.URL, Err: err}
	}
	return entries, nil
}

func fetchPayload(ctx context.Context, httpClient *client.HeaderSettingClient, location string) ([]byte, error) {
	if utils.IsHTTPURL(location) {
		return httpClient.Fetch(ctx, location, maxCatalogSize)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return data, nil
}

// Decode turns a raw payload into catalog entries with ids assigned. format is one of
// config.FormatJSON, config.FormatPlaylist or config.FormatAuto; kind selects whether
// movie titles are cleaned.
func Decode(payload []byte, format, kind string) ([]types.ChannelEntry, error) {
	if format == config.FormatAuto || format == "" {
		format = sniffFormat(payload)
	}

	var (
		entries []types.ChannelEntry
		err     error
	)
	switch format {
	case config.FormatJSON:
		entries, err = decodeJSON(payload)
	default:
		entries, err = decodePlaylist(payload)
	}
	if err != nil {
		return nil, err
	}

	if kind == config.KindVOD {
		for i := range entries {
			entries[i].Title = CleanTitle(entries[i].Name)
		}
	}

	AssignIDs(entries)
	return entries, nil
}

func sniffFormat(payload []byte) string {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(payload, []byte("\xef\xbb\xbf")), " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("[")) {
		return config.FormatJSON
	}
	return config.FormatPlaylist
}

func decodeJSON(payload []byte) ([]types.ChannelEntry, error) {
	var raw []jsonEntry
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog JSON: %w", err)
	}

	entries := make([]types.ChannelEntry, 0, len(raw))
	for i, r := range raw {
		name := strings.TrimSpace(r.Name)
		streamURL := strings.TrimSpace(r.URL)
		if name == "" || streamURL == "" {
			logger.Debug("{catalog/loader - decodeJSON} skipping element %d without name or url", i)
			continue
		}
		entries = append(entries, types.ChannelEntry{
			Name:      name,
			StreamURL: streamURL,
			LogoURL:   strings.TrimSpace(r.Logo),
			Category:  strings.TrimSpace(r.Category),
			NeedsVPN:  r.NeedsVPN,
		})
	}
	return entries, nil
}

func decodePlaylist(payload []byte) ([]types.ChannelEntry, error) {
	records, err := parser.ParsePlaylist(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	entries := make([]types.ChannelEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, types.ChannelEntry{
			Name:      strings.TrimSpace(rec.Name),
			StreamURL: rec.URL,
			LogoURL:   rec.Attributes["tvg-logo"],
			Category:  rec.Attributes["group-title"],
		})
	}
	return entries, nil
}

// AssignIDs derives each entry's row id from its name. Names that slugify to an id
// already taken get "-2", "-3", ... appended in catalog order, so every row keeps a
// unique lookup key.
func AssignIDs(entries []types.ChannelEntry) {
	taken := make(map[string]bool, len(entries))
	for i := range entries {
		base := utils.Slugify(entries[i].Name)
		id := base
		for n := 2; taken[id]; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		taken[id] = true
		entries[i].ID = id
	}
}
