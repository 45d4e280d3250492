package types

// ChannelEntry is one playable item of a catalog: a live channel or a movie.
// Entries are built by the catalog loader and never modified afterwards; enrichment
// and id assignment produce new values that replace the whole catalog slice.
type ChannelEntry struct {
	ID        string   `json:"id"`                // Row key derived from Name, unique within a catalog
	Name      string   `json:"name"`              // Display name as found in the source
	Title     string   `json:"title,omitempty"`   // Cleaned movie title used for search and lookups
	StreamURL string   `json:"url"`               // Original stream URL (before any proxy rewrite)
	LogoURL   string   `json:"logo,omitempty"`    // Channel logo or movie poster
	Category  string   `json:"category,omitempty"` // Channel category / playlist group-title
	NeedsVPN  bool     `json:"needsVPN"`          // Stream is geo-restricted
	Rating    string   `json:"rating,omitempty"`  // Rating text from metadata lookups
	Genres    []string `json:"genres,omitempty"`  // Genres from metadata lookups
}

// DisplayTitle is the text rows show and text filters match against: the cleaned
// title when the catalog has one, the raw name otherwise.
func (e ChannelEntry) DisplayTitle() string {
	if e.Title != "" {
		return e.Title
	}
	return e.Name
}

// HasGenre reports whether g is one of the entry's genres.
func (e ChannelEntry) HasGenre(g string) bool {
	for _, have := range e.Genres {
		if have == g {
			return true
		}
	}
	return false
}

// CatalogInfo summarises one loaded catalog for the API.
type CatalogInfo struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	Kind       string `json:"kind"`
	Hidden     bool   `json:"hidden"`
	Entries    int    `json:"entries"`
	Generation uint64 `json:"generation"`
	LoadedAt   string `json:"loadedAt,omitempty"`
	LastError  string `json:"lastError,omitempty"`
}
