package listing

import (
	"sort"
	"strings"

	"teslatv/work/types"
)

// CategoryAll is the category filter value that disables category filtering.
const CategoryAll = "all"

// Notices shown in place of an empty list.
const (
	NoticeEmptyCatalog = "No channels available"
	NoticeNoResults    = "No results"
)

// Filter narrows a rendered list. Both conditions apply together; an empty Query or a
// Category of "" or "all" disables that condition.
type Filter struct {
	Query    string `json:"q"`
	Category string `json:"category"`
}

func (f Filter) matches(e types.ChannelEntry) bool {
	if q := strings.TrimSpace(f.Query); q != "" {
		if !strings.Contains(strings.ToLower(e.DisplayTitle()), strings.ToLower(q)) {
			return false
		}
	}
	if c := f.Category; c != "" && c != CategoryAll {
		if e.Category != c && !e.HasGenre(c) {
			return false
		}
	}
	return true
}

// Row is one rendered list item.
type Row struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	LogoURL  string   `json:"logo,omitempty"`
	Poster   string   `json:"poster,omitempty"`
	Category string   `json:"category,omitempty"`
	NeedsVPN bool     `json:"needsVPN"`
	Active   bool     `json:"active"`
	Rating   string   `json:"rating,omitempty"`
	Genres   []string `json:"genres,omitempty"`
}

// View is the rendered state of one catalog list.
type View struct {
	Rows       []Row    `json:"rows"`
	Total      int      `json:"total"`
	Empty      bool     `json:"empty"`
	Notice     string   `json:"notice,omitempty"`
	Categories []string `json:"categories"`
	Filter     Filter   `json:"filter"`
}

// Render builds the view of entries under filter, marking activeID as the active row.
// Rows keep catalog order; entries is never modified.
func Render(entries []types.ChannelEntry, activeID string, filter Filter) View {
	view := View{
		Rows:       make([]Row, 0, len(entries)),
		Total:      len(entries),
		Categories: Categories(entries),
		Filter:     filter,
	}

	for _, e := range entries {
		if !filter.matches(e) {
			continue
		}
		view.Rows = append(view.Rows, Row{
			ID:       e.ID,
			Name:     e.Name,
			Title:    e.DisplayTitle(),
			URL:      e.StreamURL,
			LogoURL:  e.LogoURL,
			Poster:   e.LogoURL,
			Category: e.Category,
			NeedsVPN: e.NeedsVPN,
			Active:   e.ID == activeID,
			Rating:   e.Rating,
			Genres:   e.Genres,
		})
	}

	if len(view.Rows) == 0 {
		view.Empty = true
		if len(entries) == 0 {
			view.Notice = NoticeEmptyCatalog
		} else {
			view.Notice = NoticeNoResults
		}
	}
	return view
}

// Categories returns the distinct category and genre values of entries, sorted, with
// "all" first.
func Categories(entries []types.ChannelEntry) []string {
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.Category != "" {
			seen[e.Category] = struct{}{}
		}
		for _, g := range e.Genres {
			if g != "" {
				seen[g] = struct{}{}
			}
		}
	}
	delete(seen, CategoryAll)

	out := make([]string, 0, len(seen)+1)
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return append([]string{CategoryAll}, out...)
}

// Find returns the entry with the given row id.
func Find(entries []types.ChannelEntry, id string) (types.ChannelEntry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return types.ChannelEntry{}, false
}
