package listing

import (
	"errors"
	"sync"

	"teslatv/work/types"
)

// ErrUnknownRow is returned when a selection names a row id the catalog does not have.
var ErrUnknownRow = errors.New("unknown row")

// Selection tracks the single active row of one catalog list.
type Selection struct {
	mu       sync.Mutex
	activeID string
}

// Select makes id the active row and calls onSelect with its entry. An unknown id
// leaves the previous marker in place and never calls onSelect. The marker moves even
// when onSelect fails; its error is returned as-is.
func (s *Selection) Select(entries []types.ChannelEntry, id string, onSelect func(types.ChannelEntry) error) error {
	entry, ok := Find(entries, id)
	if !ok {
		return ErrUnknownRow
	}

	s.mu.Lock()
	s.activeID = entry.ID
	s.mu.Unlock()

	if onSelect == nil {
		return nil
	}
	return onSelect(entry)
}

// Active returns the id shown as active. Before any selection, or once the selected
// row disappears from the catalog, that is the first row. Empty catalogs have none.
func (s *Selection) Active(entries []types.ChannelEntry) string {
	if len(entries) == 0 {
		return ""
	}
	s.mu.Lock()
	id := s.activeID
	s.mu.Unlock()

	if id != "" {
		if _, ok := Find(entries, id); ok {
			return id
		}
	}
	return entries[0].ID
}

// Selected reports the explicitly selected id, "" before the first selection.
func (s *Selection) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// PlayActive plays whichever row Active reports.
func (s *Selection) PlayActive(entries []types.ChannelEntry, onSelect func(types.ChannelEntry) error) error {
	id := s.Active(entries)
	if id == "" {
		return ErrUnknownRow
	}
	return s.Select(entries, id, onSelect)
}
