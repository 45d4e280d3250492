package status

import (
	"sync"
	"time"

	"teslatv/work/logger"
)

// ClockLayout is the 24h hours:minutes format of the page clock.
const ClockLayout = "15:04"

// Clock formats now in loc for the page header. A nil loc means local time.
func Clock(now time.Time, loc *time.Location) string {
	if loc != nil {
		now = now.In(loc)
	}
	return now.Format(ClockLayout)
}

// Notice is one user-visible message.
type Notice struct {
	ID    uint64    `json:"id"`
	Level string    `json:"level"`
	Text  string    `json:"text"`
	Shown time.Time `json:"shown"`
}

// Board is a viewer's message box. It only holds the latest notice: a new message
// replaces the one on display.
type Board struct {
	mu     sync.Mutex
	latest *Notice
	nextID uint64
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{}
}

// Show replaces the current notice.
func (b *Board) Show(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.latest = &Notice{ID: b.nextID, Level: level, Text: message, Shown: time.Now()}
	logger.Debug("{status - Show} [%s] %s", level, message)
}

// Latest returns the notice on display, if any.
func (b *Board) Latest() (Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return Notice{}, false
	}
	return *b.latest, true
}

// Dismiss clears the notice with the given id. An id of zero clears whatever is
// shown; a stale id leaves a newer notice in place.
func (b *Board) Dismiss(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil || (id != 0 && b.latest.ID != id) {
		return false
	}
	b.latest = nil
	return true
}
