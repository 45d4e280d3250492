package player

import (
	"errors"
	"fmt"

	"teslatv/work/logger"
)

// ClientEventKind names what the page's own decoder or media element reported.
type ClientEventKind string

const (
	ClientDecoderError    ClientEventKind = "decoder_error"
	ClientMediaError      ClientEventKind = "media_error"
	ClientAutoplayBlocked ClientEventKind = "autoplay_blocked"
	ClientPlaying         ClientEventKind = "playing"
)

var (
	// ErrStaleEvent is returned by Report for an event of a session that is no longer
	// current. The event has been discarded.
	ErrStaleEvent = errors.New("event of a superseded session")

	// ErrUnknownEvent is returned by Report for a kind it does not know.
	ErrUnknownEvent = errors.New("unknown event kind")
)

// ClientEvent is one event from the playback stack running in the browser. Session is
// the session the page was showing when the event happened.
type ClientEvent struct {
	Session uint64          `json:"session"`
	Kind    ClientEventKind `json:"kind"`
	Fatal   bool            `json:"fatal"`
	Detail  string          `json:"detail,omitempty"`
}

// Report feeds an event of the browser's decoder or media element into the current
// session. It goes through the same transitions as the server-side decoder and sink
// events, so a fatal decoder error in the page triggers the native fallback once and a
// refused autoplay shows the press-play notice. Events of any other session are dropped
// with ErrStaleEvent.
func (o *Orchestrator) Report(ev ClientEvent) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess := o.current
	if sess == nil || sess.id != ev.Session || sess.ended {
		o.dropLocked(ev.Session, "client "+string(ev.Kind))
		return o.snapshotLocked(), ErrStaleEvent
	}

	switch ev.Kind {
	case ClientDecoderError:
		// after the fallback the page no longer runs a decoder for this session
		if sess.strategy != StrategyAdaptive || sess.fellBack {
			o.dropLocked(sess.id, "client decoder")
			return o.snapshotLocked(), ErrStaleEvent
		}
		o.decodeErrorLocked(sess, ev.Fatal, ev.Detail)

	case ClientMediaError:
		if !ev.Fatal {
			sess.recoveries++
			logger.Warn("{player/report - Report} session %d recoverable media error: %s", sess.id, ev.Detail)
			o.notifyLocked()
			break
		}
		o.failLocked(sess, &PlaybackError{Fatal: true, Detail: ev.Detail}, "playback")

	case ClientAutoplayBlocked:
		if !sess.awaitingGesture {
			o.autoplayBlockedLocked(sess)
		}

	case ClientPlaying:
		sess.awaitingGesture = false
		sess.verified = true
		if sess.state != StatePlaying {
			o.setStateLocked(sess, StatePlaying)
		} else {
			o.notifyLocked()
		}

	default:
		return o.snapshotLocked(), fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
	return o.snapshotLocked(), nil
}
