package player

import "context"

// DecoderEventKind is the fixed set of events an adaptive decoder emits.
type DecoderEventKind int

const (
	ManifestReady DecoderEventKind = iota
	DecodeError
)

func (k DecoderEventKind) String() string {
	if k == ManifestReady {
		return "manifest_ready"
	}
	return "decode_error"
}

// DecoderEvent is delivered on a decoder's event channel. Fatal and Detail are only
// meaningful for DecodeError.
type DecoderEvent struct {
	Kind   DecoderEventKind
	Fatal  bool
	Detail string
}

// Decoder is an adaptive-streaming decoder bound to one playback session. A decoder is
// never reused: the orchestrator builds a fresh one per session and destroys it on
// teardown.
type Decoder interface {
	Load(url string)
	Attach(sink MediaSink)
	Events() <-chan DecoderEvent
	DisableSubtitles()
	Destroy()
}

// DecoderFactory builds a fresh decoder.
type DecoderFactory func() Decoder

// Source is what a media sink is asked to play. Token identifies the request so the
// sink's asynchronous events can be matched to the session that set it.
type Source struct {
	URL      string
	MimeHint string
	Token    uint64
}

// SinkEvent reports the outcome of a source set on the sink. A nil Err confirms
// playback started.
type SinkEvent struct {
	Token uint64
	Err   error
}

// MediaSink is the native playback element.
type MediaSink interface {
	SetSource(src Source)
	Load()
	Play(ctx context.Context) error
	Clear()
	DisableTextTracks()
	LoadEmbed(url string)
	Events() <-chan SinkEvent
}

// Notice levels passed to a Notifier.
const (
	NoticeInfo    = "info"
	NoticeWarning = "warning"
	NoticeError   = "error"
)

// Notifier shows user-visible messages.
type Notifier interface {
	Show(level, message string)
}
