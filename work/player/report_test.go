package player

import (
	"errors"
	"testing"
)

func TestReportDecoderErrorFallsBackToTransportStream(t *testing.T) {
	h := newHarness(t, fullCaps)

	snap, _ := h.o.Play("https://a.example/movie.m3u8", "Movie", "Movie")
	snap, err := h.o.Report(ClientEvent{Session: snap.Session, Kind: ClientDecoderError, Fatal: true, Detail: "networkError: manifestLoadError"})
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Fallback || snap.MimeHint != MimeTransportStream || snap.State != StatePlaying {
		t.Fatalf("after page decoder error: %+v", snap)
	}
	if h.decoder(0).destroyedCount() != 1 {
		t.Fatal("server decoder left running after the fallback")
	}
	sources := h.sink.snapshot().sources
	if len(sources) != 1 || sources[0].MimeHint != MimeTransportStream {
		t.Fatalf("sources = %+v", sources)
	}

	// the page has no decoder anymore, a late report of it is dropped
	if _, err := h.o.Report(ClientEvent{Session: snap.Session, Kind: ClientDecoderError, Fatal: true}); !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("second decoder error err = %v", err)
	}

	// the native element failing too ends the session
	snap, err = h.o.Report(ClientEvent{Session: snap.Session, Kind: ClientMediaError, Fatal: true, Detail: "MEDIA_ERR_SRC_NOT_SUPPORTED"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StateIdle || snap.Error == "" {
		t.Fatalf("after media error: %+v", snap)
	}
	if len(h.sink.snapshot().sources) != 1 {
		t.Fatal("a second fallback was attempted")
	}
}

func TestReportFromOldSessionIsDropped(t *testing.T) {
	h := newHarness(t, fullCaps)

	a, _ := h.o.Play("https://a.example/a.m3u8", "A", "A")
	b, _ := h.o.Play("https://a.example/b.mp4", "B", "B")

	snap, err := h.o.Report(ClientEvent{Session: a.Session, Kind: ClientMediaError, Fatal: true})
	if !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("err = %v", err)
	}
	if snap.Session != b.Session || snap.State != StatePlaying || snap.Error != "" {
		t.Fatalf("B was affected by A's event: %+v", snap)
	}
	if h.o.Dropped() != 1 {
		t.Fatalf("dropped = %d", h.o.Dropped())
	}
}

func TestReportAutoplayBlockedThenPlaying(t *testing.T) {
	h := newHarness(t, fullCaps)

	snap, _ := h.o.Play("https://a.example/film.mp4", "Film", "Film")
	snap, err := h.o.Report(ClientEvent{Session: snap.Session, Kind: ClientAutoplayBlocked, Detail: "NotAllowedError"})
	if err != nil {
		t.Fatal(err)
	}
	if !snap.AwaitingGesture || snap.State != StatePlaying || snap.Error != "" {
		t.Fatalf("after blocked autoplay: %+v", snap)
	}
	if level, msg := h.notifier.last(); level != NoticeInfo || msg != "Press play to start Film" {
		t.Fatalf("notice = %q %q", level, msg)
	}

	snap, err = h.o.Report(ClientEvent{Session: snap.Session, Kind: ClientPlaying})
	if err != nil {
		t.Fatal(err)
	}
	if snap.AwaitingGesture || !snap.Verified {
		t.Fatalf("after playing: %+v", snap)
	}
}

func TestReportUnknownKind(t *testing.T) {
	h := newHarness(t, fullCaps)

	snap, _ := h.o.Play("https://a.example/film.mp4", "Film", "Film")
	if _, err := h.o.Report(ClientEvent{Session: snap.Session, Kind: "exploded"}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("err = %v", err)
	}
	if h.o.Snapshot().State != StatePlaying {
		t.Fatal("unknown event changed the session")
	}
}
