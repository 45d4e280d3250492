package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"teslatv/work/filter"
)

type fakeDecoder struct {
	mu           sync.Mutex
	loaded       string
	sink         MediaSink
	events       chan DecoderEvent
	destroyed    int
	subtitlesOff bool
}

func (d *fakeDecoder) Load(url string) {
	d.mu.Lock()
	d.loaded = url
	d.mu.Unlock()
}

func (d *fakeDecoder) Attach(sink MediaSink) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
	if fs, ok := sink.(*fakeSink); ok {
		fs.attach()
	}
}

func (d *fakeDecoder) Events() <-chan DecoderEvent { return d.events }

func (d *fakeDecoder) DisableSubtitles() {
	d.mu.Lock()
	d.subtitlesOff = true
	d.mu.Unlock()
}

func (d *fakeDecoder) Destroy() {
	d.mu.Lock()
	d.destroyed++
	sink := d.sink
	d.mu.Unlock()
	if fs, ok := sink.(*fakeSink); ok && d.destroyedCount() == 1 {
		fs.detach()
	}
}

func (d *fakeDecoder) destroyedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *fakeDecoder) emit(ev DecoderEvent) { d.events <- ev }

type fakeSink struct {
	mu          sync.Mutex
	sources     []Source
	loads       int
	plays       int
	clears      int
	textOff     int
	embeds      []string
	playErrs    []error
	attached    int
	maxAttached int
	events      chan SinkEvent
}

func newFakeSink() *fakeSink {
	return &fakeSink{events: make(chan SinkEvent, 16)}
}

func (s *fakeSink) SetSource(src Source) {
	s.mu.Lock()
	s.sources = append(s.sources, src)
	s.mu.Unlock()
}

func (s *fakeSink) Load() {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
}

func (s *fakeSink) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	if len(s.playErrs) > 0 {
		err := s.playErrs[0]
		s.playErrs = s.playErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSink) Clear() {
	s.mu.Lock()
	s.clears++
	s.mu.Unlock()
}

func (s *fakeSink) DisableTextTracks() {
	s.mu.Lock()
	s.textOff++
	s.mu.Unlock()
}

func (s *fakeSink) LoadEmbed(url string) {
	s.mu.Lock()
	s.embeds = append(s.embeds, url)
	s.mu.Unlock()
}

func (s *fakeSink) Events() <-chan SinkEvent { return s.events }

func (s *fakeSink) attach() {
	s.mu.Lock()
	s.attached++
	if s.attached > s.maxAttached {
		s.maxAttached = s.attached
	}
	s.mu.Unlock()
}

func (s *fakeSink) detach() {
	s.mu.Lock()
	s.attached--
	s.mu.Unlock()
}

// sinkCounts is what the fake sink recorded so far.
type sinkCounts struct {
	sources     []Source
	loads       int
	plays       int
	clears      int
	textOff     int
	embeds      []string
	attached    int
	maxAttached int
}

func (s *fakeSink) snapshot() sinkCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sinkCounts{
		sources:     append([]Source(nil), s.sources...),
		loads:       s.loads,
		plays:       s.plays,
		clears:      s.clears,
		textOff:     s.textOff,
		embeds:      append([]string(nil), s.embeds...),
		attached:    s.attached,
		maxAttached: s.maxAttached,
	}
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	levels   []string
}

func (n *fakeNotifier) Show(level, msg string) {
	n.mu.Lock()
	n.levels = append(n.levels, level)
	n.messages = append(n.messages, msg)
	n.mu.Unlock()
}

func (n *fakeNotifier) last() (string, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return "", ""
	}
	return n.levels[len(n.levels)-1], n.messages[len(n.messages)-1]
}

type harness struct {
	o        *Orchestrator
	sink     *fakeSink
	notifier *fakeNotifier

	mu       sync.Mutex
	decoders []*fakeDecoder
}

func newHarness(t *testing.T, caps Capabilities) *harness {
	t.Helper()
	h := &harness{sink: newFakeSink(), notifier: &fakeNotifier{}}
	cfg := testConfig()
	fm := filter.NewFilterManager()
	classifier := NewClassifier(cfg, fm)
	h.o = New(Options{
		Sink:       h.sink,
		Classifier: classifier,
		Rewriter:   NewRewriter(cfg, fm, classifier),
		Notifier:   h.notifier,
		NewDecoder: func() Decoder {
			d := &fakeDecoder{events: make(chan DecoderEvent, 8)}
			h.mu.Lock()
			h.decoders = append(h.decoders, d)
			h.mu.Unlock()
			return d
		},
	})
	h.o.SetCapabilities(caps)

	ctx, cancel := context.WithCancel(context.Background())
	go h.o.Run(ctx)
	t.Cleanup(func() {
		cancel()
		h.o.Close()
	})
	return h
}

func (h *harness) decoder(i int) *fakeDecoder {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.decoders[i]
}

func (h *harness) decoderCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.decoders)
}

func (h *harness) settle(t *testing.T, id uint64) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := h.o.Wait(ctx, id)
	if err != nil {
		t.Fatalf("session %d did not settle: %v (%+v)", id, err, snap)
	}
	return snap
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var fullCaps = Capabilities{AdaptiveDecoder: true, NativeHLS: true}

func TestPlayAdaptiveStartsOnManifestReady(t *testing.T) {
	h := newHarness(t, fullCaps)

	snap, err := h.o.Play("http://a.example/tf1.m3u8", "TF1", "TF1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StateAttaching || snap.Strategy != StrategyAdaptive {
		t.Fatalf("snapshot = %+v", snap)
	}
	dec := h.decoder(0)
	if dec.loaded != "http://tv.local/proxy?url=http%3A%2F%2Fa.example%2Ftf1.m3u8" {
		t.Fatalf("decoder loaded %q, want the proxied URL", dec.loaded)
	}

	dec.emit(DecoderEvent{Kind: ManifestReady})
	snap = h.settle(t, snap.Session)
	if snap.State != StatePlaying {
		t.Fatalf("state = %s", snap.State)
	}
	sink := h.sink.snapshot()
	if !dec.subtitlesOff || sink.textOff != 1 || sink.plays != 1 {
		t.Fatalf("subtitles=%v textOff=%d plays=%d", dec.subtitlesOff, sink.textOff, sink.plays)
	}
	if len(sink.sources) != 0 {
		t.Fatalf("adaptive playback must not set a native source: %+v", sink.sources)
	}
}

func TestPlayTearsDownPreviousSessionOnce(t *testing.T) {
	h := newHarness(t, fullCaps)

	a, _ := h.o.Play("https://a.example/a.m3u8", "A", "A")
	b, _ := h.o.Play("https://a.example/b.m3u8", "B", "B")
	if b.Session != a.Session+1 {
		t.Fatalf("session ids %d then %d", a.Session, b.Session)
	}

	if got := h.decoder(0).destroyedCount(); got != 1 {
		t.Fatalf("decoder A destroyed %d times", got)
	}
	if got := h.decoder(1).destroyedCount(); got != 0 {
		t.Fatalf("decoder B destroyed %d times", got)
	}
	sink := h.sink.snapshot()
	if sink.clears != 2 {
		t.Fatalf("sink cleared %d times, want one per Play", sink.clears)
	}
	if sink.maxAttached != 1 || sink.attached != 1 {
		t.Fatalf("attached=%d max=%d, want a single decoder at a time", sink.attached, sink.maxAttached)
	}
}

func TestLateEventFromSupersededSessionIsIgnored(t *testing.T) {
	h := newHarness(t, fullCaps)

	h.o.Play("https://a.example/a.m3u8", "A", "A")
	b, _ := h.o.Play("https://a.example/b.m3u8", "B", "B")

	decA, decB := h.decoder(0), h.decoder(1)
	decA.emit(DecoderEvent{Kind: DecodeError, Fatal: true, Detail: "late"})
	decA.emit(DecoderEvent{Kind: ManifestReady})
	decB.emit(DecoderEvent{Kind: ManifestReady})

	snap := h.settle(t, b.Session)
	if snap.State != StatePlaying || snap.RowID != "B" || snap.Fallback {
		t.Fatalf("snapshot = %+v", snap)
	}
	sink := h.sink.snapshot()
	if sink.plays != 1 || len(sink.sources) != 0 {
		t.Fatalf("plays=%d sources=%+v, A must not have touched the sink", sink.plays, sink.sources)
	}
	if decA.subtitlesOff {
		t.Fatal("stale manifest event reached decoder A")
	}
}

func TestStaleSinkEventIsDropped(t *testing.T) {
	h := newHarness(t, fullCaps)

	h.o.Play("https://a.example/a.mp4", "A", "A")
	b, _ := h.o.Play("https://a.example/b.mp4", "B", "B")
	sources := h.sink.snapshot().sources
	if len(sources) != 2 || sources[0].Token == sources[1].Token {
		t.Fatalf("sources = %+v", sources)
	}

	h.sink.events <- SinkEvent{Token: sources[0].Token, Err: errors.New("A failed late")}
	eventually(t, "stale sink event to be dropped", func() bool { return h.o.Dropped() == 1 })

	snap := h.o.Snapshot()
	if snap.Session != b.Session || snap.State != StatePlaying || snap.Error != "" {
		t.Fatalf("B was affected by A's event: %+v", snap)
	}

	h.sink.events <- SinkEvent{Token: sources[1].Token}
	eventually(t, "B verified", func() bool { return h.o.Snapshot().Verified })
}

func TestFatalDecoderErrorFallsBackExactlyOnce(t *testing.T) {
	h := newHarness(t, fullCaps)

	snap, _ := h.o.Play("https://a.example/movie.m3u8", "Movie", "Movie")
	dec := h.decoder(0)
	dec.emit(DecoderEvent{Kind: DecodeError, Fatal: true, Detail: "manifestLoadError"})

	snap = h.settle(t, snap.Session)
	if snap.State != StatePlaying || !snap.Fallback || snap.MimeHint != MimeTransportStream {
		t.Fatalf("after fatal error: %+v", snap)
	}
	if dec.destroyedCount() != 1 {
		t.Fatalf("decoder destroyed %d times", dec.destroyedCount())
	}
	sources := h.sink.snapshot().sources
	if len(sources) != 1 || sources[0].URL != "https://a.example/movie.m3u8" || sources[0].MimeHint != "video/mp2t" {
		t.Fatalf("fallback sources = %+v", sources)
	}

	// Another fatal error from the destroyed decoder must not start a second fallback.
	dec.emit(DecoderEvent{Kind: DecodeError, Fatal: true, Detail: "again"})
	clearsBefore := h.sink.snapshot().clears
	h.sink.events <- SinkEvent{Token: sources[0].Token, Err: errors.New("MEDIA_ERR_SRC_NOT_SUPPORTED")}

	eventually(t, "session to fail", func() bool { return h.o.Snapshot().State == StateIdle })
	snap = h.o.Snapshot()
	if snap.Error == "" {
		t.Fatalf("failure not recorded: %+v", snap)
	}
	sink := h.sink.snapshot()
	if len(sink.sources) != 1 {
		t.Fatalf("fallback attempted %d times", len(sink.sources))
	}
	if sink.clears != clearsBefore+1 {
		t.Fatalf("sink not stopped after the failure: clears %d -> %d", clearsBefore, sink.clears)
	}
	if level, _ := h.notifier.last(); level != NoticeError {
		t.Fatalf("notice level = %q", level)
	}
	if h.decoderCount() != 1 {
		t.Fatalf("a new decoder was built during fallback")
	}
}

func TestRecoverableDecoderErrorKeepsSession(t *testing.T) {
	h := newHarness(t, fullCaps)

	snap, _ := h.o.Play("https://a.example/live/ch1", "Ch1", "Ch1")
	dec := h.decoder(0)
	dec.emit(DecoderEvent{Kind: DecodeError, Fatal: false, Detail: "fragLoadTimeOut"})
	eventually(t, "recoverable error counted", func() bool { return h.o.Snapshot().Recoveries == 1 })
	if state := h.o.Snapshot().State; state != StateAttaching {
		t.Fatalf("state after recoverable error = %s", state)
	}

	dec.emit(DecoderEvent{Kind: ManifestReady})
	snap = h.settle(t, snap.Session)
	if snap.State != StatePlaying || snap.Recoveries != 1 || snap.Fallback {
		t.Fatalf("snapshot = %+v", snap)
	}
	if dec.destroyedCount() != 0 {
		t.Fatal("decoder destroyed on a recoverable error")
	}
}

func TestEmbedSkipsDecoderAndProxy(t *testing.T) {
	h := newHarness(t, fullCaps)

	snap, err := h.o.Play("http://a.example/embed/42", "Embedded", "Embedded")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Strategy != StrategyEmbed || snap.State != StatePlaying || snap.ResolvedURL != "http://a.example/embed/42" {
		t.Fatalf("snapshot = %+v", snap)
	}
	sink := h.sink.snapshot()
	if h.decoderCount() != 0 || len(sink.sources) != 0 || sink.plays != 0 {
		t.Fatalf("embed wired playback: decoders=%d sink=%+v", h.decoderCount(), sink)
	}
	if len(sink.embeds) != 1 || sink.embeds[0] != "http://a.example/embed/42" {
		t.Fatalf("embeds = %v", sink.embeds)
	}
}

func TestAutoplayBlockedIsNotAFailure(t *testing.T) {
	h := newHarness(t, fullCaps)
	h.sink.playErrs = []error{&AutoplayBlockedError{Detail: "NotAllowedError"}}

	snap, err := h.o.Play("https://a.example/film.mp4", "Film", "Film")
	if err != nil {
		t.Fatalf("Play err = %v", err)
	}
	if snap.State != StatePlaying || !snap.AwaitingGesture || snap.Error != "" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if level, msg := h.notifier.last(); level != NoticeInfo || msg == "" {
		t.Fatalf("notice = %q %q", level, msg)
	}
}

func TestNativePlayRejectionFails(t *testing.T) {
	h := newHarness(t, Capabilities{NativeHLS: true})
	h.sink.playErrs = []error{errors.New("NotSupportedError")}

	snap, err := h.o.Play("https://a.example/s.m3u8", "S", "S")
	var perr *PlaybackError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v", err)
	}
	if snap.Strategy != StrategyNativeHLS || snap.State != StateIdle {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	h := newHarness(t, Capabilities{})

	snap, err := h.o.Play("https://a.example/s.m3u8", "S", "S")
	var unsupported *UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v", err)
	}
	if snap.State != StateIdle || snap.Error == "" || h.decoderCount() != 0 {
		t.Fatalf("snapshot = %+v decoders=%d", snap, h.decoderCount())
	}
	if level, _ := h.notifier.last(); level != NoticeError {
		t.Fatalf("notice level = %q", level)
	}

	// The player stays usable after a failure.
	if _, err := h.o.Play("https://a.example/v.mp4", "V", "V"); err != nil {
		t.Fatalf("next Play err = %v", err)
	}
}

func TestWaitReturnsWhenSuperseded(t *testing.T) {
	h := newHarness(t, fullCaps)

	a, _ := h.o.Play("https://a.example/a.m3u8", "A", "A")
	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := h.o.Wait(context.Background(), a.Session)
		done <- snap
	}()

	h.o.Play("https://a.example/b.mp4", "B", "B")
	select {
	case snap := <-done:
		if snap.RowID != "B" {
			t.Fatalf("Wait returned %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the session was superseded")
	}
}

func TestStopAndClose(t *testing.T) {
	h := newHarness(t, fullCaps)

	h.o.Play("https://a.example/a.m3u8", "A", "A")
	snap := h.o.Stop()
	if snap.State != StateIdle || h.decoder(0).destroyedCount() != 1 {
		t.Fatalf("after Stop: %+v", snap)
	}

	h.o.Close()
	if _, err := h.o.Play("https://a.example/b.mp4", "B", "B"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Play after Close err = %v", err)
	}
}
