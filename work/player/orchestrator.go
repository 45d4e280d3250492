package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"teslatv/work/logger"
	"teslatv/work/metrics"
)

// ErrClosed is returned by Play after Close.
var ErrClosed = errors.New("player closed")

// State of the current playback session.
type State string

const (
	StateIdle             State = "idle"
	StateResolving        State = "resolving"
	StateAttaching        State = "attaching"
	StatePlaying          State = "playing"
	StateErrorRecoverable State = "error_recoverable"
	StateErrorFatal       State = "error_fatal"
)

// Settled reports whether the state is one a session can rest in.
func (s State) Settled() bool {
	switch s {
	case StateResolving, StateAttaching, StateErrorRecoverable:
		return false
	}
	return true
}

// Snapshot is a copy of the current session, safe to hand to other goroutines.
type Snapshot struct {
	Session         uint64   `json:"session"`
	State           State    `json:"state"`
	Strategy        Strategy `json:"strategy,omitempty"`
	RowID           string   `json:"rowId,omitempty"`
	Name            string   `json:"name,omitempty"`
	SourceURL       string   `json:"sourceUrl,omitempty"`
	ResolvedURL     string   `json:"resolvedUrl,omitempty"`
	MimeHint        string   `json:"mimeHint,omitempty"`
	Fallback        bool     `json:"fallback"`
	AwaitingGesture bool     `json:"awaitingGesture"`
	Verified        bool     `json:"verified"`
	Recoveries      int      `json:"recoveries"`
	Error           string   `json:"error,omitempty"`
}

// session is one play() invocation. Every async completion carries a reference to the
// session it was started for; anything that is not the live current session is stale.
type session struct {
	id              uint64
	rowID           string
	name            string
	source          string
	resolved        string
	strategy        Strategy
	mime            string
	state           State
	decoder         Decoder
	sinkToken       uint64
	fellBack        bool
	awaitingGesture bool
	verified        bool
	recoveries      int
	err             error
	ended           bool
	done            chan struct{}
}

// Options wires an Orchestrator to its collaborators. Sink, NewDecoder and Classifier
// are required.
type Options struct {
	Sink       MediaSink
	NewDecoder DecoderFactory
	Classifier *Classifier
	Rewriter   *Rewriter
	Notifier   Notifier
}

// Orchestrator owns the playback session of one viewer: it negotiates a strategy per
// selection, drives the decoder and sink, and discards events from superseded sessions.
// All transitions happen under mu.
type Orchestrator struct {
	mu         sync.Mutex
	sink       MediaSink
	newDecoder DecoderFactory
	classifier *Classifier
	rewriter   *Rewriter
	notifier   Notifier
	caps       Capabilities

	current *session
	seq     uint64
	tokens  uint64
	changed chan struct{}
	closed  bool
	dropped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an idle orchestrator. Run must be started to receive sink events.
func New(opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		sink:       opts.Sink,
		newDecoder: opts.NewDecoder,
		classifier: opts.Classifier,
		rewriter:   opts.Rewriter,
		notifier:   opts.Notifier,
		changed:    make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetCapabilities records what the client runtime can play. It applies from the next
// Play on.
func (o *Orchestrator) SetCapabilities(caps Capabilities) {
	o.mu.Lock()
	o.caps = caps
	o.mu.Unlock()
}

// Play starts a new session for streamURL. Whatever was playing is torn down first,
// whether or not the new session gets anywhere. The returned error is an
// *UnsupportedFormatError or *PlaybackError when the session failed synchronously; a
// blocked autoplay is not an error and shows up as Snapshot.AwaitingGesture.
func (o *Orchestrator) Play(streamURL, displayName, rowID string) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return o.snapshotLocked(), ErrClosed
	}

	o.teardownLocked()

	o.seq++
	sess := &session{
		id:     o.seq,
		rowID:  rowID,
		name:   displayName,
		source: streamURL,
		state:  StateResolving,
		done:   make(chan struct{}),
	}
	o.current = sess
	o.notifyLocked()
	logger.Info("{player/orchestrator - Play} session %d: %s", sess.id, displayName)

	sess.resolved = streamURL
	if o.rewriter != nil {
		sess.resolved = o.rewriter.Rewrite(streamURL)
	}

	if streamURL == "" {
		err := &UnsupportedFormatError{URL: streamURL, Reason: "entry has no stream URL"}
		o.failLocked(sess, err, "unsupported_format")
		return o.snapshotLocked(), err
	}

	strategy, err := Negotiate(streamURL, o.caps, o.classifier)
	if err != nil {
		o.failLocked(sess, err, "unsupported_format")
		return o.snapshotLocked(), err
	}
	sess.strategy = strategy
	sess.mime = o.classifier.MimeHint(strategy, streamURL)
	metrics.PlaybackSessions.WithLabelValues(string(strategy)).Inc()
	logger.Debug("{player/orchestrator - Play} session %d strategy %s, resolved %s", sess.id, strategy, sess.resolved)

	switch strategy {
	case StrategyEmbed:
		sess.resolved = streamURL
		o.sink.LoadEmbed(streamURL)
		o.setStateLocked(sess, StatePlaying)
	case StrategyAdaptive:
		o.startAdaptiveLocked(sess)
	default:
		err = o.startNativeLocked(sess, sess.mime)
	}
	return o.snapshotLocked(), err
}

// Stop tears down the current session and leaves the player idle.
func (o *Orchestrator) Stop() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.teardownLocked()
	if o.current != nil {
		o.current.state = StateIdle
	}
	o.notifyLocked()
	return o.snapshotLocked()
}

// Snapshot returns the state of the current session.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Wait blocks until session id settles (playing, idle or failed), is superseded, or ctx
// is done. It returns the snapshot at that moment.
func (o *Orchestrator) Wait(ctx context.Context, id uint64) (Snapshot, error) {
	for {
		o.mu.Lock()
		sess := o.current
		if sess == nil || sess.id != id || sess.ended || sess.state.Settled() {
			snap := o.snapshotLocked()
			o.mu.Unlock()
			return snap, nil
		}
		changed := o.changed
		o.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return o.Snapshot(), ctx.Err()
		}
	}
}

// Dropped returns how many events were discarded because their session was no longer
// current.
func (o *Orchestrator) Dropped() uint64 {
	return o.dropped.Load()
}

// Run delivers sink events until ctx is done or the orchestrator is closed.
func (o *Orchestrator) Run(ctx context.Context) {
	events := o.sink.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.mu.Lock()
			o.handleSinkEventLocked(ev)
			o.mu.Unlock()
		}
	}
}

// Close tears down the current session and stops Run. Play fails afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.teardownLocked()
	if o.current != nil {
		o.current.state = StateIdle
	}
	o.closed = true
	o.cancel()
	o.notifyLocked()
}

func (o *Orchestrator) startAdaptiveLocked(sess *session) {
	dec := o.newDecoder()
	sess.decoder = dec
	o.setStateLocked(sess, StateAttaching)

	dec.Load(sess.resolved)
	dec.Attach(o.sink)
	go o.pump(sess, dec)
}

// startNativeLocked hands the resolved URL to the sink. It is used for the native
// strategies and for the single fallback after a fatal decoder error.
func (o *Orchestrator) startNativeLocked(sess *session, mime string) error {
	o.tokens++
	sess.sinkToken = o.tokens
	sess.mime = mime
	o.setStateLocked(sess, StateAttaching)

	o.sink.SetSource(Source{URL: sess.resolved, MimeHint: mime, Token: sess.sinkToken})
	o.sink.Load()
	if err := o.sink.Play(o.ctx); err != nil {
		var blocked *AutoplayBlockedError
		if errors.As(err, &blocked) {
			o.autoplayBlockedLocked(sess)
			return nil
		}
		perr := &PlaybackError{Fatal: true, Detail: err.Error()}
		o.failLocked(sess, perr, "playback")
		return perr
	}
	o.setStateLocked(sess, StatePlaying)
	return nil
}

// pump forwards one decoder's events until the decoder closes its channel or the
// session ends.
func (o *Orchestrator) pump(sess *session, dec Decoder) {
	events := dec.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.mu.Lock()
			o.handleDecoderEventLocked(sess, dec, ev)
			o.mu.Unlock()
		case <-sess.done:
			return
		}
	}
}

func (o *Orchestrator) handleDecoderEventLocked(sess *session, dec Decoder, ev DecoderEvent) {
	if !o.liveLocked(sess) || sess.decoder != dec {
		o.dropLocked(sess.id, ev.Kind.String())
		return
	}

	switch ev.Kind {
	case ManifestReady:
		if sess.state == StatePlaying {
			return
		}
		dec.DisableSubtitles()
		o.sink.DisableTextTracks()
		if err := o.sink.Play(o.ctx); err != nil {
			var blocked *AutoplayBlockedError
			if errors.As(err, &blocked) {
				o.autoplayBlockedLocked(sess)
				return
			}
			o.failLocked(sess, &PlaybackError{Fatal: true, Detail: err.Error()}, "playback")
			return
		}
		o.setStateLocked(sess, StatePlaying)

	case DecodeError:
		o.decodeErrorLocked(sess, ev.Fatal, ev.Detail)
	}
}

// decodeErrorLocked handles a decoder failure, whether reported by the server-side
// decoder or by the one running in the page. A recoverable error is only counted; the
// first fatal one switches the session to native playback of the same URL as a
// transport stream, and a second one ends it.
func (o *Orchestrator) decodeErrorLocked(sess *session, fatal bool, detail string) {
	if !fatal {
		sess.recoveries++
		logger.Warn("{player/orchestrator - decodeError} session %d recoverable decoder error: %s", sess.id, detail)
		if sess.state != StatePlaying {
			// the decoder heals itself and reports ManifestReady again
			o.setStateLocked(sess, StateErrorRecoverable)
			o.setStateLocked(sess, StateAttaching)
		} else {
			o.notifyLocked()
		}
		return
	}

	logger.Error("{player/orchestrator - decodeError} session %d fatal decoder error: %s", sess.id, detail)
	metrics.PlaybackErrors.WithLabelValues("decoder_fatal").Inc()
	if sess.decoder != nil {
		sess.decoder.Destroy()
		sess.decoder = nil
	}
	if sess.fellBack {
		o.failLocked(sess, &PlaybackError{Fatal: true, Detail: detail}, "playback")
		return
	}
	sess.fellBack = true
	logger.Info("{player/orchestrator - decodeError} session %d falling back to native playback (%s)", sess.id, MimeTransportStream)
	o.startNativeLocked(sess, MimeTransportStream)
}

func (o *Orchestrator) handleSinkEventLocked(ev SinkEvent) {
	sess := o.current
	if sess == nil || !o.liveLocked(sess) || ev.Token == 0 || ev.Token != sess.sinkToken {
		id := uint64(0)
		if sess != nil {
			id = sess.id
		}
		o.dropLocked(id, "sink")
		return
	}

	if ev.Err == nil {
		sess.verified = true
		o.notifyLocked()
		return
	}

	var blocked *AutoplayBlockedError
	if errors.As(ev.Err, &blocked) {
		o.autoplayBlockedLocked(sess)
		return
	}
	o.failLocked(sess, &PlaybackError{Fatal: true, Detail: ev.Err.Error()}, "playback")
}

func (o *Orchestrator) autoplayBlockedLocked(sess *session) {
	sess.awaitingGesture = true
	metrics.PlaybackErrors.WithLabelValues("autoplay_blocked").Inc()
	logger.Info("{player/orchestrator - autoplayBlocked} session %d waiting for a user gesture", sess.id)
	o.show(NoticeInfo, fmt.Sprintf("Press play to start %s", sess.name))
	o.setStateLocked(sess, StatePlaying)
}

// failLocked ends a session for good: decoder destroyed, sink stopped, player idle with
// the error recorded. There are no retries after this.
func (o *Orchestrator) failLocked(sess *session, err error, kind string) {
	sess.err = err
	if sess.decoder != nil {
		sess.decoder.Destroy()
		sess.decoder = nil
	}
	o.sink.Clear()
	o.endLocked(sess)
	metrics.PlaybackErrors.WithLabelValues(kind).Inc()
	logger.Error("{player/orchestrator - fail} session %d (%s): %v", sess.id, sess.name, err)

	var unsupported *UnsupportedFormatError
	if errors.As(err, &unsupported) {
		o.show(NoticeError, fmt.Sprintf("%s cannot be played on this device", sess.name))
	} else {
		o.show(NoticeError, fmt.Sprintf("Playback of %s failed", sess.name))
	}
	o.setStateLocked(sess, StateIdle)
}

// teardownLocked destroys the current decoder and clears the sink. It runs at the top of
// every Play, even when there is nothing to tear down.
func (o *Orchestrator) teardownLocked() {
	if sess := o.current; sess != nil && !sess.ended {
		if sess.decoder != nil {
			sess.decoder.Destroy()
			sess.decoder = nil
		}
		o.endLocked(sess)
		logger.Debug("{player/orchestrator - teardown} session %d superseded", sess.id)
	}
	o.sink.Clear()
}

func (o *Orchestrator) endLocked(sess *session) {
	if !sess.ended {
		sess.ended = true
		close(sess.done)
	}
}

func (o *Orchestrator) liveLocked(sess *session) bool {
	return sess == o.current && !sess.ended
}

func (o *Orchestrator) dropLocked(id uint64, what string) {
	o.dropped.Add(1)
	metrics.StaleEvents.Inc()
	logger.Debug("{player/orchestrator - drop} discarded stale %s event of session %d", what, id)
}

func (o *Orchestrator) setStateLocked(sess *session, state State) {
	if sess.state != state {
		logger.Debug("{player/orchestrator - setState} session %d: %s -> %s", sess.id, sess.state, state)
	}
	sess.state = state
	o.notifyLocked()
}

func (o *Orchestrator) notifyLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}

func (o *Orchestrator) show(level, msg string) {
	if o.notifier != nil {
		o.notifier.Show(level, msg)
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	sess := o.current
	if sess == nil {
		return Snapshot{State: StateIdle}
	}
	snap := Snapshot{
		Session:         sess.id,
		State:           sess.state,
		Strategy:        sess.strategy,
		RowID:           sess.rowID,
		Name:            sess.name,
		SourceURL:       sess.source,
		ResolvedURL:     sess.resolved,
		MimeHint:        sess.mime,
		Fallback:        sess.fellBack,
		AwaitingGesture: sess.awaitingGesture,
		Verified:        sess.verified,
		Recoveries:      sess.recoveries,
	}
	if sess.err != nil {
		snap.Error = sess.err.Error()
	}
	return snap
}
