package probe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"teslatv/work/client"
	"teslatv/work/logger"
	"teslatv/work/parser"
	"teslatv/work/player"
)

// probeBytes is how much of a media resource Play reads to confirm it is reachable.
const probeBytes = 64 << 10

// SinkState is what the browser-side element should currently be showing.
type SinkState struct {
	Source        player.Source `json:"source"`
	EmbedURL      string        `json:"embedUrl,omitempty"`
	Loaded        bool          `json:"loaded"`
	TextTracksOff bool          `json:"textTracksOff"`
}

// Sink is the server-side stand-in for the viewer's media element. Play verifies the
// source with a ranged GET in the background and reports the result as a sink event
// tagged with the source token.
type Sink struct {
	client  *client.HeaderSettingClient
	timeout time.Duration
	unwrap  func(string) string
	events  chan player.SinkEvent

	mu     sync.Mutex
	state  SinkState
	cancel context.CancelFunc
}

// NewSink creates an empty sink. unwrap behaves as for NewDecoder.
func NewSink(httpClient *client.HeaderSettingClient, timeout time.Duration, unwrap func(string) string) *Sink {
	if unwrap == nil {
		unwrap = func(u string) string { return u }
	}
	return &Sink{
		client:  httpClient,
		timeout: timeout,
		unwrap:  unwrap,
		events:  make(chan player.SinkEvent, 16),
	}
}

// SetSource replaces the source and cancels any probe of the previous one.
func (s *Sink) SetSource(src player.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.state = SinkState{Source: src, TextTracksOff: s.state.TextTracksOff}
}

// Load marks the source as loaded.
func (s *Sink) Load() {
	s.mu.Lock()
	s.state.Loaded = true
	s.mu.Unlock()
}

// Play starts verifying the current source. Without a source (an adaptive decoder feeds
// the element) there is nothing to verify and Play succeeds immediately.
func (s *Sink) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.state.Source
	if src.URL == "" {
		return nil
	}
	s.state.Loaded = true
	s.stopLocked()

	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	s.cancel = cancel
	go s.probe(probeCtx, src)
	return nil
}

// Clear stops playback and forgets the source.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.state = SinkState{}
}

// DisableTextTracks turns off every text track of the element.
func (s *Sink) DisableTextTracks() {
	s.mu.Lock()
	s.state.TextTracksOff = true
	s.mu.Unlock()
}

// LoadEmbed shows url in the embedded frame instead of the media element.
func (s *Sink) LoadEmbed(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.state = SinkState{EmbedURL: url}
}

// Events returns the sink event channel.
func (s *Sink) Events() <-chan player.SinkEvent {
	return s.events
}

// State returns a copy of what the element should show.
func (s *Sink) State() SinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sink) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Sink) probe(ctx context.Context, src player.Source) {
	err := s.check(ctx, src)
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	if err != nil {
		logger.Debug("{probe/sink - probe} source %d failed: %v", src.Token, err)
	}

	select {
	case s.events <- player.SinkEvent{Token: src.Token, Err: err}:
	default:
		logger.Warn("{probe/sink - probe} event queue full, dropping result for source %d", src.Token)
	}
}

func (s *Sink) check(ctx context.Context, src player.Source) error {
	target := s.unwrap(src.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-"+strconv.Itoa(probeBytes-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return &client.StatusError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, probeBytes))
	if err != nil {
		return err
	}
	if src.MimeHint == parser.MimeHLS || parser.IsManifest(resp.Header.Get("Content-Type"), target) {
		if _, err := parser.DecodeManifest(bytes.NewReader(body), target); err != nil {
			return err
		}
	}
	return nil
}
