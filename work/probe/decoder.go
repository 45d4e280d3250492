package probe

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"teslatv/work/client"
	"teslatv/work/logger"
	"teslatv/work/parser"
	"teslatv/work/player"
)

// maxManifestSize bounds manifest downloads.
const maxManifestSize = 8 << 20

// Decoder is the server-side adaptive decoder: it fetches and decodes the HLS manifest a
// session points at and reports the outcome as player events. It never decodes media.
type Decoder struct {
	client  *client.HeaderSettingClient
	timeout time.Duration
	unwrap  func(string) string

	events chan player.DecoderEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	url          string
	sink         player.MediaSink
	started      bool
	destroyed    bool
	subtitlesOff bool
	manifest     *parser.Manifest
}

// NewDecoder creates a decoder. unwrap maps a proxied URL back to its origin so the
// server does not fetch through its own proxy endpoint; nil leaves URLs alone.
func NewDecoder(httpClient *client.HeaderSettingClient, timeout time.Duration, unwrap func(string) string) *Decoder {
	ctx, cancel := context.WithCancel(context.Background())
	if unwrap == nil {
		unwrap = func(u string) string { return u }
	}
	return &Decoder{
		client:  httpClient,
		timeout: timeout,
		unwrap:  unwrap,
		events:  make(chan player.DecoderEvent, 4),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Factory returns a player.DecoderFactory building probe decoders.
func Factory(httpClient *client.HeaderSettingClient, timeout time.Duration, unwrap func(string) string) player.DecoderFactory {
	return func() player.Decoder {
		return NewDecoder(httpClient, timeout, unwrap)
	}
}

// Load sets the manifest URL. The fetch starts once a sink is attached.
func (d *Decoder) Load(url string) {
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
	d.start()
}

// Attach binds the decoder to a sink.
func (d *Decoder) Attach(sink player.MediaSink) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
	d.start()
}

// Events returns the event channel. It is closed by Destroy.
func (d *Decoder) Events() <-chan player.DecoderEvent {
	return d.events
}

// DisableSubtitles records that subtitle renditions must not be selected.
func (d *Decoder) DisableSubtitles() {
	d.mu.Lock()
	d.subtitlesOff = true
	d.mu.Unlock()
}

// SubtitlesDisabled reports whether DisableSubtitles was called.
func (d *Decoder) SubtitlesDisabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subtitlesOff
}

// Manifest returns the decoded manifest once ManifestReady was emitted.
func (d *Decoder) Manifest() *parser.Manifest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.manifest
}

// Destroy cancels any fetch in flight and closes the event channel. It is safe to call
// more than once.
func (d *Decoder) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	close(d.events)
}

func (d *Decoder) start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.destroyed || d.url == "" || d.sink == nil {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run(d.url)
}

func (d *Decoder) run(url string) {
	defer d.wg.Done()

	target := d.unwrap(url)
	manifest, err := d.fetchManifest(target)
	if err != nil {
		if d.ctx.Err() != nil {
			return
		}
		logger.Warn("{probe/decoder - run} manifest %s failed: %v", target, err)
		d.emit(player.DecoderEvent{Kind: player.DecodeError, Fatal: true, Detail: err.Error()})
		return
	}

	d.mu.Lock()
	d.manifest = manifest
	d.mu.Unlock()
	logger.Debug("{probe/decoder - run} %s manifest ready (%d variants, %d segments)", manifest.Kind, len(manifest.Variants), manifest.Segments)
	d.emit(player.DecoderEvent{Kind: player.ManifestReady})

	if manifest.Kind != parser.ManifestMaster {
		return
	}
	variant := parser.SelectVariant(manifest.Variants, "highest")
	if _, err := d.fetchManifest(variant.URI); err != nil && d.ctx.Err() == nil {
		logger.Debug("{probe/decoder - run} first variant %s failed: %v", variant.URI, err)
		d.emit(player.DecoderEvent{Kind: player.DecodeError, Fatal: false, Detail: fmt.Sprintf("level load: %v", err)})
	}
}

func (d *Decoder) fetchManifest(url string) (*parser.Manifest, error) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	body, err := d.client.Fetch(ctx, url, maxManifestSize)
	if err != nil {
		return nil, err
	}
	return parser.DecodeManifest(bytes.NewReader(body), url)
}

func (d *Decoder) emit(ev player.DecoderEvent) {
	select {
	case d.events <- ev:
	case <-d.ctx.Done():
	}
}
