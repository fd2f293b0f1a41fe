// Package enginetest provides a scriptable engine.Engine for tests.
package enginetest

import (
	"fmt"
	"sync"
	"time"

	"github.com/tr1v3r/vcast/internal/engine"
)

// Seek records one Seek call.
type Seek struct {
	Position  time.Duration
	Precision engine.SeekPrecision
}

// Fake is a test double for engine.Engine. It is safe for concurrent use;
// signal helpers call the listener without holding the fake's lock, the same
// way real engines must.
type Fake struct {
	mu sync.Mutex

	listener engine.Listener
	frameFn  engine.FrameMetadataListener
	target   engine.RenderTarget
	attrs    engine.AudioAttributes
	source   engine.ProgressiveSource
	prepared bool
	playing  bool
	repeat   engine.RepeatMode
	volume   float32
	speed    float32

	position time.Duration
	buffered time.Duration
	duration time.Duration
	size     engine.VideoSize
	hasSize  bool

	calls        []string
	seeks        []Seek
	released     int
	afterRelease int
	releaseErr   error
}

// New creates a fake engine with an unknown duration and volume 1.
func New() *Fake {
	return &Fake{duration: -1, volume: 1, speed: 1}
}

// Factory returns an engine.Factory that always hands out f.
func Factory(f *Fake) engine.Factory {
	return func() (engine.Engine, error) { return f, nil }
}

// FailingFactory returns an engine.Factory that always fails with err.
func FailingFactory(err error) engine.Factory {
	return func() (engine.Engine, error) { return nil, err }
}

func (f *Fake) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	if f.released > 0 {
		f.afterRelease++
	}
}

func (f *Fake) SetListener(l engine.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
	f.record("SetListener")
}

func (f *Fake) SetFrameMetadataListener(fn engine.FrameMetadataListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frameFn = fn
	f.record("SetFrameMetadataListener")
}

func (f *Fake) SetRenderTarget(target engine.RenderTarget) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = target
	if target == nil {
		f.record("SetRenderTarget(nil)")
		return
	}
	f.record("SetRenderTarget(%d)", target.Handle())
}

func (f *Fake) SetAudioAttributes(attrs engine.AudioAttributes) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attrs = attrs
	f.record("SetAudioAttributes(%v)", attrs.HandleAudioFocus)
}

func (f *Fake) SetMediaSource(src engine.ProgressiveSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = src
	f.record("SetMediaSource(%s)", src.URI)
}

func (f *Fake) Prepare() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = true
	f.record("Prepare")
}

func (f *Fake) Play() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
	f.record("Play")
}

func (f *Fake) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
	f.record("Pause")
}

func (f *Fake) SetRepeatMode(mode engine.RepeatMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repeat = mode
	f.record("SetRepeatMode(%s)", mode)
}

func (f *Fake) SetVolume(volume float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = volume
	f.record("SetVolume(%g)", volume)
}

func (f *Fake) SetPlaybackParameters(params engine.PlaybackParameters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speed = params.Speed
	f.record("SetPlaybackParameters(%g)", params.Speed)
}

func (f *Fake) Seek(position time.Duration, precision engine.SeekPrecision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, Seek{Position: position, Precision: precision})
	f.position = position
	f.record("Seek(%s,%s)", position, precision)
}

func (f *Fake) CurrentPosition() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *Fake) BufferedPosition() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

func (f *Fake) Duration() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *Fake) VideoSize() (engine.VideoSize, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size, f.hasSize
}

func (f *Fake) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	f.calls = append(f.calls, "Release")
	return f.releaseErr
}

// Test helpers

func (f *Fake) SetDuration(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.duration = d
}

func (f *Fake) SetPosition(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = d
}

func (f *Fake) SetBuffered(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffered = d
}

func (f *Fake) SetVideoSize(size engine.VideoSize) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.size = size
	f.hasSize = true
}

func (f *Fake) SetReleaseError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseErr = err
}

func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) SeekCalls() []Seek {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Seek(nil), f.seeks...)
}

func (f *Fake) Source() engine.ProgressiveSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.source
}

func (f *Fake) AudioAttributes() engine.AudioAttributes {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attrs
}

func (f *Fake) RenderTarget() engine.RenderTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

func (f *Fake) Prepared() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepared
}

func (f *Fake) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *Fake) RepeatMode() engine.RepeatMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repeat
}

func (f *Fake) Volume() float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

func (f *Fake) Speed() float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed
}

// ReleaseCount returns how many times Release was called.
func (f *Fake) ReleaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// CallsAfterRelease counts commands issued after the first Release.
func (f *Fake) CallsAfterRelease() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.afterRelease
}

func (f *Fake) currentListener() engine.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

// SimulateReady fires OnReady.
func (f *Fake) SimulateReady() {
	if l := f.currentListener(); l != nil {
		l.OnReady()
	}
}

// SimulateBuffering fires OnBufferingChanged.
func (f *Fake) SimulateBuffering(buffering bool) {
	if l := f.currentListener(); l != nil {
		l.OnBufferingChanged(buffering)
	}
}

// SimulateEnded fires OnEnded.
func (f *Fake) SimulateEnded() {
	if l := f.currentListener(); l != nil {
		l.OnEnded()
	}
}

// SimulateError fires OnError.
func (f *Fake) SimulateError(code, message string) {
	if l := f.currentListener(); l != nil {
		l.OnError(code, message)
	}
}

// SimulateFrame fires the frame metadata listener.
func (f *Fake) SimulateFrame(pts time.Duration, size engine.VideoSize) {
	f.mu.Lock()
	fn := f.frameFn
	f.mu.Unlock()
	if fn != nil {
		fn(pts, size)
	}
}

// ReachEnd plays the stream to its end the way a real engine would: under
// RepeatAll the position wraps to zero and no end signal fires.
func (f *Fake) ReachEnd() {
	f.mu.Lock()
	repeat := f.repeat
	if repeat == engine.RepeatAll {
		f.position = 0
	} else if f.duration > 0 {
		f.position = f.duration
		f.playing = false
	}
	f.mu.Unlock()

	if repeat != engine.RepeatAll {
		f.SimulateEnded()
	}
}

// Verify Fake implements engine.Engine at compile time.
var _ engine.Engine = (*Fake)(nil)
