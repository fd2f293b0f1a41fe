// Package session owns one media engine per playback request, translates the
// engine's asynchronous signals into an ordered event stream and guarantees
// that nothing reaches the engine or the sink once Dispose has started.
package session

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/vcast/internal/engine"
	"github.com/tr1v3r/vcast/internal/media"
)

// DefaultUserAgent is sent with network sources when Options.UserAgent is empty.
var DefaultUserAgent = fmt.Sprintf("vcast/1.0 (%s; %s)", runtime.GOOS, runtime.GOARCH)

// Options are fixed for the lifetime of a session.
type Options struct {
	// MixWithOthers lets the session's audio mix with other output instead
	// of requesting exclusive audio focus.
	MixWithOthers bool
	// UserAgent overrides DefaultUserAgent.
	UserAgent string
	// BufferForPlayback is the buffered-ready threshold. Zero keeps the
	// engine default.
	BufferForPlayback time.Duration
}

// Session is a single playback request. It is created once, driven with
// transport commands and disposed once; it is never reused.
type Session struct {
	id     string
	source media.Source
	opts   Options
	bridge *bridge

	mu       sync.Mutex
	engine   engine.Engine
	target   engine.RenderTarget
	disposed bool

	// cached at dispose time
	position time.Duration
	buffered time.Duration
	duration time.Duration
}

// New builds an engine with factory, binds src as a progressive source and
// starts preparing it. Preparation is asynchronous: an unreachable source is
// reported later as an ErrorEvent, not by New.
//
// target may be nil. sink may be nil, in which case events are discarded.
func New(factory engine.Factory, src media.Source, target engine.RenderTarget, sink Sink, opts Options) (*Session, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: no engine factory", ErrEngineInit)
	}

	e, err := factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineInit, err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: factory returned no engine", ErrEngineInit)
	}

	s := &Session{
		id:       uuid.NewString(),
		source:   src,
		opts:     opts,
		engine:   e,
		target:   target,
		duration: -1,
	}
	s.bridge = newBridge(s.id, e, sink)

	e.SetListener(s.bridge)
	e.SetFrameMetadataListener(s.bridge.onFrame)
	if target != nil {
		e.SetRenderTarget(target)
	}
	e.SetAudioAttributes(engine.AudioAttributes{
		ContentType:      engine.ContentTypeMovie,
		HandleAudioFocus: !opts.MixWithOthers,
	})
	e.SetMediaSource(engine.ProgressiveSource{
		URI:               src.URI(),
		Headers:           src.Headers(),
		UserAgent:         lo.Ternary(opts.UserAgent != "", opts.UserAgent, DefaultUserAgent),
		BufferForPlayback: max(opts.BufferForPlayback, 0),
	})
	e.Prepare()

	log.Debug("session %s: created for %s", s.id, src)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Source returns the media source the session was built from.
func (s *Session) Source() media.Source { return s.source }

// Play starts or resumes playback.
func (s *Session) Play() {
	s.do("play", func(e engine.Engine) { e.Play() })
}

// Pause pauses playback.
func (s *Session) Pause() {
	s.do("pause", func(e engine.Engine) { e.Pause() })
}

// SetLooping switches between repeat-all and no repeat.
func (s *Session) SetLooping(looping bool) {
	mode := lo.Ternary(looping, engine.RepeatAll, engine.RepeatOff)
	s.do("set looping", func(e engine.Engine) { e.SetRepeatMode(mode) })
}

// SetVolume sets the volume, clamping v to [0, 1].
func (s *Session) SetVolume(v float64) {
	if math.IsNaN(v) {
		v = 0
	}
	volume := float32(lo.Clamp(v, 0, 1))
	s.do("set volume", func(e engine.Engine) { e.SetVolume(volume) })
}

// SetPlaybackSpeed forwards speed unchanged. The engine rejects values it
// cannot play.
func (s *Session) SetPlaybackSpeed(speed float64) {
	params := engine.PlaybackParameters{Speed: float32(speed)}
	s.do("set speed", func(e engine.Engine) { e.SetPlaybackParameters(params) })
}

// SeekTo seeks exactly to position. Negative positions seek to the start.
func (s *Session) SeekTo(position time.Duration) {
	position = max(position, 0)
	s.do("seek", func(e engine.Engine) { e.Seek(position, engine.SeekExact) })
}

// Position returns the current playback position, or the position at
// dispose time once disposed.
func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return s.position
	}
	return s.engine.CurrentPosition()
}

// BufferedPosition returns how far the media is buffered.
func (s *Session) BufferedPosition() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return s.buffered
	}
	return s.engine.BufferedPosition()
}

// Duration returns the media duration, negative while unknown.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return s.duration
	}
	return s.engine.Duration()
}

// State returns the event bridge state.
func (s *Session) State() State { return s.bridge.currentState() }

// Disposed reports whether Dispose has been called.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// SendBufferingUpdate emits a BufferingUpdate with the current buffered
// position. It is meant to be driven by an external ticker and is safe to
// call at any rate; it does nothing before Initialized or after Dispose.
func (s *Session) SendBufferingUpdate() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	buffered := s.engine.BufferedPosition()
	s.mu.Unlock()

	s.bridge.bufferingUpdate(buffered)
}

// Dispose stops event delivery, unbinds the render target and releases the
// engine. Only the first call has any effect.
//
// Dispose must not be called from a Sink.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.position = s.engine.CurrentPosition()
	s.buffered = s.engine.BufferedPosition()
	s.duration = s.engine.Duration()
	target := s.target
	s.target = nil
	s.mu.Unlock()

	// waits for an in-flight delivery to finish
	s.bridge.close()

	if target != nil {
		s.engine.SetRenderTarget(nil)
	}
	if err := s.engine.Release(); err != nil {
		log.Error("session %s: release engine fail: %v", s.id, err)
	}
	log.Debug("session %s: disposed at %s", s.id, s.position)
}

// do forwards a command unless the session is disposed. The check and the
// forward happen under one lock so Dispose cannot slip in between.
func (s *Session) do(name string, fn func(engine.Engine)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		log.Debug("session %s: dropping %s after dispose", s.id, name)
		return
	}
	fn(s.engine)
}
