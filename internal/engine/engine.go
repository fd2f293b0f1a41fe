// Package engine defines the capability a playback session drives: an opaque
// media engine that decodes and renders a progressive source into a render
// target and reports its state through raw signals.
//
// Implementations deliver Listener callbacks from their own goroutines. They
// must not hold internal locks while calling a Listener, since listeners query
// the engine back (Duration, VideoSize) from inside the callback.
package engine

import (
	"time"
)

// Canonical error codes reported through Listener.OnError. Engines map their
// native failures to these so sessions see the same values for every engine.
const (
	// ErrCodeSourceError means the media source could not be loaded: network
	// failures, invalid locations, unsupported containers.
	ErrCodeSourceError = "source_error"

	// ErrCodeDecoderError means the media could not be decoded or rendered.
	ErrCodeDecoderError = "decoder_error"

	// ErrCodePlaybackFailed is any other fatal playback failure.
	ErrCodePlaybackFailed = "playback_failed"
)

// RepeatMode is the engine-level repeat policy.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "Off"
	case RepeatAll:
		return "All"
	default:
		return "Unknown"
	}
}

// SeekPrecision selects between frame-exact and keyframe seeking.
type SeekPrecision int

const (
	SeekExact SeekPrecision = iota
	SeekApproximate
)

func (p SeekPrecision) String() string {
	switch p {
	case SeekExact:
		return "Exact"
	case SeekApproximate:
		return "Approximate"
	default:
		return "Unknown"
	}
}

// ContentType describes the audio content for engines that route audio by usage.
type ContentType int

const (
	ContentTypeUnknown ContentType = iota
	ContentTypeMovie
	ContentTypeMusic
	ContentTypeSpeech
)

// AudioAttributes are applied once per engine before playback starts.
type AudioAttributes struct {
	ContentType ContentType
	// HandleAudioFocus requests exclusive audio output. False lets the
	// engine mix with other audio on the system.
	HandleAudioFocus bool
}

// ProgressiveSource is a single-rendition media source ready for an engine.
type ProgressiveSource struct {
	URI       string
	Headers   map[string]string
	UserAgent string
	// BufferForPlayback is how much media must be buffered before the
	// engine reports ready (and resumes after a stall). Zero keeps the
	// engine default.
	BufferForPlayback time.Duration
}

// PlaybackParameters control playback rate.
type PlaybackParameters struct {
	Speed float32
}

// VideoSize is the decoded frame size plus any rotation the engine did not
// apply itself.
type VideoSize struct {
	Width                    int
	Height                   int
	UnappliedRotationDegrees int
}

// RenderTarget is an opaque handle to the surface the engine draws into.
// The host owns it; engines bind and unbind but never free it.
type RenderTarget interface {
	Handle() uintptr
}

// WindowID is a RenderTarget backed by a native window handle.
type WindowID uintptr

func (w WindowID) Handle() uintptr { return uintptr(w) }

// Listener receives raw engine signals.
type Listener interface {
	// OnReady is called when the engine can start playing without waiting.
	OnReady()
	// OnBufferingChanged is called when the engine starts or stops waiting for data.
	OnBufferingChanged(buffering bool)
	// OnEnded is called at the terminal end of the stream. Engines repeating
	// under RepeatAll do not call it on restarts.
	OnEnded()
	// OnError is called on a fatal playback error.
	OnError(code, message string)
}

// FrameMetadataListener is called before a frame is released to the render target.
type FrameMetadataListener func(presentationTime time.Duration, size VideoSize)

// Engine is the media engine capability. Transport methods are fire-and-forget:
// they must not block on the media pipeline, and failures surface later via
// Listener.OnError.
type Engine interface {
	SetListener(l Listener)
	SetFrameMetadataListener(fn FrameMetadataListener)
	// SetRenderTarget binds the engine output. nil unbinds it.
	SetRenderTarget(target RenderTarget)
	SetAudioAttributes(attrs AudioAttributes)
	SetMediaSource(src ProgressiveSource)
	// Prepare starts loading the media source asynchronously.
	Prepare()

	Play()
	Pause()
	SetRepeatMode(mode RepeatMode)
	SetVolume(volume float32)
	SetPlaybackParameters(params PlaybackParameters)
	Seek(position time.Duration, precision SeekPrecision)

	CurrentPosition() time.Duration
	BufferedPosition() time.Duration
	// Duration is the media duration, or a negative value while unknown.
	Duration() time.Duration
	// VideoSize reports the video size once known.
	VideoSize() (VideoSize, bool)

	// Release frees every resource held by the engine. The engine is
	// unusable afterwards.
	Release() error
}

// Factory builds a new engine instance. Sessions call it exactly once.
type Factory func() (Engine, error)
