package session

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tr1v3r/vcast/internal/engine"
	"github.com/tr1v3r/vcast/internal/engine/enginetest"
	"github.com/tr1v3r/vcast/internal/media"
)

var testSource = media.Network("https://cdn.example.com/movie.mp4", map[string]string{"Authorization": "Bearer t"})

func newTestSession(t *testing.T, opts Options) (*Session, *enginetest.Fake, *recorder) {
	t.Helper()
	fake := enginetest.New()
	rec := &recorder{}
	s, err := New(enginetest.Factory(fake), testSource, engine.WindowID(42), rec, opts)
	require.NoError(t, err)
	return s, fake, rec
}

func TestNewWiresEngine(t *testing.T) {
	s, fake, _ := newTestSession(t, Options{BufferForPlayback: 2 * time.Second})

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, []string{
		"SetListener",
		"SetFrameMetadataListener",
		"SetRenderTarget(42)",
		"SetAudioAttributes(true)",
		"SetMediaSource(https://cdn.example.com/movie.mp4)",
		"Prepare",
	}, fake.Calls())

	src := fake.Source()
	assert.Equal(t, "https://cdn.example.com/movie.mp4", src.URI)
	assert.Equal(t, map[string]string{"Authorization": "Bearer t"}, src.Headers)
	assert.Equal(t, DefaultUserAgent, src.UserAgent)
	assert.Equal(t, 2*time.Second, src.BufferForPlayback)
	assert.Equal(t, engine.AudioAttributes{ContentType: engine.ContentTypeMovie, HandleAudioFocus: true}, fake.AudioAttributes())
	assert.Equal(t, StateUninitialized, s.State())
}

func TestNewOptions(t *testing.T) {
	fake := enginetest.New()
	s, err := New(enginetest.Factory(fake), media.File("/tmp/a.mkv"), nil, nil, Options{
		MixWithOthers: true,
		UserAgent:     "custom/2",
	})
	require.NoError(t, err)

	assert.False(t, fake.AudioAttributes().HandleAudioFocus)
	assert.Equal(t, "custom/2", fake.Source().UserAgent)
	assert.Equal(t, "file:///tmp/a.mkv", fake.Source().URI)
	assert.Nil(t, fake.RenderTarget())

	// nil sink discards
	fake.SimulateReady()
	assert.Equal(t, StateReady, s.State())
}

func TestNewFailures(t *testing.T) {
	boom := errors.New("no decoder")

	_, err := New(enginetest.FailingFactory(boom), testSource, nil, nil, Options{})
	require.ErrorIs(t, err, ErrEngineInit)
	require.ErrorIs(t, err, boom)

	_, err = New(func() (engine.Engine, error) { return nil, nil }, testSource, nil, nil, Options{})
	require.ErrorIs(t, err, ErrEngineInit)

	_, err = New(nil, testSource, nil, nil, Options{})
	require.ErrorIs(t, err, ErrEngineInit)

	called := false
	_, err = New(func() (engine.Engine, error) { called = true; return enginetest.New(), nil }, media.File(""), nil, nil, Options{})
	require.ErrorIs(t, err, media.ErrInvalidSource)
	assert.False(t, called, "factory must not run for an invalid source")
}

func TestTransportCommands(t *testing.T) {
	s, fake, _ := newTestSession(t, Options{})

	s.Play()
	s.Play()
	assert.True(t, fake.Playing())
	s.Pause()
	assert.False(t, fake.Playing())

	s.SetLooping(true)
	assert.Equal(t, engine.RepeatAll, fake.RepeatMode())
	s.SetLooping(false)
	assert.Equal(t, engine.RepeatOff, fake.RepeatMode())

	s.SetPlaybackSpeed(1.5)
	assert.Equal(t, float32(1.5), fake.Speed())
	s.SetPlaybackSpeed(-2)
	assert.Equal(t, float32(-2), fake.Speed(), "speed is forwarded verbatim")

	s.SeekTo(-time.Second)
	s.SeekTo(3 * time.Second)
	assert.Equal(t, []enginetest.Seek{
		{Position: 0, Precision: engine.SeekExact},
		{Position: 3 * time.Second, Precision: engine.SeekExact},
	}, fake.SeekCalls())
}

func TestSetVolumeClamps(t *testing.T) {
	tests := []struct {
		in   float64
		want float32
	}{
		{in: -0.5, want: 0},
		{in: 0, want: 0},
		{in: 0.25, want: 0.25},
		{in: 1, want: 1},
		{in: 7, want: 1},
		{in: math.Inf(1), want: 1},
		{in: math.Inf(-1), want: 0},
		{in: math.NaN(), want: 0},
	}
	for _, tt := range tests {
		s, fake, _ := newTestSession(t, Options{})
		s.SetVolume(tt.in)
		assert.Equal(t, tt.want, fake.Volume(), "SetVolume(%v)", tt.in)
	}

	// clamping is idempotent: out-of-range values behave like the bound
	a, fa, _ := newTestSession(t, Options{})
	b, fb, _ := newTestSession(t, Options{})
	a.SetVolume(-3)
	b.SetVolume(0)
	assert.Equal(t, fb.Volume(), fa.Volume())
}

func TestSeekThenDispose(t *testing.T) {
	s, fake, rec := newTestSession(t, Options{})
	fake.SetDuration(10 * time.Second)
	fake.SetBuffered(4 * time.Second)
	assert.Equal(t, time.Duration(0), s.Position())

	fake.SimulateReady()
	require.Equal(t, []Event{Initialized{Duration: 10 * time.Second}}, rec.all())

	s.SeekTo(5 * time.Second)
	assert.Equal(t, 5*time.Second, s.Position())

	s.Dispose()
	fake.SetPosition(9 * time.Second)

	assert.True(t, s.Disposed())
	assert.Equal(t, 5*time.Second, s.Position())
	assert.Equal(t, 4*time.Second, s.BufferedPosition())
	assert.Equal(t, 10*time.Second, s.Duration())
}

func TestLoopingSuppressesCompleted(t *testing.T) {
	s, fake, rec := newTestSession(t, Options{})
	fake.SetDuration(10 * time.Second)
	fake.SimulateReady()

	s.SetLooping(true)
	s.Play()
	s.SeekTo(9 * time.Second)
	fake.ReachEnd()

	assert.Equal(t, []EventKind{KindInitialized}, rec.kinds())
	assert.Equal(t, time.Duration(0), s.Position())
	assert.True(t, fake.Playing())

	s.SetLooping(false)
	fake.ReachEnd()
	assert.Equal(t, []EventKind{KindInitialized, KindCompleted}, rec.kinds())
	assert.Equal(t, 10*time.Second, s.Position())
}

func TestDecodeErrorMidPlayback(t *testing.T) {
	s, fake, rec := newTestSession(t, Options{})
	fake.SimulateReady()
	s.Play()
	fake.SimulateBuffering(true)
	fake.SimulateError(engine.ErrCodeDecoderError, "corrupt frame")

	fake.SimulateBuffering(false)
	fake.SimulateReady()
	fake.SimulateEnded()
	fake.SimulateError(engine.ErrCodeDecoderError, "again")
	s.SendBufferingUpdate()

	assert.Equal(t, []EventKind{KindInitialized, KindBufferingStart, KindError}, rec.kinds())
	assert.Equal(t, ErrorEvent{Code: engine.ErrCodeDecoderError, Message: "corrupt frame"}, rec.all()[2])

	// the session stays queryable
	assert.Equal(t, StateErrored, s.State())
	s.Pause()
	assert.False(t, fake.Playing())
}

func TestSendBufferingUpdate(t *testing.T) {
	s, fake, rec := newTestSession(t, Options{})
	fake.SetBuffered(3 * time.Second)

	s.SendBufferingUpdate()
	assert.Empty(t, rec.all())

	fake.SimulateReady()
	s.SendBufferingUpdate()
	s.SendBufferingUpdate()
	assert.Equal(t, []Event{
		Initialized{},
		BufferingUpdate{BufferedEnd: 3 * time.Second},
		BufferingUpdate{BufferedEnd: 3 * time.Second},
	}, rec.all())

	s.Dispose()
	s.SendBufferingUpdate()
	assert.Len(t, rec.all(), 3)
}

func TestDisposeTwice(t *testing.T) {
	s, fake, _ := newTestSession(t, Options{})
	fake.SetReleaseError(errors.New("already gone"))

	s.Dispose()
	s.Dispose()

	assert.Equal(t, 1, fake.ReleaseCount())
	assert.Nil(t, fake.RenderTarget())
	calls := fake.Calls()
	assert.Equal(t, []string{"SetRenderTarget(nil)", "Release"}, calls[len(calls)-2:])
}

func TestCommandsAfterDisposeAreDropped(t *testing.T) {
	s, fake, rec := newTestSession(t, Options{})
	fake.SimulateReady()
	s.Dispose()

	s.Play()
	s.Pause()
	s.SetLooping(true)
	s.SetVolume(0.5)
	s.SetPlaybackSpeed(2)
	s.SeekTo(time.Second)
	fake.SimulateBuffering(true)
	fake.SimulateEnded()
	fake.SimulateError(engine.ErrCodeSourceError, "late")

	assert.Zero(t, fake.CallsAfterRelease())
	assert.Equal(t, []EventKind{KindInitialized}, rec.kinds())
}

func TestSinkMayIssueCommands(t *testing.T) {
	fake := enginetest.New()
	fake.SetBuffered(4 * time.Second)
	rec := &recorder{}
	var s *Session
	var states []State
	sink := SinkFunc(func(e Event) {
		states = append(states, s.State())
		if _, ok := e.(Initialized); ok {
			s.Play()
			s.SendBufferingUpdate()
			_ = s.Position()
		}
		rec.Send(e)
	})

	var err error
	s, err = New(enginetest.Factory(fake), testSource, nil, sink, Options{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		fake.SimulateReady()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sink issuing commands deadlocked")
	}
	assert.True(t, fake.Playing())
	assert.Equal(t, []EventKind{KindInitialized, KindBufferingUpdate}, rec.kinds())
	assert.Equal(t, BufferingUpdate{BufferedEnd: 4 * time.Second}, rec.all()[1])
	assert.Equal(t, []State{StateReady, StateReady}, states)
}

func TestUnknownSchemeFailsAsync(t *testing.T) {
	for _, uri := range []string{"udp://239.0.0.1:1234", "ftp://nas.local/a.mkv", "smb://nas/share/a.mkv"} {
		t.Run(uri, func(t *testing.T) {
			fake := enginetest.New()
			rec := &recorder{}
			s, err := New(enginetest.Factory(fake), media.Parse(uri, nil), nil, rec, Options{})
			require.NoError(t, err)
			assert.Equal(t, uri, fake.Source().URI)
			assert.True(t, fake.Prepared())

			fake.SimulateError(engine.ErrCodeSourceError, "unsupported protocol")
			require.Equal(t, []Event{ErrorEvent{Code: engine.ErrCodeSourceError, Message: "unsupported protocol"}}, rec.all())
			assert.Equal(t, StateErrored, s.State())
		})
	}
}

// Callbacks racing with Dispose may be delivered while Dispose runs, but never
// after it returns.
func TestNoEventsAfterDispose(t *testing.T) {
	for range 20 {
		fake := enginetest.New()
		var returned atomic.Bool
		var late atomic.Int32
		sink := SinkFunc(func(Event) {
			if returned.Load() {
				late.Add(1)
			}
		})
		s, err := New(enginetest.Factory(fake), testSource, nil, sink, Options{})
		require.NoError(t, err)
		fake.SimulateReady()

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					fake.SimulateBuffering(i%2 == 0)
					s.SendBufferingUpdate()
					s.Play()
				}
			}()
		}

		time.Sleep(time.Millisecond)
		s.Dispose()
		returned.Store(true)

		// delayed callback after dispose
		time.Sleep(time.Millisecond)
		fake.SimulateEnded()
		close(stop)
		wg.Wait()

		assert.Zero(t, late.Load())
		assert.Zero(t, fake.CallsAfterRelease())
		assert.Equal(t, 1, fake.ReleaseCount())
	}
}

func TestConcurrentDispose(t *testing.T) {
	s, fake, _ := newTestSession(t, Options{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Dispose()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fake.ReleaseCount())
	assert.True(t, s.Disposed())
}
