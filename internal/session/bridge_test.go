package session

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tr1v3r/vcast/internal/engine"
	"github.com/tr1v3r/vcast/internal/engine/enginetest"
)

// recorder is a Sink that keeps every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Send(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) kinds() []EventKind {
	var kinds []EventKind
	for _, e := range r.all() {
		kinds = append(kinds, e.Kind())
	}
	return kinds
}

func newTestBridge() (*bridge, *enginetest.Fake, *recorder) {
	fake := enginetest.New()
	rec := &recorder{}
	return newBridge("test", fake, rec), fake, rec
}

func TestBridgeTransitions(t *testing.T) {
	type signal func(b *bridge)
	var (
		ready     = func(b *bridge) { b.OnReady() }
		bufOn     = func(b *bridge) { b.OnBufferingChanged(true) }
		bufOff    = func(b *bridge) { b.OnBufferingChanged(false) }
		ended     = func(b *bridge) { b.OnEnded() }
		fail      = func(b *bridge) { b.OnError(engine.ErrCodeDecoderError, "boom") }
		bufUpdate = func(b *bridge) { b.bufferingUpdate(time.Second) }
	)

	tests := []struct {
		name    string
		signals []signal
		want    []EventKind
		state   State
	}{
		{
			name:    "ready emits initialized once",
			signals: []signal{ready, ready},
			want:    []EventKind{KindInitialized},
			state:   StateReady,
		},
		{
			name:    "buffering edges only",
			signals: []signal{ready, bufOn, bufOn, bufOff, bufOff, bufOn},
			want:    []EventKind{KindInitialized, KindBufferingStart, KindBufferingEnd, KindBufferingStart},
			state:   StateBuffering,
		},
		{
			name:    "buffering before ready is suppressed",
			signals: []signal{bufOn, bufOff, ready},
			want:    []EventKind{KindInitialized},
			state:   StateReady,
		},
		{
			name:    "ready while buffering ends the stall",
			signals: []signal{ready, bufOn, ready},
			want:    []EventKind{KindInitialized, KindBufferingStart, KindBufferingEnd},
			state:   StateReady,
		},
		{
			name:    "ended emits completed once",
			signals: []signal{ready, ended, ended, ready, bufOn},
			want:    []EventKind{KindInitialized, KindCompleted},
			state:   StateEnded,
		},
		{
			name:    "ended while buffering closes the stall first",
			signals: []signal{ready, bufOn, ended},
			want:    []EventKind{KindInitialized, KindBufferingStart, KindBufferingEnd, KindCompleted},
			state:   StateEnded,
		},
		{
			name:    "ended before ready fails playback",
			signals: []signal{ended, ready, bufUpdate, ended},
			want:    []EventKind{KindError},
			state:   StateErrored,
		},
		{
			name:    "error is delivered once and is terminal",
			signals: []signal{ready, fail, fail, ready, bufOn, ended, bufUpdate},
			want:    []EventKind{KindInitialized, KindError},
			state:   StateErrored,
		},
		{
			name:    "error before ready",
			signals: []signal{fail, ready},
			want:    []EventKind{KindError},
			state:   StateErrored,
		},
		{
			name:    "error after completed",
			signals: []signal{ready, ended, fail},
			want:    []EventKind{KindInitialized, KindCompleted, KindError},
			state:   StateErrored,
		},
		{
			name:    "buffering update needs initialized",
			signals: []signal{bufUpdate, ready, bufUpdate, ended, bufUpdate},
			want:    []EventKind{KindInitialized, KindBufferingUpdate, KindCompleted, KindBufferingUpdate},
			state:   StateEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, rec := newTestBridge()
			for _, s := range tt.signals {
				s(b)
			}
			assert.Equal(t, tt.want, rec.kinds())
			assert.Equal(t, tt.state, b.currentState())
		})
	}
}

func TestBridgeErrorPayload(t *testing.T) {
	b, _, rec := newTestBridge()
	b.OnError("", "socket closed")

	require.Len(t, rec.all(), 1)
	assert.Equal(t, ErrorEvent{Code: engine.ErrCodePlaybackFailed, Message: "socket closed"}, rec.all()[0])
}

func TestBridgeEndedBeforeReady(t *testing.T) {
	b, _, rec := newTestBridge()
	b.OnEnded()

	require.Len(t, rec.all(), 1)
	ev, ok := rec.all()[0].(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, engine.ErrCodePlaybackFailed, ev.Code)
}

// A sink may query the bridge and raise probes while it is being called;
// what it raises is delivered after it returns.
func TestBridgeReentrantSink(t *testing.T) {
	fake := enginetest.New()
	rec := &recorder{}
	var b *bridge
	var seen []State
	b = newBridge("test", fake, SinkFunc(func(e Event) {
		seen = append(seen, b.currentState())
		if _, ok := e.(Initialized); ok {
			b.bufferingUpdate(2 * time.Second)
			b.OnBufferingChanged(true)
		}
		rec.Send(e)
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.OnReady()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reentrant sink blocked the engine callback")
	}

	assert.Equal(t, []EventKind{KindInitialized, KindBufferingUpdate, KindBufferingStart}, rec.kinds())
	assert.Equal(t, BufferingUpdate{BufferedEnd: 2 * time.Second}, rec.all()[1])
	assert.Equal(t, []State{StateReady, StateBuffering, StateBuffering}, seen)
}

// close waits for a Send in progress and nothing is sent afterwards.
func TestBridgeCloseWaitsForDelivery(t *testing.T) {
	fake := enginetest.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{}
	b := newBridge("test", fake, SinkFunc(func(e Event) {
		if _, ok := e.(Initialized); ok {
			close(entered)
			<-release
		}
		rec.Send(e)
	}))

	go b.OnReady()
	<-entered
	b.OnBufferingChanged(true)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		b.close()
	}()

	select {
	case <-closed:
		t.Fatal("close returned during delivery")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-closed

	b.OnEnded()
	assert.Equal(t, []EventKind{KindInitialized}, rec.kinds())
}

func TestBridgeInitializedMetadata(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		size     *engine.VideoSize
		frame    *engine.VideoSize
		want     Initialized
	}{
		{
			name:     "unknown duration reports zero",
			duration: -1,
			want:     Initialized{},
		},
		{
			name:     "engine size",
			duration: 10 * time.Second,
			size:     &engine.VideoSize{Width: 1920, Height: 1080},
			want:     Initialized{Duration: 10 * time.Second, Width: 1920, Height: 1080},
		},
		{
			name:     "quarter turn swaps dimensions",
			duration: time.Minute,
			size:     &engine.VideoSize{Width: 1920, Height: 1080, UnappliedRotationDegrees: 90},
			want:     Initialized{Duration: time.Minute, Width: 1080, Height: 1920, RotationCorrection: 90},
		},
		{
			name:     "half turn keeps dimensions",
			duration: time.Minute,
			size:     &engine.VideoSize{Width: 640, Height: 480, UnappliedRotationDegrees: 180},
			want:     Initialized{Duration: time.Minute, Width: 640, Height: 480, RotationCorrection: 180},
		},
		{
			name:     "odd rotation is dropped",
			duration: time.Minute,
			size:     &engine.VideoSize{Width: 640, Height: 480, UnappliedRotationDegrees: 45},
			want:     Initialized{Duration: time.Minute, Width: 640, Height: 480},
		},
		{
			name:     "zero size is not reported",
			duration: time.Minute,
			size:     &engine.VideoSize{UnappliedRotationDegrees: 90},
			want:     Initialized{Duration: time.Minute},
		},
		{
			name:     "falls back to last frame size",
			duration: time.Minute,
			frame:    &engine.VideoSize{Width: 720, Height: 1280, UnappliedRotationDegrees: 270},
			want:     Initialized{Duration: time.Minute, Width: 1280, Height: 720, RotationCorrection: 270},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, fake, rec := newTestBridge()
			fake.SetDuration(tt.duration)
			if tt.size != nil {
				fake.SetVideoSize(*tt.size)
			}
			if tt.frame != nil {
				b.onFrame(40*time.Millisecond, *tt.frame)
			}
			b.OnReady()

			require.Len(t, rec.all(), 1)
			assert.Equal(t, tt.want, rec.all()[0])
		})
	}
}

func TestBridgeClosedDropsSignals(t *testing.T) {
	b, _, rec := newTestBridge()
	b.OnReady()
	b.close()

	b.OnBufferingChanged(true)
	b.OnEnded()
	b.OnError(engine.ErrCodeSourceError, "late")
	b.bufferingUpdate(time.Second)

	assert.Equal(t, []EventKind{KindInitialized}, rec.kinds())
}

// Random signal sequences from several goroutines must still satisfy the
// ordering rules of the event stream.
func TestBridgeOrderingProperties(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		b, fake, rec := newTestBridge()
		fake.SetDuration(10 * time.Second)

		var wg sync.WaitGroup
		for g := range 4 {
			wg.Add(1)
			go func(r *rand.Rand) {
				defer wg.Done()
				for range 50 {
					switch r.Intn(10) {
					case 0:
						b.OnReady()
					case 1, 2, 3:
						b.OnBufferingChanged(true)
					case 4, 5, 6:
						b.OnBufferingChanged(false)
					case 7:
						b.bufferingUpdate(time.Second)
					case 8:
						if r.Intn(10) == 0 {
							b.OnEnded()
						}
					case 9:
						if r.Intn(20) == 0 {
							b.OnError(engine.ErrCodeSourceError, "x")
						}
					}
				}
			}(rand.New(rand.NewSource(seed*10 + int64(g))))
		}
		wg.Wait()

		checkEventOrder(t, rec.kinds())
	}
}

func checkEventOrder(t *testing.T, kinds []EventKind) {
	t.Helper()

	initialized, buffering, terminal := 0, false, false
	for i, k := range kinds {
		require.Falsef(t, terminal && k != KindError && k != KindBufferingUpdate,
			"event %d (%s) after terminal event in %v", i, k, kinds)

		switch k {
		case KindInitialized:
			initialized++
			require.Equalf(t, 0, i, "initialized must come first: %v", kinds)
		case KindBufferingStart:
			require.Falsef(t, buffering, "double buffering start at %d: %v", i, kinds)
			buffering = true
		case KindBufferingEnd:
			require.Truef(t, buffering, "buffering end without start at %d: %v", i, kinds)
			buffering = false
		case KindCompleted:
			require.Equalf(t, 1, initialized, "completed before initialized: %v", kinds)
			require.Falsef(t, buffering, "completed while buffering: %v", kinds)
			terminal = true
		case KindError:
			if i+1 < len(kinds) {
				require.Failf(t, "events after error", "%v", kinds)
			}
			terminal = true
		case KindBufferingUpdate:
			require.Equalf(t, 1, initialized, "buffering update before initialized: %v", kinds)
		}
	}
	require.LessOrEqual(t, initialized, 1)
}

func TestNormalizeRotation(t *testing.T) {
	for in, want := range map[int]int{0: 0, 90: 90, 180: 180, 270: 270, -90: 0, 360: 0, 45: 0} {
		assert.Equal(t, want, normalizeRotation(in), "rotation %d", in)
	}
}
