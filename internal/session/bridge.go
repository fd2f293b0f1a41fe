package session

import (
	"sync"
	"time"

	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/vcast/internal/engine"
)

// bridge translates raw engine signals into session events.
//
// Signals are applied to the state machine under mu, which is the single
// ordering point for engines that call back from several goroutines. The
// resulting events are queued under mu and handed to the sink with mu
// released, by whichever caller found the queue idle. Signals and probes
// raised while a delivery is running, including ones issued by the sink
// itself, are queued behind it. sendMu is held for the whole delivery so
// close can wait for it.
type bridge struct {
	id     string
	engine engine.Engine
	sink   Sink

	sendMu sync.Mutex

	mu          sync.Mutex
	state       State
	initialized bool
	closed      bool
	delivering  bool
	queue       []Event
	frameSize   engine.VideoSize
	hasFrame    bool
}

// Verify bridge implements engine.Listener at compile time.
var _ engine.Listener = (*bridge)(nil)

func newBridge(id string, e engine.Engine, sink Sink) *bridge {
	if sink == nil {
		sink = discard
	}
	return &bridge{id: id, engine: e, sink: sink}
}

func (b *bridge) OnReady() {
	b.handle(func() {
		switch b.state {
		case StateUninitialized:
			b.state = StateReady
			b.initialized = true
			b.emit(b.initializedEvent())
		case StateBuffering:
			// ready implies the stall is over even if the engine skipped the edge
			b.state = StateReady
			b.emit(BufferingEnd{})
		case StateReady, StateEnded, StateErrored:
			b.ignore("ready")
		}
	})
}

func (b *bridge) OnBufferingChanged(buffering bool) {
	b.handle(func() {
		switch {
		case b.state == StateReady && buffering:
			b.state = StateBuffering
			b.emit(BufferingStart{})
		case b.state == StateBuffering && !buffering:
			b.state = StateReady
			b.emit(BufferingEnd{})
		default:
			// repeated edges, pre-ready buffering and post-terminal signals
			b.ignore("buffering")
		}
	})
}

func (b *bridge) OnEnded() {
	b.handle(func() {
		switch b.state {
		case StateUninitialized:
			// the media never became playable
			b.state = StateErrored
			b.emit(ErrorEvent{Code: engine.ErrCodePlaybackFailed, Message: "playback ended before the media was ready"})
		case StateBuffering:
			b.state = StateEnded
			b.emit(BufferingEnd{})
			b.emit(Completed{})
		case StateReady:
			b.state = StateEnded
			b.emit(Completed{})
		case StateEnded, StateErrored:
			b.ignore("ended")
		}
	})
}

func (b *bridge) OnError(code, message string) {
	b.handle(func() {
		if b.state == StateErrored {
			b.ignore("error")
			return
		}
		if code == "" {
			code = engine.ErrCodePlaybackFailed
		}
		b.state = StateErrored
		b.emit(ErrorEvent{Code: code, Message: message})
	})
}

// bufferingUpdate reports the buffered position. It is a probe: safe at any
// rate and silent before Initialized and after an error. A probe raised while
// another event is being delivered is sent right after it.
func (b *bridge) bufferingUpdate(buffered time.Duration) {
	b.handle(func() {
		if !b.initialized || b.state == StateErrored {
			return
		}
		b.emit(BufferingUpdate{BufferedEnd: buffered})
	})
}

func (b *bridge) onFrame(_ time.Duration, size engine.VideoSize) {
	b.mu.Lock()
	b.frameSize = size
	b.hasFrame = true
	b.mu.Unlock()
}

// close stops delivery and waits for an in-flight Send to return. It must
// not be called from the sink.
func (b *bridge) close() {
	b.mu.Lock()
	b.closed = true
	b.queue = nil
	b.mu.Unlock()

	// wait for an in-flight Send
	b.sendMu.Lock()
	b.sendMu.Unlock()
}

func (b *bridge) currentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// handle applies fn to the state machine and delivers what it emitted unless
// a delivery is already running, in which case that one picks it up.
func (b *bridge) handle(fn func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	fn()
	if b.delivering || len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	b.delivering = true
	b.mu.Unlock()

	b.deliver()
}

func (b *bridge) deliver() {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	for {
		b.mu.Lock()
		if b.closed || len(b.queue) == 0 {
			b.delivering = false
			b.queue = nil
			b.mu.Unlock()
			return
		}
		e := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.sink.Send(e)
	}
}

func (b *bridge) initializedEvent() Initialized {
	ev := Initialized{Duration: max(b.engine.Duration(), 0)}

	size, ok := b.engine.VideoSize()
	if !ok && b.hasFrame {
		size, ok = b.frameSize, true
	}
	if !ok || size.Width == 0 || size.Height == 0 {
		return ev
	}

	ev.RotationCorrection = normalizeRotation(size.UnappliedRotationDegrees)
	ev.Width, ev.Height = size.Width, size.Height
	if ev.RotationCorrection == 90 || ev.RotationCorrection == 270 {
		ev.Width, ev.Height = size.Height, size.Width
	}
	return ev
}

// emit queues e for delivery. Callers hold mu.
func (b *bridge) emit(e Event) {
	log.Debug("session %s: %s (state=%s)", b.id, e.Kind(), b.state)
	b.queue = append(b.queue, e)
}

func (b *bridge) ignore(signal string) {
	log.Debug("session %s: ignoring %s signal in state %s", b.id, signal, b.state)
}

// normalizeRotation keeps quarter turns and maps anything else to 0.
func normalizeRotation(degrees int) int {
	switch degrees {
	case 0, 90, 180, 270:
		return degrees
	default:
		return 0
	}
}
