package mpv

import (
	"fmt"
	"time"

	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/vcast/internal/engine"
)

// observedProperties are registered with observe_property using their
// index+1 as id.
var observedProperties = []string{
	"duration",
	"time-pos",
	"demuxer-cache-time",
	"paused-for-cache",
	"eof-reached",
	"video-params",
}

// handleEvent runs on the IPC read loop. Listeners are called without mu held.
func (e *Engine) handleEvent(msg Message) {
	switch msg.Event {
	case "property-change":
		e.onPropertyChange(msg.Name, msg.Data)
	case "file-loaded":
		e.onFileLoaded()
	case "playback-restart":
		e.onPlaybackRestart()
	case "end-file":
		if msg.Reason == "error" {
			e.fail(errorCode(msg.FileError), "mpv: "+msg.FileError)
		}
	}
}

func (e *Engine) onPropertyChange(name string, data any) {
	switch name {
	case "duration":
		if d, ok := seconds(data); ok {
			e.duration.Store(int64(d))
		}
	case "time-pos":
		if d, ok := seconds(data); ok {
			e.position.Store(int64(d))
		}
	case "demuxer-cache-time":
		if d, ok := seconds(data); ok {
			e.buffered.Store(int64(d))
		}
	case "paused-for-cache":
		if buffering, ok := data.(bool); ok {
			if l := e.currentListener(); l != nil {
				l.OnBufferingChanged(buffering)
			}
		}
	case "eof-reached":
		// stays false while loop-file=inf
		if eof, ok := data.(bool); ok && eof {
			if l := e.currentListener(); l != nil {
				l.OnEnded()
			}
		}
	case "video-params":
		size, ok := videoSize(data)
		if !ok {
			return
		}
		e.size.Store(&size)

		e.mu.Lock()
		fn := e.frameFn
		e.mu.Unlock()
		if fn != nil {
			fn(e.CurrentPosition(), size)
		}
	}
}

func (e *Engine) onFileLoaded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = true
	if s := e.pendingSeek; s != nil {
		e.pendingSeek = nil
		e.command("seek", s.position.Seconds(), seekFlags(s.precision))
	}
}

// onPlaybackRestart reports ready on the first restart after load: the first
// frame is decoded and the file can play without waiting.
func (e *Engine) onPlaybackRestart() {
	e.mu.Lock()
	first := e.loaded && !e.ready
	if first {
		e.ready = true
	}
	l := e.listener
	e.mu.Unlock()

	if first && l != nil {
		l.OnReady()
	}
}

func (e *Engine) onExit(err error) {
	e.mu.Lock()
	released := e.released
	l := e.listener
	e.mu.Unlock()
	if released {
		return
	}

	log.Error("mpv exited unexpectedly: %v", err)
	if l != nil {
		l.OnError(engine.ErrCodePlaybackFailed, fmt.Sprintf("mpv exited: %v", err))
	}
}

func (e *Engine) fail(code, message string) {
	if l := e.currentListener(); l != nil {
		l.OnError(code, message)
	}
}

func (e *Engine) currentListener() engine.Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener
}

// seconds converts a JSON number of seconds.
func seconds(data any) (time.Duration, bool) {
	f, ok := data.(float64)
	if !ok || f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

// videoSize reads video-params. mpv applies container rotation itself, so the
// display size is reported with no unapplied rotation.
func videoSize(data any) (engine.VideoSize, bool) {
	params, ok := data.(map[string]any)
	if !ok {
		return engine.VideoSize{}, false
	}

	dim := func(display, raw string) int {
		if v, ok := params[display].(float64); ok && v > 0 {
			return int(v)
		}
		if v, ok := params[raw].(float64); ok && v > 0 {
			return int(v)
		}
		return 0
	}
	size := engine.VideoSize{Width: dim("dw", "w"), Height: dim("dh", "h")}
	if size.Width == 0 || size.Height == 0 {
		return engine.VideoSize{}, false
	}
	return size, true
}
