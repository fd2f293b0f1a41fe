// Package mpv drives an mpv process over its JSON IPC socket as an
// engine.Engine.
package mpv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tr1v3r/pkg/log"
	"golang.org/x/time/rate"

	"github.com/tr1v3r/vcast/internal/engine"
)

// https://mpv.io/manual/stable/#properties

const (
	DefaultBinary = "mpv"

	sockPrefix          = "vcast-mpv-ipc-"
	defaultStartTimeout = 5 * time.Second
	defaultQuitTimeout  = 3 * time.Second
	socketPollInterval  = 50 * time.Millisecond
)

// Options configure how mpv is launched.
type Options struct {
	Binary     string
	Fullscreen bool
	ExtraArgs  []string

	// AssetDir is where asset sources are looked up. Asset sources fail with
	// a source error when it is empty.
	AssetDir string

	// SocketDir holds the IPC socket. Defaults to os.TempDir().
	SocketDir string
	// StartTimeout bounds the wait for the IPC socket.
	StartTimeout time.Duration
	// QuitTimeout bounds the wait for a graceful quit before mpv is killed.
	QuitTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.SocketDir == "" {
		o.SocketDir = os.TempDir()
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = defaultStartTimeout
	}
	if o.QuitTimeout <= 0 {
		o.QuitTimeout = defaultQuitTimeout
	}
	return o
}

// Factory returns an engine.Factory that fails when the mpv binary cannot be
// found.
func Factory(opts Options) engine.Factory {
	return func() (engine.Engine, error) {
		o := opts.withDefaults()
		if _, err := exec.LookPath(o.Binary); err != nil {
			return nil, fmt.Errorf("mpv not found: %w", err)
		}
		return New(o), nil
	}
}

type seekRequest struct {
	position  time.Duration
	precision engine.SeekPrecision
}

// Engine is an engine.Engine backed by one mpv process. Transport commands
// are kept as desired state until the IPC connection is up and are sent
// without waiting for replies afterwards. Position queries read values cached
// from observed properties.
type Engine struct {
	opts   Options
	launch Launcher

	mu       sync.Mutex
	listener engine.Listener
	frameFn  engine.FrameMetadataListener
	lc       launchConfig
	prepared bool
	released bool
	loaded   bool
	ready    bool

	paused      bool
	volume      float32
	speed       float32
	repeat      engine.RepeatMode
	pendingSeek *seekRequest

	ipc     *ipcConn
	proc    Process
	exited  chan struct{}
	cancel  context.CancelFunc
	started chan struct{}

	position atomic.Int64
	buffered atomic.Int64
	duration atomic.Int64
	size     atomic.Pointer[engine.VideoSize]
}

// Verify Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// New creates an engine. mpv is not started until Prepare.
func New(opts Options) *Engine {
	e := &Engine{
		opts:   opts.withDefaults(),
		launch: ExecLauncher,
		paused: true,
		volume: 1,
		speed:  1,
	}
	e.duration.Store(-1)
	return e
}

func (e *Engine) SetListener(l engine.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *Engine) SetFrameMetadataListener(fn engine.FrameMetadataListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frameFn = fn
}

// SetRenderTarget embeds mpv into target. mpv only takes a window at start,
// so after Prepare the target can be unbound (video output is disabled) but
// not replaced.
func (e *Engine) SetRenderTarget(target engine.RenderTarget) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.prepared {
		e.lc.target = target
		return
	}
	if target == nil {
		e.lc.target = nil
		e.command("set_property", "vid", "no")
		return
	}
	log.Debug("mpv: render target can not be changed after start")
}

func (e *Engine) SetAudioAttributes(attrs engine.AudioAttributes) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepared {
		log.Debug("mpv: audio attributes can not be changed after start")
		return
	}
	e.lc.attrs = attrs
}

func (e *Engine) SetMediaSource(src engine.ProgressiveSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepared {
		log.Debug("mpv: media source can not be changed after start")
		return
	}
	e.lc.source = src
}

// Prepare launches mpv and loads the media source in the background.
func (e *Engine) Prepare() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepared || e.released {
		return
	}
	e.prepared = true
	e.lc.sockPath = filepath.Join(e.opts.SocketDir, sockPrefix+uuid.NewString()+".sock")

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.started = make(chan struct{})
	go e.start(ctx, e.lc)
}

func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.command("set_property", "pause", false)
}

func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	e.command("set_property", "pause", true)
}

func (e *Engine) SetRepeatMode(mode engine.RepeatMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.repeat = mode
	e.command("set_property", "loop-file", loopFile(mode))
}

// SetVolume takes a linear volume in [0, 1]; mpv's volume property is 0-100.
func (e *Engine) SetVolume(volume float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = volume
	e.command("set_property", "volume", float64(volume)*100)
}

func (e *Engine) SetPlaybackParameters(params engine.PlaybackParameters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = params.Speed
	e.command("set_property", "speed", float64(params.Speed))
}

// Seek seeks now when a file is loaded, otherwise once it is.
func (e *Engine) Seek(position time.Duration, precision engine.SeekPrecision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position.Store(int64(position))
	if !e.loaded {
		e.pendingSeek = &seekRequest{position: position, precision: precision}
		return
	}
	e.command("seek", position.Seconds(), seekFlags(precision))
}

func (e *Engine) CurrentPosition() time.Duration { return time.Duration(e.position.Load()) }

func (e *Engine) BufferedPosition() time.Duration { return time.Duration(e.buffered.Load()) }

func (e *Engine) Duration() time.Duration { return time.Duration(e.duration.Load()) }

func (e *Engine) VideoSize() (engine.VideoSize, bool) {
	if size := e.size.Load(); size != nil {
		return *size, true
	}
	return engine.VideoSize{}, false
}

// Release quits mpv, killing it if it does not exit in time, and removes the
// IPC socket. It is safe to call more than once.
func (e *Engine) Release() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	e.released = true
	e.listener = nil
	e.frameFn = nil
	prepared, cancel, started := e.prepared, e.cancel, e.started
	e.mu.Unlock()

	if !prepared {
		return nil
	}
	cancel()
	<-started

	e.mu.Lock()
	conn, proc, exited, sockPath := e.ipc, e.proc, e.exited, e.lc.sockPath
	e.ipc, e.proc = nil, nil
	e.mu.Unlock()

	var errs []error
	if proc != nil {
		if err := e.stop(conn, proc, exited); err != nil {
			errs = append(errs, err)
		}
	}
	if conn != nil {
		if err := conn.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("removing socket file: %w", err))
	}
	return errors.Join(errs...)
}

// stop asks mpv to quit and kills it after QuitTimeout.
func (e *Engine) stop(conn *ipcConn, proc Process, exited <-chan struct{}) error {
	if conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.QuitTimeout)
		// mpv may drop the connection before replying
		_, _ = conn.call(ctx, "quit")
		cancel()

		select {
		case <-exited:
			return nil
		case <-time.After(e.opts.QuitTimeout):
			log.Info("mpv did not quit in %s, killing", e.opts.QuitTimeout)
		}
	}

	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing mpv process: %w", err)
	}
	select {
	case <-exited:
	case <-time.After(e.opts.QuitTimeout):
		return fmt.Errorf("mpv process did not exit after kill")
	}
	return nil
}

// command queues a fire-and-forget command once connected. It never waits on
// the socket. Callers hold mu.
func (e *Engine) command(args ...any) {
	if e.ipc == nil || e.released {
		return
	}
	e.ipc.do(args...)
}

func (e *Engine) start(ctx context.Context, lc launchConfig) {
	defer close(e.started)

	if lc.source.URI == "" {
		e.fail(engine.ErrCodeSourceError, "no media source")
		return
	}
	uri, err := resolveURI(lc.source.URI, e.opts.AssetDir)
	if err != nil {
		e.fail(engine.ErrCodeSourceError, err.Error())
		return
	}
	lc.source.URI = uri

	if err := e.launchAndConnect(ctx, lc); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("mpv start fail: %v", err)
		e.fail(engine.ErrCodePlaybackFailed, err.Error())
	}
}

func (e *Engine) launchAndConnect(ctx context.Context, lc launchConfig) error {
	proc, err := e.launch(ctx, e.opts.Binary, buildArgs(e.opts, lc))
	if err != nil {
		return err
	}
	exited := make(chan struct{})
	e.mu.Lock()
	e.proc, e.exited = proc, exited
	e.mu.Unlock()

	go func() {
		err := proc.Wait()
		close(exited)
		e.onExit(err)
	}()

	if err := waitForSocket(ctx, lc.sockPath, exited, e.opts.StartTimeout); err != nil {
		return err
	}
	conn, err := dialIPC(lc.sockPath, e.handleEvent)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.ipc = conn
	e.mu.Unlock()

	for i, name := range observedProperties {
		if _, err := conn.call(ctx, "observe_property", i+1, name); err != nil {
			return fmt.Errorf("observe %s: %w", name, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return nil
	}
	conn.do("set_property", "volume", float64(e.volume)*100)
	conn.do("set_property", "speed", float64(e.speed))
	conn.do("set_property", "loop-file", loopFile(e.repeat))
	conn.do("loadfile", lc.source.URI, "replace")
	if !e.paused {
		conn.do("set_property", "pause", false)
	}
	log.Debug("mpv ready on %s", lc.sockPath)
	return nil
}

// waitForSocket polls until the mpv IPC socket accepts connections.
func waitForSocket(ctx context.Context, sockPath string, exited <-chan struct{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(socketPollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("mpv socket %s not ready: %w", sockPath, err)
		}
		select {
		case <-exited:
			return fmt.Errorf("mpv exited before socket was ready")
		default:
		}

		conn, err := net.Dial("unix", sockPath)
		if err == nil {
			_ = conn.Close()
			return nil
		}
	}
}
