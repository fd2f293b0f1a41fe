package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/vcast/internal/config"
	"github.com/tr1v3r/vcast/internal/engine"
	"github.com/tr1v3r/vcast/internal/media"
	"github.com/tr1v3r/vcast/internal/monitoring"
	"github.com/tr1v3r/vcast/internal/session"
)

// TransportState is the AVTransport state variable.
type TransportState string

const (
	Stopped        TransportState = "STOPPED"
	Playing        TransportState = "PLAYING"
	PausedPlayback TransportState = "PAUSED_PLAYBACK"
	Transitioning  TransportState = "TRANSITIONING"
	NoMediaPresent TransportState = "NO_MEDIA_PRESENT"
)

// PlayMode is the AVTransport CurrentPlayMode.
type PlayMode string

const (
	PlayModeNormal    PlayMode = "NORMAL"
	PlayModeRepeatOne PlayMode = "REPEAT_ONE"
	PlayModeRepeatAll PlayMode = "REPEAT_ALL"
)

// Looping reports whether the mode repeats the current media.
func (m PlayMode) Looping() bool {
	return m == PlayModeRepeatOne || m == PlayModeRepeatAll
}

var (
	ErrNoContent       = errors.New("no content selected")
	ErrNoSession       = errors.New("no active session")
	ErrInvalidPlayMode = errors.New("invalid play mode")
	ErrInvalidSpeed    = errors.New("invalid play speed")
)

// Renderer is the shared state of the media renderer. It owns one playback
// session per controller and mirrors session events into the transport state.
type Renderer struct {
	ctx     context.Context
	cfg     config.Config
	factory engine.Factory
	target  engine.RenderTarget
	metrics *monitoring.Metrics
	now     func() time.Time

	mu             sync.RWMutex
	entries        map[string]*entry
	TransportURI   string
	TransportMeta  string
	TransportState TransportState
	PlayMode       PlayMode
	Speed          float64
	Volume         int
	Mute           bool

	SessionOwner string
	SessionSince time.Time
}

type entry struct {
	key     string
	uri     string
	session *session.Session
	queue   *session.Queue

	wantPlaying bool
	lastUsed    time.Time
	createdAt   time.Time

	stop chan struct{}
	once sync.Once
}

// New creates a renderer that builds engines with factory.
func New(ctx context.Context, cfg config.Config, factory engine.Factory) *Renderer {
	if cfg.Playback.BufferingUpdateInterval <= 0 {
		cfg.Playback.BufferingUpdateInterval = config.DefaultBufferingUpdateInterval
	}
	if cfg.Playback.IdleTimeout <= 0 {
		cfg.Playback.IdleTimeout = config.DefaultIdleTimeout
	}
	return &Renderer{
		ctx:     ctx,
		cfg:     cfg,
		factory: factory,
		metrics: monitoring.GetMetrics(),
		now:     time.Now,
		entries: make(map[string]*entry),

		TransportState: NoMediaPresent,
		PlayMode:       PlayModeNormal,
		Speed:          1,
		Volume:         50,
		Mute:           false,
	}
}

func (r *Renderer) Context() context.Context { return r.ctx }

// SetRenderTarget sets the surface new sessions render into.
func (r *Renderer) SetRenderTarget(target engine.RenderTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = target
}

// Play starts or resumes playback of the current URI for controller. A
// session is created when the controller has none, or when its session plays
// a different URI or has finished.
func (r *Renderer) Play(controller string) error {
	r.mu.Lock()
	expired := r.cleanupExpired()

	if r.TransportURI == "" {
		r.mu.Unlock()
		r.dispose(expired...)
		return ErrNoContent
	}

	e, stale, err := r.entryFor(controller)
	expired = append(expired, stale...)
	if err != nil {
		r.TransportState = Stopped
		r.mu.Unlock()
		r.dispose(expired...)
		return err
	}

	e.wantPlaying = true
	e.lastUsed = r.now()
	r.TransportState = lo.Ternary(e.session.State() == session.StateReady, Playing, Transitioning)
	s := e.session
	r.mu.Unlock()

	r.dispose(expired...)
	s.Play()
	return nil
}

// Pause pauses controller's session.
func (r *Renderer) Pause(controller string) error {
	r.mu.Lock()
	e := r.activeEntry(controller)
	if e == nil {
		r.mu.Unlock()
		return ErrNoSession
	}
	e.wantPlaying = false
	e.lastUsed = r.now()
	if e.session.State() == session.StateReady {
		r.TransportState = PausedPlayback
	}
	s := e.session
	r.mu.Unlock()

	s.Pause()
	return nil
}

// Seek moves controller's session to position.
func (r *Renderer) Seek(controller string, position time.Duration) error {
	r.mu.Lock()
	e := r.activeEntry(controller)
	if e == nil {
		r.mu.Unlock()
		return ErrNoSession
	}
	e.lastUsed = r.now()
	s := e.session
	r.mu.Unlock()

	s.SeekTo(position)
	return nil
}

// Stop disposes every session.
func (r *Renderer) Stop() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	// Clear sessions map after stopping all
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	r.dispose(entries...)
}

// entryFor returns controller's entry, creating a session when needed. Other
// controllers' sessions are handed back for disposal: the renderer shows one
// thing at a time. Callers hold r.mu.
func (r *Renderer) entryFor(controller string) (*entry, []*entry, error) {
	var stale []*entry
	for key, e := range r.entries {
		if key == controller && e.uri == r.TransportURI && !e.session.State().IsTerminal() && !e.session.Disposed() {
			continue
		}
		stale = append(stale, e)
		delete(r.entries, key)
	}
	if e, ok := r.entries[controller]; ok {
		return e, stale, nil
	}

	e, err := r.newEntry(controller, r.TransportURI)
	if err != nil {
		return nil, stale, err
	}
	r.entries[controller] = e
	return e, stale, nil
}

func (r *Renderer) newEntry(controller, uri string) (*entry, error) {
	q := session.NewQueue()
	s, err := session.New(r.factory, media.Parse(uri, nil), r.target, q, session.Options{
		MixWithOthers:     r.cfg.Playback.MixWithOthers,
		UserAgent:         r.cfg.Playback.UserAgent,
		BufferForPlayback: r.cfg.Playback.BufferForPlayback,
	})
	if err != nil {
		q.Close()
		r.metrics.RecordSessionFailure()
		log.CtxError(r.ctx, "create session for %s fail: %v", uri, err)
		return nil, fmt.Errorf("create session: %w", err)
	}
	r.metrics.RecordSessionCreated()

	s.SetVolume(r.effectiveVolume())
	s.SetLooping(r.PlayMode.Looping())
	if r.Speed != 1 {
		s.SetPlaybackSpeed(r.Speed)
	}

	now := r.now()
	e := &entry{
		key:       controller,
		uri:       uri,
		session:   s,
		queue:     q,
		lastUsed:  now,
		createdAt: now,
		stop:      make(chan struct{}),
	}
	go r.consume(e)
	go r.heartbeat(e)

	log.CtxInfo(r.ctx, "session %s created for controller %s: %s", s.ID(), controller, uri)
	return e, nil
}

// consume mirrors e's events into the transport state while e is current.
func (r *Renderer) consume(e *entry) {
	for ev := range e.queue.Events() {
		r.metrics.RecordEvent(ev.Kind().String())

		r.mu.Lock()
		if r.entries[e.key] != e {
			r.mu.Unlock()
			continue
		}
		switch ev := ev.(type) {
		case session.Initialized:
			log.CtxInfo(r.ctx, "session %s ready: duration=%s size=%dx%d", e.session.ID(), ev.Duration, ev.Width, ev.Height)
			r.TransportState = lo.Ternary(e.wantPlaying, Playing, PausedPlayback)
		case session.BufferingStart:
			r.TransportState = Transitioning
		case session.BufferingEnd:
			r.TransportState = lo.Ternary(e.wantPlaying, Playing, PausedPlayback)
		case session.BufferingUpdate:
			log.CtxDebug(r.ctx, "session %s buffered to %s", e.session.ID(), ev.BufferedEnd)
		case session.Completed:
			e.wantPlaying = false
			e.lastUsed = r.now()
			r.TransportState = Stopped
		case session.ErrorEvent:
			log.CtxError(r.ctx, "session %s playback error %s: %s", e.session.ID(), ev.Code, ev.Message)
			r.metrics.RecordPlaybackError(ev.Code)
			e.wantPlaying = false
			e.lastUsed = r.now()
			r.TransportState = Stopped
		}
		r.mu.Unlock()
	}
}

// heartbeat asks e's session for buffer progress until e is disposed.
func (r *Renderer) heartbeat(e *entry) {
	ticker := time.NewTicker(r.cfg.Playback.BufferingUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			e.session.SendBufferingUpdate()
		}
	}
}

// dispose tears sessions down. Callers must not hold r.mu.
func (r *Renderer) dispose(entries ...*entry) {
	for _, e := range entries {
		e.once.Do(func() {
			close(e.stop)
			e.session.Dispose()
			e.queue.Close()
			r.metrics.RecordSessionDisposed()
			log.CtxInfo(r.ctx, "session %s disposed (controller %s, lived %s)", e.session.ID(), e.key, r.now().Sub(e.createdAt).Round(time.Second))
		})
	}
}

// cleanupExpired removes idle sessions that are not playing. Callers hold
// r.mu and dispose the result after unlocking.
func (r *Renderer) cleanupExpired() []*entry {
	now := r.now()
	var expired []*entry
	for key, e := range r.entries {
		if e.wantPlaying && !e.session.State().IsTerminal() {
			continue
		}
		if now.Sub(e.lastUsed) > r.cfg.Playback.IdleTimeout {
			expired = append(expired, e)
			delete(r.entries, key)
		}
	}
	return expired
}

// CleanupExpired disposes idle sessions.
func (r *Renderer) CleanupExpired() {
	r.mu.Lock()
	expired := r.cleanupExpired()
	r.mu.Unlock()

	r.dispose(expired...)
}

// activeEntry returns controller's entry or, failing that, the session
// owner's. Callers hold r.mu.
func (r *Renderer) activeEntry(controller string) *entry {
	if e, ok := r.entries[controller]; ok {
		return e
	}
	if e, ok := r.entries[r.SessionOwner]; ok {
		return e
	}
	for _, e := range r.entries {
		return e
	}
	return nil
}

// GetActiveSession returns the session that is currently rendering, or nil.
func (r *Renderer) GetActiveSession() *session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.activeEntry(r.SessionOwner); e != nil {
		return e.session
	}
	return nil
}

// PositionInfo returns position and duration of the active session.
func (r *Renderer) PositionInfo() (position, duration time.Duration, ok bool) {
	s := r.GetActiveSession()
	if s == nil {
		return 0, 0, false
	}
	return s.Position(), s.Duration(), true
}

func (r *Renderer) GetURI() (string, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.TransportURI, r.TransportMeta
}

func (r *Renderer) SetURI(uri, meta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TransportURI = uri
	r.TransportMeta = meta
	r.TransportState = lo.Ternary(uri == "", NoMediaPresent, Stopped)
}

func (r *Renderer) SetTransportState(st TransportState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TransportState = st
}

func (r *Renderer) GetTransportState() TransportState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.TransportState
}

func (r *Renderer) GetPlayMode() PlayMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.PlayMode
}

// SetPlayMode stores mode and applies looping to every session.
func (r *Renderer) SetPlayMode(mode PlayMode) error {
	switch mode {
	case PlayModeNormal, PlayModeRepeatOne, PlayModeRepeatAll:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPlayMode, mode)
	}

	r.mu.Lock()
	r.PlayMode = mode
	sessions := r.sessions()
	r.mu.Unlock()

	for _, s := range sessions {
		s.SetLooping(mode.Looping())
	}
	return nil
}

func (r *Renderer) GetSpeed() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Speed
}

// SetSpeed stores the playback rate and applies it to every session.
func (r *Renderer) SetSpeed(speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidSpeed, speed)
	}

	r.mu.Lock()
	r.Speed = speed
	sessions := r.sessions()
	r.mu.Unlock()

	for _, s := range sessions {
		s.SetPlaybackSpeed(speed)
	}
	return nil
}

func (r *Renderer) GetVolume() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Volume
}

// SetVolume stores v (0 to 100) and applies it to every session unless muted.
func (r *Renderer) SetVolume(v int) {
	r.mu.Lock()
	r.Volume = lo.Clamp(v, 0, 100)
	volume := r.effectiveVolume()
	sessions := r.sessions()
	r.mu.Unlock()

	for _, s := range sessions {
		s.SetVolume(volume)
	}
}

func (r *Renderer) GetMute() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Mute
}

// SetMute silences every session, or restores the stored volume.
func (r *Renderer) SetMute(m bool) {
	r.mu.Lock()
	r.Mute = m
	volume := r.effectiveVolume()
	sessions := r.sessions()
	r.mu.Unlock()

	for _, s := range sessions {
		s.SetVolume(volume)
	}
}

func (r *Renderer) effectiveVolume() float64 {
	if r.Mute {
		return 0
	}
	return float64(r.Volume) / 100
}

func (r *Renderer) sessions() []*session.Session {
	sessions := make([]*session.Session, 0, len(r.entries))
	for _, e := range r.entries {
		sessions = append(sessions, e.session)
	}
	return sessions
}

// session management
func (r *Renderer) HasSession(controller string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.SessionOwner == "" || r.SessionOwner == controller
}

func (r *Renderer) AcquireOrCheckSession(controller string, allowPreempt bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SessionOwner == "" {
		r.SessionOwner = controller
		r.SessionSince = r.now()
		return true
	}
	if r.SessionOwner == controller {
		return true
	}
	if allowPreempt {
		log.CtxInfo(r.ctx, "controller %s preempts session of %s", controller, r.SessionOwner)
		r.SessionOwner = controller
		r.SessionSince = r.now()
		return true
	}
	return false
}

func (r *Renderer) ReleaseSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SessionOwner = ""
	r.SessionSince = time.Time{}
}
