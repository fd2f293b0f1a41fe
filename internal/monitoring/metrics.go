package monitoring

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tr1v3r/pkg/log"
)

// Metrics tracks basic application metrics
type Metrics struct {
	mu sync.RWMutex

	// HTTP metrics
	HTTPRequestsTotal    int64
	HTTPRequestsByMethod map[string]int64
	HTTPRequestDuration  time.Duration

	// Session metrics
	SessionsCreated  int64
	SessionsDisposed int64
	SessionFailures  int64 // sessions that could not be created
	EventsByKind     map[string]int64
	PlaybackErrors   map[string]int64 // by error code

	// UPnP metrics
	UPnPActionsTotal int64
	UPnPErrorsTotal  int64

	startTime time.Time
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() { globalMetrics = NewMetrics() })
	return globalMetrics
}

// NewMetrics returns an empty metrics set starting now.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsByMethod: make(map[string]int64),
		EventsByKind:         make(map[string]int64),
		PlaybackErrors:       make(map[string]int64),
		startTime:            time.Now(),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.HTTPRequestsTotal++
	m.HTTPRequestsByMethod[method]++
	m.HTTPRequestDuration += duration
}

func (m *Metrics) RecordSessionCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SessionsCreated++
}

func (m *Metrics) RecordSessionDisposed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SessionsDisposed++
}

func (m *Metrics) RecordSessionFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SessionFailures++
}

// RecordEvent counts a delivered playback event by kind name.
func (m *Metrics) RecordEvent(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EventsByKind[kind]++
}

// RecordPlaybackError counts a playback error event by code.
func (m *Metrics) RecordPlaybackError(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PlaybackErrors[code]++
}

// RecordUPnPAction records a UPnP action
func (m *Metrics) RecordUPnPAction() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UPnPActionsTotal++
}

// RecordUPnPError records a UPnP error
func (m *Metrics) RecordUPnPError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UPnPErrorsTotal++
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	StartTime        time.Time
	HTTPRequests     int64
	SessionsCreated  int64
	SessionsDisposed int64
	SessionFailures  int64
	EventsByKind     map[string]int64
	PlaybackErrors   map[string]int64
	UPnPActions      int64
	UPnPErrors       int64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Snapshot{
		StartTime:        m.startTime,
		HTTPRequests:     m.HTTPRequestsTotal,
		SessionsCreated:  m.SessionsCreated,
		SessionsDisposed: m.SessionsDisposed,
		SessionFailures:  m.SessionFailures,
		EventsByKind:     maps.Clone(m.EventsByKind),
		PlaybackErrors:   maps.Clone(m.PlaybackErrors),
		UPnPActions:      m.UPnPActionsTotal,
		UPnPErrors:       m.UPnPErrorsTotal,
	}
}

// GetUptime returns the application uptime
func (m *Metrics) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return time.Since(m.startTime)
}

// Summary renders the counters on one line.
func (s Snapshot) Summary() string {
	return fmt.Sprintf("started=%s http_requests=%s sessions=%s/%s session_failures=%d events=%v playback_errors=%v upnp_actions=%s upnp_errors=%d",
		humanize.Time(s.StartTime),
		humanize.Comma(s.HTTPRequests),
		humanize.Comma(s.SessionsDisposed),
		humanize.Comma(s.SessionsCreated),
		s.SessionFailures,
		s.EventsByKind,
		s.PlaybackErrors,
		humanize.Comma(s.UPnPActions),
		s.UPnPErrors)
}

// LogMetrics logs current metrics
func (m *Metrics) LogMetrics() {
	log.Info("Application metrics %s", m.Snapshot().Summary())
}
