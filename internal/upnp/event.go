package upnp

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tr1v3r/pkg/log"
)

const (
	defaultSubscriptionTimeout = 1800 * time.Second
	maxSubscriptionTimeout     = 3600 * time.Second
)

type subscription struct {
	callback string
	expires  time.Time
}

// Subscriptions acknowledges GENA SUBSCRIBE and UNSUBSCRIBE requests for one
// service and tracks the issued SIDs.
type Subscriptions struct {
	now func() time.Time

	mu   sync.Mutex
	subs map[string]subscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{now: time.Now, subs: make(map[string]subscription)}
}

// Count returns the number of live subscriptions.
func (s *Subscriptions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return len(s.subs)
}

func (s *Subscriptions) expireLocked() {
	now := s.now()
	for sid, sub := range s.subs {
		if now.After(sub.expires) {
			delete(s.subs, sid)
		}
	}
}

// parseTimeout reads a "Second-N" or "Second-infinite" TIMEOUT header.
func parseTimeout(v string) time.Duration {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(strings.ToLower(v), "second-") {
		return defaultSubscriptionTimeout
	}
	n, err := strconv.Atoi(v[len("second-"):])
	if err != nil || n <= 0 {
		return lo.Ternary(strings.EqualFold(v[len("second-"):], "infinite"), maxSubscriptionTimeout, defaultSubscriptionTimeout)
	}
	return min(time.Duration(n)*time.Second, maxSubscriptionTimeout)
}

func writeSubscribed(w http.ResponseWriter, sid string, timeout time.Duration) {
	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", "Second-"+strconv.Itoa(int(timeout/time.Second)))
	w.WriteHeader(http.StatusOK)
}

func (s *Subscriptions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.Debug("Event request method=%s path=%s header=%v", r.Method, r.URL.Path, r.Header)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	switch r.Method {
	case "SUBSCRIBE":
		callback := r.Header.Get("CALLBACK")
		nt := r.Header.Get("NT")
		sid := r.Header.Get("SID") // For renewal
		timeout := parseTimeout(r.Header.Get("TIMEOUT"))

		if sid != "" {
			if callback != "" || nt != "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			sub, ok := s.subs[sid]
			if !ok {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			sub.expires = s.now().Add(timeout)
			s.subs[sid] = sub
			writeSubscribed(w, sid, timeout)
			return
		}

		if callback == "" || nt != "upnp:event" {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		newSID := "uuid:" + uuid.NewString()
		s.subs[newSID] = subscription{callback: callback, expires: s.now().Add(timeout)}
		log.Debug("new subscription %s callback=%s", newSID, callback)
		writeSubscribed(w, newSID, timeout)

	case "UNSUBSCRIBE":
		sid := r.Header.Get("SID")
		if _, ok := s.subs[sid]; !ok {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		delete(s.subs, sid)
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
