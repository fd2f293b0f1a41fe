package upnp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genaRequest(method string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(method, "/upnp/event/avtransport", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestSubscriptions(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	subs := NewSubscriptions()
	subs.now = func() time.Time { return now }

	rec := call(subs, genaRequest("SUBSCRIBE", map[string]string{
		"CALLBACK": "<http://192.168.1.5:49152/notify>",
		"NT":       "upnp:event",
		"TIMEOUT":  "Second-300",
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	sid := rec.Header().Get("SID")
	assert.True(t, strings.HasPrefix(sid, "uuid:"), sid)
	assert.Equal(t, "Second-300", rec.Header().Get("TIMEOUT"))
	assert.Equal(t, 1, subs.Count())

	// renewal keeps the SID
	now = now.Add(200 * time.Second)
	rec = call(subs, genaRequest("SUBSCRIBE", map[string]string{"SID": sid, "TIMEOUT": "Second-300"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sid, rec.Header().Get("SID"))

	now = now.Add(200 * time.Second)
	assert.Equal(t, 1, subs.Count())

	rec = call(subs, genaRequest("UNSUBSCRIBE", map[string]string{"SID": sid}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, subs.Count())

	rec = call(subs, genaRequest("UNSUBSCRIBE", map[string]string{"SID": sid}))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestSubscriptionsRejects(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	subs := NewSubscriptions()
	subs.now = func() time.Time { return now }

	// missing callback
	rec := call(subs, genaRequest("SUBSCRIBE", map[string]string{"NT": "upnp:event"}))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	// renewal mixed with subscription headers
	rec = call(subs, genaRequest("SUBSCRIBE", map[string]string{"SID": "uuid:x", "NT": "upnp:event"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown SID
	rec = call(subs, genaRequest("SUBSCRIBE", map[string]string{"SID": "uuid:x"}))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = call(subs, genaRequest(http.MethodGet, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// expired subscriptions cannot be renewed
	rec = call(subs, genaRequest("SUBSCRIBE", map[string]string{"CALLBACK": "<http://h/cb>", "NT": "upnp:event"}))
	sid := rec.Header().Get("SID")
	assert.Equal(t, "Second-1800", rec.Header().Get("TIMEOUT"))
	now = now.Add(time.Hour)
	rec = call(subs, genaRequest("SUBSCRIBE", map[string]string{"SID": sid}))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestParseTimeout(t *testing.T) {
	assert.Equal(t, 300*time.Second, parseTimeout("Second-300"))
	assert.Equal(t, 300*time.Second, parseTimeout("second-300"))
	assert.Equal(t, maxSubscriptionTimeout, parseTimeout("Second-99999"))
	assert.Equal(t, maxSubscriptionTimeout, parseTimeout("Second-infinite"))
	assert.Equal(t, defaultSubscriptionTimeout, parseTimeout(""))
	assert.Equal(t, defaultSubscriptionTimeout, parseTimeout("Second-0"))
	assert.Equal(t, defaultSubscriptionTimeout, parseTimeout("Minute-5"))
}
