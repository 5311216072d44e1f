package fingerprint

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qs3c/kanchana_server/internal/pkg/crypto"
)

func newRequest() *http.Request {
	req := httptest.NewRequest("POST", "/api/v1/chat/message", nil)
	req.RemoteAddr = "10.0.0.9:51234"
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Accept-Language", "en-IN")
	return req
}

func TestFromRequest_Deterministic(t *testing.T) {
	a := FromRequest(newRequest())
	b := FromRequest(newRequest())

	assert.Equal(t, a, b)
	assert.Len(t, a.FingerprintHash, 64)
	assert.True(t, strings.HasPrefix(a.GuestUserID, "guest_"))
	assert.Len(t, a.GuestUserID, len("guest_")+24)
	assert.Equal(t, "guest:"+a.FingerprintHash, a.RateLimitKey)
}

func TestFromRequest_RawFormat(t *testing.T) {
	req := newRequest()
	req.Header.Set("X-Device-ID", "dev-1")
	req.AddCookie(&http.Cookie{Name: "guest_session_id", Value: "sess-1"})

	g := FromRequest(req)

	expected := crypto.ContentHash("ip:10.0.0.9|ua:test-agent|lang:en-IN|device:dev-1|session:sess-1")
	assert.Equal(t, expected, g.FingerprintHash)
	assert.Equal(t, crypto.ContentHash("dev-1"), g.DeviceHash)
	assert.Equal(t, crypto.ContentHash("sess-1"), g.SessionHash)
}

func TestFromRequest_DeviceChangesFingerprint(t *testing.T) {
	plain := FromRequest(newRequest())

	req := newRequest()
	req.AddCookie(&http.Cookie{Name: "device_id", Value: "d"})
	withDevice := FromRequest(req)

	assert.NotEqual(t, plain.FingerprintHash, withDevice.FingerprintHash)
	assert.Empty(t, plain.DeviceHash)
}

func TestClientIP(t *testing.T) {
	req := newRequest()
	assert.Equal(t, "10.0.0.9", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " , 203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(req))
}
