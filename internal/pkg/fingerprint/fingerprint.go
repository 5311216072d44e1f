package fingerprint

import (
	"net"
	"net/http"
	"strings"

	"github.com/qs3c/kanchana_server/internal/pkg/crypto"
)

// Guest 由请求元数据派生的访客身份，只保留哈希
type Guest struct {
	FingerprintHash string
	GuestUserID     string
	RateLimitKey    string
	IPHash          string
	UserAgentHash   string
	DeviceHash      string
	SessionHash     string
}

var (
	deviceHeaders = []string{"X-Device-ID", "X-Client-Device-ID", "X-Client-ID"}
	deviceCookies = []string{"guest_device_id", "device_id"}

	sessionHeaders = []string{"X-Session-ID"}
	sessionCookies = []string{"guest_session_id", "session_id"}
)

// FromRequest 计算访客指纹
func FromRequest(r *http.Request) *Guest {
	ip := ClientIP(r)
	userAgent := strings.TrimSpace(r.Header.Get("User-Agent"))
	language := strings.TrimSpace(r.Header.Get("Accept-Language"))
	deviceID := firstNonEmpty(r, deviceHeaders, deviceCookies)
	sessionID := firstNonEmpty(r, sessionHeaders, sessionCookies)

	raw := strings.Join([]string{
		"ip:" + orDefault(ip, "unknown"),
		"ua:" + orDefault(userAgent, "unknown"),
		"lang:" + orDefault(language, "unknown"),
		"device:" + orDefault(deviceID, "none"),
		"session:" + orDefault(sessionID, "none"),
	}, "|")

	hash := crypto.ContentHash(raw)
	return &Guest{
		FingerprintHash: hash,
		GuestUserID:     "guest_" + hash[:24],
		RateLimitKey:    "guest:" + hash,
		IPHash:          crypto.ContentHash(orDefault(ip, "unknown")),
		UserAgentHash:   crypto.HashValue(userAgent),
		DeviceHash:      crypto.HashValue(deviceID),
		SessionHash:     crypto.HashValue(sessionID),
	}
}

// ClientIP 优先取 X-Forwarded-For 的第一个地址
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		for _, part := range strings.Split(forwarded, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func firstNonEmpty(r *http.Request, headers, cookies []string) string {
	for _, h := range headers {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	for _, name := range cookies {
		if c, err := r.Cookie(name); err == nil {
			if v := strings.TrimSpace(c.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
