package middleware

import (
	"log"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/kanchana_server/internal/pkg/fingerprint"
	"github.com/qs3c/kanchana_server/internal/pkg/ratelimit"
	"github.com/qs3c/kanchana_server/internal/pkg/response"
)

const (
	CodeChatRateLimited      = "CHAT_RATE_LIMITED"
	CodeGuestChatRateLimited = "GUEST_CHAT_RATE_LIMITED"
)

// ChatRateLimit 每个调用方的发送频率限制；访客额外受 guest 限流器约束
// 存储出错时放行
func ChatRateLimit(limiter, guestLimiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		guest := GetGuest(c)

		if limiter != nil {
			if !allow(c, limiter, callerKey(c, guest), CodeChatRateLimited,
				"Too many messages. Please slow down and try again shortly.") {
				return
			}
		}

		if guestLimiter != nil && guest != nil {
			if !allow(c, guestLimiter, guest.RateLimitKey, CodeGuestChatRateLimited,
				"Guest message rate limit reached. Log in for a higher limit.") {
				return
			}
		}

		c.Next()
	}
}

func allow(c *gin.Context, limiter *ratelimit.Limiter, key, errorCode, message string) bool {
	decision, err := limiter.Allow(c.Request.Context(), key)
	if err != nil {
		log.Printf("Rate limiter unavailable, allowing request: %v", err)
		return true
	}
	if decision.Allowed {
		return true
	}

	retryMs := decision.RetryAfter.Milliseconds()
	c.Header("Retry-After", strconv.FormatInt((retryMs+999)/1000, 10))
	response.RateLimitError(c, errorCode, message, retryMs)
	c.Abort()
	return false
}

func callerKey(c *gin.Context, guest *fingerprint.Guest) string {
	if userID, ok := GetUserID(c); ok {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	if guest != nil {
		return guest.RateLimitKey
	}
	return "ip:" + fingerprint.ClientIP(c.Request)
}
