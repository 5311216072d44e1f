package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/kanchana_server/internal/pkg/fingerprint"
)

const GuestKey = "guest"

// GuestIdentity 未登录请求计算访客指纹，需放在 OptionalAuth 之后
func GuestIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetUserID(c); !ok {
			c.Set(GuestKey, fingerprint.FromRequest(c.Request))
		}
		c.Next()
	}
}

// GetGuest 从上下文获取访客指纹
func GetGuest(c *gin.Context) *fingerprint.Guest {
	v, exists := c.Get(GuestKey)
	if !exists {
		return nil
	}
	guest, _ := v.(*fingerprint.Guest)
	return guest
}
