package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/kanchana_server/config"
)

// CORS 跨域中间件
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(append(append([]string{}, cfg.AllowedHeaders...), exposedHeaders...), ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		for _, allowedOrigin := range cfg.AllowedOrigins {
			if allowedOrigin == "*" || origin == allowedOrigin {
				c.Header("Access-Control-Allow-Origin", origin)
				break
			}
		}

		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)
		c.Header("Access-Control-Expose-Headers", RequestIDHeader)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// 访客指纹和请求 ID 相关请求头
var exposedHeaders = []string{RequestIDHeader, "X-Device-ID", "X-Session-ID"}
