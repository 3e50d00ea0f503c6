package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pai-context-go/internal/ratelimit"
	"pai-context-go/pkg/log"
)

// RateLimit 按项目做固定窗口限流，必须挂在 AuthMiddleware 之后。
// 限流存储不可用时放行请求。
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(ProjectIDKey)
		if key == "" {
			key = c.ClientIP()
		}

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Warnf("[RateLimit] 限流检查失败, key: %s, error: %v", key, err)
			c.Next()
			return
		}
		if d.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		if !d.Allowed {
			rlErr := &ratelimit.Error{Limit: d.Limit, RetryAfter: d.Reset}
			c.Header("Retry-After", strconv.Itoa(int(d.Reset.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": rlErr.Error()})
			return
		}
		c.Next()
	}
}
