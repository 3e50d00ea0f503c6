package middleware

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pai-context-go/pkg/log"
)

// 超过该长度的请求体与响应体只记录长度
const maxLoggedBody = 4096

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if w.body.Len() < maxLoggedBody {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w bodyLogWriter) WriteString(s string) (int, error) {
	if w.body.Len() < maxLoggedBody {
		w.body.WriteString(s)
	}
	return w.ResponseWriter.WriteString(s)
}

// isTextual 判断 Content-Type 是否值得记录正文。
func isTextual(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json") || strings.HasPrefix(contentType, "text/")
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// 归档等二进制上传只记录大小。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		var requestBody string
		if c.Request.Body != nil && isTextual(c.ContentType()) && c.Request.ContentLength >= 0 && c.Request.ContentLength <= maxLoggedBody {
			raw, _ := io.ReadAll(c.Request.Body)
			// 将读取的请求体重新设置回 c.Request.Body，以便后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			requestBody = string(raw)
		} else if c.Request.ContentLength > 0 {
			requestBody = "<" + strconv.FormatInt(c.Request.ContentLength, 10) + " bytes>"
		}

		blw := &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		responseBody := blw.body.String()
		if !isTextual(c.Writer.Header().Get("Content-Type")) {
			responseBody = "<" + strconv.Itoa(c.Writer.Size()) + " bytes>"
		}

		log.Infow("HTTP Request Log",
			"requestID", requestID,
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", requestBody,
			"responseBody", responseBody,
		)
	}
}
