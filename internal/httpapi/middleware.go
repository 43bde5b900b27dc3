package httpapi

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	logx "expirybot/pkg/logx"
)

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("http handler panicked",
					logx.String("path", c.FullPath()),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
				abortWith(c, NewAPIError(ErrInternalServer, "internal error", fmt.Sprint(r)))
			}
		}()
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
			logx.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.log.Warn("http request failed", fields...)
		case c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics":
			s.log.Trace("http request", fields...)
		default:
			s.log.Debug("http request", fields...)
		}
	}
}

// auth enforces X-API-Key when a key is configured.
func (s *Server) auth() gin.HandlerFunc {
	key := s.cfg.APIKey
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-API-Key")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			abortWith(c, NewAPIError(ErrUnauthorized, "missing or invalid api key", nil))
			return
		}
		c.Next()
	}
}

// rateLimit shares one token bucket across every operator trigger.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.Header("Retry-After", "10")
			abortWith(c, NewAPIError(ErrTooManyRequests, "too many trigger requests", nil))
			return
		}
		c.Next()
	}
}
