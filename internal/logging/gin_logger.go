// Package logging configures the shared logrus logger and bridges Gin request logging and panic
// recovery into it.
package logging

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// apiPrefix marks routes that get a request id.
const apiPrefix = "/v1/"

const skipGinLogKey = "__gin_skip_request_logging__"

// sensitiveQueryKeys are redacted from logged query strings.
var sensitiveQueryKeys = []string{"code", "state", "access_token", "refresh_token", "id_token", "key"}

// GinLogrusLogger returns a Gin middleware handler that logs HTTP requests and responses
// using logrus. Requests under /v1/ get a request id that is also attached to the request
// context.
//
// Output format: [2026-01-05 09:12:44] [3f9a1c2e] [info ] | 200 |   23ms | 127.0.0.1 | GET "/v1/session"
//
// Returns:
//   - gin.HandlerFunc: A middleware handler for request logging
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := MaskSensitiveQuery(c.Request.URL.RawQuery)

		var requestID string
		if strings.HasPrefix(path, apiPrefix) {
			requestID = GenerateRequestID()
			SetGinRequestID(c, requestID)
			ctx := WithRequestID(c.Request.Context(), requestID)
			c.Request = c.Request.WithContext(ctx)
			c.Header("X-Request-Id", requestID)
		}

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}

		if raw != "" {
			path = path + "?" + raw
		}

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if requestID == "" {
			requestID = "--------"
		}
		logLine := fmt.Sprintf("%3d | %13v | %15s | %-7s \"%s\"", statusCode, latency, c.ClientIP(), c.Request.Method, path)
		if errorMessage != "" {
			logLine = logLine + " | " + errorMessage
		}

		entry := log.WithField("request_id", requestID)
		if user := c.GetString(UserIDKey); user != "" {
			entry = entry.WithField("user", user)
		}

		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(logLine)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}
	}
}

// UserIDKey is the Gin context key the access middleware stores the caller's user id under.
const UserIDKey = "__user_id__"

// MaskSensitiveQuery replaces the values of credential-bearing query parameters.
func MaskSensitiveQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "<unparseable>"
	}
	masked := false
	for _, key := range sensitiveQueryKeys {
		if _, ok := values[key]; ok {
			values.Set(key, "***")
			masked = true
		}
	}
	if !masked {
		return rawQuery
	}
	return values.Encode()
}

// GinLogrusRecovery returns a Gin middleware handler that recovers from panics and logs
// them using logrus. When a panic occurs, it captures the panic value, stack trace,
// and request path, then returns a 500 Internal Server Error response to the client.
//
// Returns:
//   - gin.HandlerFunc: A middleware handler for panic recovery
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			// net/http aborts the connection itself for this sentinel.
			panic(http.ErrAbortHandler)
		}

		log.WithFields(log.Fields{
			"panic":      recovered,
			"stack":      string(debug.Stack()),
			"path":       c.Request.URL.Path,
			"request_id": GetGinRequestID(c),
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SkipGinRequestLogging marks the provided Gin context so that GinLogrusLogger
// will skip emitting a log line for the associated request.
func SkipGinRequestLogging(c *gin.Context) {
	if c == nil {
		return
	}
	c.Set(skipGinLogKey, true)
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	if c == nil {
		return false
	}
	val, exists := c.Get(skipGinLogKey)
	if !exists {
		return false
	}
	flag, ok := val.(bool)
	return ok && flag
}
