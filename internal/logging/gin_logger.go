// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RequestIDKey is the gin context key and logrus field carrying the request id.
const RequestIDKey = "request_id"

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-Id"

type ctxKey struct{}

// GinLogrusLogger assigns a request id and logs one line per request.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ctxKey{}, id))

		c.Next()

		entry := log.WithFields(log.Fields{
			RequestIDKey: id,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).Round(time.Millisecond),
			"client":     c.ClientIP(),
		})
		msg := c.Request.Method + " " + c.Request.URL.Path
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error(msg)
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Info(msg)
		}
	}
}

// GinLogrusRecovery converts panics into a 500 JSON body.
func GinLogrusRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithField(RequestIDKey, c.GetString(RequestIDKey)).
					Errorf("panic recovered: %v\n%s", r, debug.Stack())
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"error": gin.H{"message": "internal server error", "type": "server_error"},
					})
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

// RequestID returns the id stored by GinLogrusLogger, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Entry returns a logrus entry tagged with the request id found in ctx.
func Entry(ctx context.Context) *log.Entry {
	if id := RequestID(ctx); id != "" {
		return log.WithField(RequestIDKey, id)
	}
	return log.NewEntry(log.StandardLogger())
}
