// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 30
	managementHeader = "X-Management-Key"
)

func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": s.registry.GetAvailableModels()})
}

// handleHealth reports liveness; ?full=true adds balance and sessions.
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok", "version": s.version}
	if c.Query("full") == "true" {
		st := s.balance.Snapshot()
		resp["balance"] = float64(st.BalanceMicros) / 1e6
		resp["isLow"] = st.Low
		resp["isEmpty"] = st.Empty
		resp["unlimited"] = st.Unlimited
		resp["sessions"] = s.sessions.Stats()
		resp["uptime"] = time.Since(s.started).Round(time.Second).String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.JSON(http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(c *gin.Context) {
	s.cache.Clear()
	log.Info("response cache cleared")
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// handleStats reports in-process counters and, with a usage store, the
// aggregate of the last ?days days (default 7, at most 30).
func (s *Server) handleStats(c *gin.Context) {
	days := defaultStatsDays
	if raw := c.Query("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}

	inflight, completed := 0, 0
	if s.dedup != nil {
		inflight, completed = s.dedup.Len()
	}
	resp := gin.H{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"requests": gin.H{
			"total":          s.counters.requests.Load(),
			"cache_hits":     s.counters.cacheHits.Load(),
			"dedup_hits":     s.counters.dedupHits.Load(),
			"fallbacks":      s.counters.fallbacks.Load(),
			"failures":       s.counters.failures.Load(),
			"free_fallbacks": s.counters.freeFallbacks.Load(),
		},
		"dedup":        gin.H{"inflight": inflight, "completed": completed},
		"rate_limited": s.dispatcher.Cooldown().Len(),
		"sessions":     s.sessions.Stats().Count,
		"cache":        s.cache.Stats(),
	}
	if s.usage != nil {
		sum, err := s.usage.Summary(c.Request.Context(), time.Now().AddDate(0, 0, -days))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats: " + err.Error()})
			return
		}
		resp["days"] = days
		resp["usage"] = sum
	}
	c.Header("Cache-Control", "no-cache")
	c.JSON(http.StatusOK, resp)
}

// requireManagementKey guards mutating endpoints with the configured key,
// given as a bearer token or in X-Management-Key.
func (s *Server) requireManagementKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		m := s.cfg.Management
		if !m.Enabled() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "management key not configured"})
			return
		}
		if !m.AllowRemote && !isLoopback(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "remote management disabled"})
			return
		}
		key := c.GetHeader(managementHeader)
		if key == "" {
			key = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if !m.CheckKey(key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management key"})
			return
		}
		c.Next()
	}
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
