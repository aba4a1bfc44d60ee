// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/traylinx/switchAIRouter/internal/cache"
	"github.com/traylinx/switchAIRouter/internal/dedup"
	"github.com/traylinx/switchAIRouter/internal/dispatch"
	"github.com/traylinx/switchAIRouter/internal/hooks"
	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/registry"
	"github.com/traylinx/switchAIRouter/internal/routing"
	"github.com/traylinx/switchAIRouter/internal/session"
	"github.com/traylinx/switchAIRouter/internal/transcode"
	"github.com/traylinx/switchAIRouter/internal/usage"
)

const (
	defaultMaxTokens = 4096
	eventStream      = "text/event-stream"
	// directTier labels usage rows of requests that named a concrete model.
	directTier = "DIRECT"
	// sseKeySuffix keeps streamed and plain requests in separate dedup slots.
	sseKeySuffix   = "/sse"
	relayChunkSize = 32 * 1024
)

var errChainFailed = []byte(`{"error":{"message":"All models in fallback chain failed","type":"provider_error"}}`)

// skippedResponseHeaders are not copied from the upstream response.
var skippedResponseHeaders = map[string]bool{
	"Transfer-Encoding": true,
	"Connection":        true,
	"Content-Encoding":  true,
	"Content-Length":    true,
}

// chatRequest is a parsed client request ready to be served.
type chatRequest struct {
	body      []byte
	model     string
	stream    bool
	maxTokens int
	sessionID string
	free      bool
	decision  *routing.RoutingDecision
	hasTools  bool
	hasVision bool
}

// handleChatCompletions serves POST /v1/chat/completions.
func (s *Server) handleChatCompletions(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	reqID := logging.RequestID(ctx)

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("failed to read request body", "invalid_request_error"))
		return
	}
	req, err := s.prepare(c, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}
	s.counters.requests.Add(1)

	if kb := s.cfg.Dispatch.CompressThresholdKB; kb > 0 {
		req.body = dispatch.MaybeCompress(ctx, req.body, kb, s.compressor)
	}

	cacheable := s.cache.ShouldCache(req.body, c.Request.Header)
	var cacheKey string
	if cacheable {
		cacheKey = cache.GenerateKey(req.body)
		if entry, ok := s.cache.Get(cacheKey); ok {
			s.metrics.ObserveCache("hit")
			s.counters.cacheHits.Add(1)
			log.Debugf("[%s] cache hit for %s", reqID, entry.Model)
			s.writeStored(c, req.stream, entry.Status, entry.Header, entry.Body)
			return
		}
		s.metrics.ObserveCache("miss")
	}

	var dedupKey string
	if s.dedup != nil {
		dedupKey = dedup.Hash(req.body)
		if req.stream {
			dedupKey += sseKeySuffix
		}
		if done, ok := s.dedup.GetCached(dedupKey); ok {
			s.metrics.ObserveDedup("completed")
			s.counters.dedupHits.Add(1)
			s.writeStored(c, req.stream, done.Status, done.Header, done.Body)
			return
		}
		if waiter := s.dedup.Acquire(dedupKey); waiter != nil {
			s.metrics.ObserveDedup("inflight")
			s.counters.dedupHits.Add(1)
			resp, errWait := waiter.Wait(ctx)
			if errWait != nil {
				return
			}
			s.writeStored(c, req.stream, resp.Status, resp.Header, resp.Body)
			return
		}
		s.metrics.ObserveDedup("miss")
	}
	settled := s.dedup == nil
	complete := func(status int, header http.Header, body []byte) {
		settled = true
		if s.dedup != nil {
			s.dedup.Complete(dedupKey, dedup.Response{Status: status, Header: header, Body: body})
		}
	}
	defer func() {
		if !settled {
			s.dedup.RemoveInflight(dedupKey)
		}
	}()

	estimated := s.checkBalance(c, req)
	chain := s.planChain(req)

	var hb *transcode.Heartbeat
	if req.stream {
		writeSSEHeaders(c)
		hb = transcode.StartHeartbeat(ctx, c.Writer, c.Writer.Flush, s.heartbeat)
	}

	res, err := s.dispatcher.Dispatch(ctx, dispatch.Attempt{
		Body:      req.body,
		Header:    c.Request.Header.Clone(),
		Chain:     chain,
		Decision:  req.decision,
		RequestID: reqID,
	})
	if hb != nil {
		hb.Stop()
	}

	if ctx.Err() != nil {
		if err == nil && res != nil && res.Response != nil {
			_ = res.Response.Body.Close()
		}
		s.balance.Invalidate()
		log.Infof("[%s] client went away", reqID)
		return
	}

	var data []byte
	if err == nil && req.stream {
		data, err = io.ReadAll(res.Response.Body)
		closeUpstream(res.Response.Body)
		if err != nil {
			err = &dispatch.ProviderError{Kind: dispatch.KindNetwork, Status: http.StatusBadGateway, Body: []byte(err.Error()), Model: res.Model, Err: err}
		}
	}

	if err != nil {
		s.counters.failures.Add(1)
		s.balance.Invalidate()
		status, body := failureBody(err)
		log.Warnf("[%s] request failed with %d: %v", reqID, status, err)
		if req.stream {
			payload := append(transcode.ErrorEvent(body, status), transcode.Done...)
			_, _ = c.Writer.Write(payload)
			c.Writer.Flush()
			complete(http.StatusOK, sseHeader(), payload)
			return
		}
		header := http.Header{}
		header.Set("Content-Type", "application/json")
		c.Data(status, "application/json", body)
		complete(status, header, body)
		return
	}

	if res.Fallback() {
		s.counters.fallbacks.Add(1)
	}
	if req.stream {
		out, errWrite := transcode.WriteSSE(c.Writer, data, time.Now())
		if errWrite != nil {
			log.Debugf("[%s] stream write: %v", reqID, errWrite)
		}
		c.Writer.Flush()
		complete(http.StatusOK, sseHeader(), out)
	} else {
		header := http.Header{}
		for k, vs := range res.Response.Header {
			if skippedResponseHeaders[http.CanonicalHeaderKey(k)] {
				continue
			}
			header[k] = vs
		}
		copyHeader(c.Writer.Header(), header)
		c.Status(res.Response.Status)
		c.Writer.WriteHeaderNow()
		body, errRelay := relay(c.Writer, res.Response.Body)
		closeUpstream(res.Response.Body)
		if errRelay != nil {
			s.counters.failures.Add(1)
			s.balance.Invalidate()
			log.Warnf("[%s] upstream body from %s: %v", reqID, res.Model, errRelay)
			return
		}
		complete(res.Response.Status, header, body)
		if res.Response.Status == http.StatusOK && cacheable {
			s.cache.Set(cacheKey, cache.Response{Status: res.Response.Status, Header: header, Body: body, Model: res.Model}, s.cacheTTL)
		}
	}

	if estimated > 0 {
		s.balance.DeductEstimated(estimated)
	}
	s.recordUsage(req, res, reqID, time.Since(start))
}

// prepare parses the body and resolves which model serves it: free profile,
// pinned session, router decision or the named model.
func (s *Server) prepare(c *gin.Context, raw []byte) (*chatRequest, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, errors.New("request body must be a JSON object")
	}
	req := &chatRequest{body: raw, maxTokens: defaultMaxTokens}

	if gjson.GetBytes(raw, "stream").Type == gjson.True {
		req.stream = true
		req.body = setField(req.body, "stream", false)
	}
	if mt := gjson.GetBytes(raw, "max_tokens").Int(); mt > 0 {
		req.maxTokens = int(mt)
	}
	tools := gjson.GetBytes(raw, "tools")
	req.hasTools = tools.IsArray() && len(tools.Array()) > 0
	req.hasVision = hasImageParts(raw)

	modelField := gjson.GetBytes(raw, "model")
	if modelField.Type != gjson.String || strings.TrimSpace(modelField.Str) == "" {
		return nil, errors.New("model is required")
	}
	normalized := strings.ToLower(strings.TrimSpace(modelField.Str))
	profile, isProfile := registry.ParseProfile(normalized)

	if s.sessions.Enabled() {
		req.sessionID = s.sessions.ResolveID(c.GetHeader(session.HeaderName), raw)
	}

	if !isProfile {
		req.model = modelField.Str
		if resolved := s.registry.ResolveAlias(normalized); resolved != normalized {
			log.Debugf("model %q resolved to %q", modelField.Str, resolved)
			req.model = resolved
			req.body = setField(req.body, "model", resolved)
		}
		return req, nil
	}

	switch {
	case profile == registry.ProfileFree:
		req.free = true
		req.model = registry.FreeModel
	case req.sessionID != "":
		if pinned, ok := s.sessions.Get(req.sessionID); ok {
			req.model = pinned.Model
			s.sessions.Touch(req.sessionID)
			log.Debugf("session %s pinned to %s", shortSession(req.sessionID), pinned.Model)
			break
		}
		s.route(c, req, profile)
		s.sessions.Pin(req.sessionID, req.model, string(req.decision.Tier))
	default:
		s.route(c, req, profile)
	}
	req.body = setField(req.body, "model", req.model)
	return req, nil
}

func (s *Server) route(c *gin.Context, req *chatRequest, profile string) {
	prompt, system := promptParts(req.body)
	d := s.router.Route(prompt, system, req.maxTokens, routing.Options{
		Profile:     routing.Profile(profile),
		AgenticMode: s.cfg.Routing.AgenticMode,
	})
	req.decision = &d
	req.model = d.Model
	s.metrics.ObserveRouting(string(d.Tier), string(d.Profile), d.Model)
	s.publish(hooks.EventRoutingDecision, d.Model, map[string]any{
		"request_id": logging.RequestID(c.Request.Context()),
		"tier":       string(d.Tier),
		"profile":    string(d.Profile),
		"confidence": d.Confidence,
		"reasoning":  d.Reasoning,
		"savings":    d.Savings,
	}, d)
	log.Infof("[%s] routed to %s (%s, %.2f) %s", logging.RequestID(c.Request.Context()), d.Model, d.Tier, d.Confidence, d.Reasoning)
}

// checkBalance switches paid requests to the free model when the balance
// cannot cover them. It returns the estimate to deduct on success.
func (s *Server) checkBalance(c *gin.Context, req *chatRequest) int64 {
	if req.model == "" || req.model == registry.FreeModel {
		return 0
	}
	estimated := dispatch.EstimateAmount(s.registry, req.model, len(req.body), req.maxTokens)
	st, err := s.balance.Check(c.Request.Context(), dispatch.BufferedAmount(estimated))
	if err != nil {
		log.Warnf("balance check failed: %v", err)
		return estimated
	}
	if st.Empty || !st.Sufficient {
		log.Infof("balance %s (%d micros), using free model %s instead of %s",
			balanceWord(st), st.BalanceMicros, registry.FreeModel, req.model)
		s.counters.freeFallbacks.Add(1)
		s.publish(hooks.EventBalanceLow, req.model, map[string]any{
			"balance_usd": float64(st.BalanceMicros) / 1e6,
			"empty":       st.Empty,
			"sufficient":  false,
		}, st)
		req.model = registry.FreeModel
		req.decision = nil
		req.body = setField(req.body, "model", req.model)
		return 0
	}
	if st.Low {
		s.publish(hooks.EventBalanceLow, req.model, map[string]any{
			"balance_usd": float64(st.BalanceMicros) / 1e6,
			"empty":       false,
			"sufficient":  true,
		}, st)
	}
	return estimated
}

// planChain returns the models to try in order.
func (s *Server) planChain(req *chatRequest) []string {
	if req.decision == nil {
		if req.model == registry.FreeModel {
			return []string{registry.FreeModel}
		}
		return []string{req.model, registry.FreeModel}
	}
	cfg := s.router.Config()
	table, _, _ := cfg.TableFor(req.decision.Profile, req.decision.AgenticScore, s.cfg.Routing.AgenticMode)
	total := ceilDiv(len(req.body), 4) + req.maxTokens
	chain := routing.FallbackChainFiltered(req.decision.Tier, table, total, s.registry)
	chain = routing.FilterByToolCalling(chain, req.hasTools, s.registry.SupportsToolCalling)
	chain = routing.FilterByVision(chain, req.hasVision, s.registry.SupportsVision)
	return s.dispatcher.PlanChain(chain)
}

func (s *Server) recordUsage(req *chatRequest, res *dispatch.Result, reqID string, latency time.Duration) {
	entry := usage.Entry{
		Timestamp: time.Now(),
		RequestID: reqID,
		Model:     res.Model,
		LatencyMs: latency.Milliseconds(),
		Status:    res.Response.Status,
		Fallback:  res.Fallback(),
	}
	inputTokens := ceilDiv(len(req.body), 4)
	switch {
	case req.free:
		entry.Tier = string(routing.TierSimple)
		entry.Profile = string(routing.ProfileFree)
		entry.Savings = 1
	case res.Decision != nil:
		cost := routing.CalculateModelCost(res.Model, s.registry, inputTokens, req.maxTokens, res.Decision.Profile)
		entry.Tier = string(res.Decision.Tier)
		entry.Profile = string(res.Decision.Profile)
		entry.CostUSD = cost.CostEstimate * 1.2
		entry.BaselineUSD = cost.BaselineCost * 1.2
		entry.Savings = cost.Savings
	default:
		cost := routing.CalculateModelCost(res.Model, s.registry, inputTokens, req.maxTokens, routing.ProfileAuto)
		entry.Tier = directTier
		entry.CostUSD = cost.CostEstimate * 1.2
		entry.BaselineUSD = cost.BaselineCost * 1.2
		entry.Savings = cost.Savings
	}
	s.metrics.ObserveUsage(entry.Model, entry.CostUSD, entry.Savings)
	s.publish(hooks.EventUsage, entry.Model, map[string]any{
		"request_id": reqID,
		"tier":       entry.Tier,
		"cost":       entry.CostUSD,
		"savings":    entry.Savings,
		"latency_ms": entry.LatencyMs,
	}, entry)
}

// relay copies body to w as it arrives, flushing after every chunk, and
// returns everything read. Once the client stops accepting writes the rest
// is still read so the full reply can be shared.
func relay(w gin.ResponseWriter, body io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, relayChunkSize)
	clientGone := false
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if !clientGone {
				if _, errWrite := w.Write(chunk[:n]); errWrite != nil {
					log.Debugf("response write: %v", errWrite)
					clientGone = true
				} else {
					w.Flush()
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
}

func closeUpstream(body io.Closer) {
	if errClose := body.Close(); errClose != nil {
		log.Errorf("upstream: close response body error: %v", errClose)
	}
}

// writeStored replays a cached or deduplicated response. Plain JSON
// completions are transcoded when the client asked for a stream.
func (s *Server) writeStored(c *gin.Context, stream bool, status int, header http.Header, body []byte) {
	if stream && status == http.StatusOK && !strings.HasPrefix(header.Get("Content-Type"), eventStream) {
		writeSSEHeaders(c)
		_, _ = transcode.WriteSSE(c.Writer, body, time.Now())
		c.Writer.Flush()
		return
	}
	copyHeader(c.Writer.Header(), header)
	c.Status(status)
	_, _ = c.Writer.Write(body)
}

func (s *Server) publish(event hooks.HookEvent, model string, data map[string]any, payload any) {
	s.events.PublishAsync(&hooks.EventContext{
		Event:     event,
		Timestamp: time.Now(),
		Model:     model,
		Data:      data,
		Payload:   payload,
	})
}

// failureBody renders a dispatch error as a status and JSON body.
func failureBody(err error) (int, []byte) {
	var perr *dispatch.ProviderError
	if !errors.As(err, &perr) {
		return http.StatusBadGateway, errChainFailed
	}
	status := perr.Status
	if status == 0 {
		status = http.StatusBadGateway
	}
	if gjson.ValidBytes(perr.Body) && gjson.ParseBytes(perr.Body).IsObject() {
		return status, perr.Body
	}
	msg := strings.TrimSpace(string(perr.Body))
	if msg == "" {
		msg = fmt.Sprintf("upstream %s returned %d", perr.Model, status)
	}
	body := []byte(`{"error":{}}`)
	body, _ = sjson.SetBytes(body, "error.message", msg)
	body, _ = sjson.SetBytes(body, "error.type", perr.Kind.String())
	body, _ = sjson.SetBytes(body, "error.status", status)
	return status, body
}

func writeSSEHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", eventStream)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
}

func sseHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", eventStream)
	return h
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func setField(body []byte, path string, value any) []byte {
	out, err := sjson.SetBytes(body, path, value)
	if err != nil {
		log.Warnf("set %s: %v", path, err)
		return body
	}
	return out
}

// promptParts returns the last user message and the first system message
// when their content is a plain string.
func promptParts(body []byte) (prompt, system string) {
	msgs := gjson.GetBytes(body, "messages").Array()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Get("role").String() == "user" {
			if content := msgs[i].Get("content"); content.Type == gjson.String {
				prompt = content.Str
			}
			break
		}
	}
	for _, m := range msgs {
		if m.Get("role").String() == "system" {
			if content := m.Get("content"); content.Type == gjson.String {
				system = content.Str
			}
			break
		}
	}
	return prompt, system
}

func hasImageParts(body []byte) bool {
	for _, m := range gjson.GetBytes(body, "messages").Array() {
		content := m.Get("content")
		if !content.IsArray() {
			continue
		}
		for _, part := range content.Array() {
			switch part.Get("type").String() {
			case "image_url", "image", "input_image":
				return true
			}
		}
	}
	return false
}

func balanceWord(st dispatch.BalanceStatus) string {
	if st.Empty {
		return "empty"
	}
	return "insufficient"
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

func ceilDiv(n, d int) int {
	return int(math.Ceil(float64(n) / float64(d)))
}

func errorBody(message, typ string) gin.H {
	return gin.H{"error": gin.H{"message": message, "type": typ}}
}
