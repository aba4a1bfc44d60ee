// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Request is one upstream call.
type Request struct {
	Model  string
	Body   []byte
	Header http.Header
}

// Response is the upstream answer. Body is already decoded and must be closed.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Transport sends a chat completion request upstream.
type Transport interface {
	RoundTrip(ctx context.Context, req Request) (*Response, error)
}

// OAuth2Config enables client-credentials authentication upstream.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// HTTPConfig configures HTTPTransport.
type HTTPConfig struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	OAuth2    *OAuth2Config
	Client    *http.Client
}

// HTTPTransport posts to an OpenAI-compatible /chat/completions endpoint.
type HTTPTransport struct {
	endpoint  string
	apiKey    string
	userAgent string
	client    *http.Client
}

// hopHeaders are never forwarded upstream.
var hopHeaders = []string{
	"Host", "Connection", "Transfer-Encoding", "Content-Length", "Accept-Encoding",
	"Keep-Alive", "Proxy-Connection", "Upgrade", "Authorization",
}

// NewHTTPTransport builds a transport. With OAuth2 set the client injects
// bearer tokens itself and APIKey is ignored.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	apiKey := cfg.APIKey
	if cfg.OAuth2 != nil && cfg.OAuth2.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
		base := client
		client = cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
		client.Timeout = base.Timeout
		apiKey = ""
	}
	return &HTTPTransport{
		endpoint:  strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:    apiKey,
		userAgent: cfg.UserAgent,
		client:    client,
	}
}

// RoundTrip implements Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		httpReq.Header.Del(h)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip, br, zstd")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	log.Debugf("upstream %s: status %d in %s", req.Model, httpResp.StatusCode, time.Since(start))

	body, err := decodeBody(httpResp.Body, httpResp.Header.Get("Content-Encoding"))
	if err != nil {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("upstream: close response body error: %v", errClose)
		}
		return nil, err
	}
	header := httpResp.Header.Clone()
	if body != httpResp.Body {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}
	return &Response{Status: httpResp.StatusCode, Header: header, Body: body}, nil
}

// decodeBody wraps rc with a decompressor matching encoding.
func decodeBody(rc io.ReadCloser, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return rc, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(rc)
		if err != nil {
			return nil, fmt.Errorf("gzip response: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []func() error{zr.Close, rc.Close}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(rc), closers: []func() error{rc.Close}}, nil
	case "zstd":
		zr, err := zstd.NewReader(rc)
		if err != nil {
			return nil, fmt.Errorf("zstd response: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []func() error{func() error { zr.Close(); return nil }, rc.Close}}, nil
	default:
		return rc, nil
	}
}

type decodedBody struct {
	io.Reader
	closers []func() error
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
