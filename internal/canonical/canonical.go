// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package canonical renders JSON request bodies into a stable byte form so
// that cosmetically different but equivalent requests hash to the same key.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"regexp"

	"github.com/goccy/go-json"
)

// timestampPrefix matches the "[Mon 2026-01-02 15:04 UTC] " marker some
// clients prepend to message content.
var timestampPrefix = regexp.MustCompile(`^\[\w{3}\s+\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}\s+\w+\]\s*`)

// ErrTrailingData is returned by Decode when the body holds more than one
// JSON value.
var ErrTrailingData = errors.New("canonical: trailing data after JSON value")

// StripTimestamp removes one leading timestamp marker from s.
func StripTimestamp(s string) string {
	loc := timestampPrefix.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[loc[1]:]
}

// Decode parses body into a generic tree. Numbers are kept as json.Number so
// that re-encoding does not alter their text.
func Decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	return v, nil
}

// Encode renders v with every object's keys in sorted order.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// StripContentTimestamps returns a copy of v with the timestamp marker
// removed from every string value stored under a "content" key, at any depth.
func StripContentTimestamps(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if s, ok := val.(string); ok && k == "content" {
				out[k] = StripTimestamp(s)
				continue
			}
			out[k] = StripContentTimestamps(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = StripContentTimestamps(val)
		}
		return out
	}
	return v
}

// Sum returns the first n hex characters of the SHA-256 of content.
func Sum(content []byte, n int) string {
	h := sha256.Sum256(content)
	s := hex.EncodeToString(h[:])
	if n > 0 && n < len(s) {
		return s[:n]
	}
	return s
}

// Key decodes body, applies normalize to the tree, re-encodes it canonically
// and hashes the result. Bodies that are not JSON are hashed as raw bytes.
func Key(body []byte, n int, normalize func(any) any) string {
	v, err := Decode(body)
	if err != nil {
		return Sum(body, n)
	}
	if normalize != nil {
		v = normalize(v)
	}
	out, err := Encode(v)
	if err != nil {
		return Sum(body, n)
	}
	return Sum(out, n)
}
