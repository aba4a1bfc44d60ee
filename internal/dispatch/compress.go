// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"bytes"
	"context"
	"regexp"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultCompressThresholdKB is the body size above which the compressor runs.
const DefaultCompressThresholdKB = 180

// Compressor shrinks a conversation before it is sent upstream.
type Compressor interface {
	Compress(ctx context.Context, msgs []Message) ([]Message, error)
}

// NopCompressor returns the messages unchanged.
type NopCompressor struct{}

func (NopCompressor) Compress(_ context.Context, msgs []Message) ([]Message, error) {
	return msgs, nil
}

var (
	blankRuns     = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
)

// WhitespaceCompressor trims trailing blanks and collapses runs of empty
// lines in string contents.
type WhitespaceCompressor struct{}

func (WhitespaceCompressor) Compress(_ context.Context, msgs []Message) ([]Message, error) {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		content := m.field("content")
		if !m.isObject() || content.Type != gjson.String {
			continue
		}
		s := trailingSpace.ReplaceAllString(content.Str, "\n")
		s = blankRuns.ReplaceAllString(s, "\n\n")
		if s == content.Str {
			continue
		}
		enc, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		out[i] = m.with("content", enc)
	}
	return out, nil
}

// MaybeCompress runs c over the messages of body when the body exceeds
// thresholdKB. Failures are logged and the original body is kept, as it is
// when c leaves the messages unchanged.
func MaybeCompress(ctx context.Context, body []byte, thresholdKB int, c Compressor) []byte {
	if c == nil || thresholdKB <= 0 || (len(body)+1023)/1024 <= thresholdKB {
		return body
	}
	raw := gjson.GetBytes(body, "messages")
	if !raw.IsArray() {
		return body
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(raw.Raw), &msgs); err != nil {
		log.Warnf("compress: decode messages: %v", err)
		return body
	}
	compressed, err := c.Compress(ctx, msgs)
	if err != nil {
		log.Warnf("compress: %v", err)
		return body
	}
	enc, err := json.Marshal(compressed)
	if err != nil {
		log.Warnf("compress: encode messages: %v", err)
		return body
	}
	if orig, errOrig := json.Marshal(msgs); errOrig == nil && bytes.Equal(orig, enc) {
		return body
	}
	out, err := sjson.SetRawBytes(append([]byte(nil), body...), "messages", enc)
	if err != nil {
		log.Warnf("compress: %v", err)
		return body
	}
	log.Debugf("compress: %d -> %d bytes", len(body), len(out))
	return out
}
