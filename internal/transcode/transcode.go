// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transcode turns a buffered chat completion into an OpenAI-style
// server-sent event stream.
package transcode

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Done terminates every stream.
const Done = "data: [DONE]\n\n"

var (
	kimiBlock     = regexp.MustCompile(`(?i)<[｜|][^<>]*begin[^<>]*[｜|]>[\s\S]*?<[｜|][^<>]*end[^<>]*[｜|]>`)
	kimiToken     = regexp.MustCompile(`<[｜|][^<>]*[｜|]>`)
	thinkingBlock = regexp.MustCompile(`(?i)<\s*(?:think(?:ing)?|thought|antthinking)\b[^>]*>[\s\S]*?<\s*/\s*(?:think(?:ing)?|thought|antthinking)\s*>`)
	thinkingTag   = regexp.MustCompile(`(?i)<\s*/?\s*(?:think(?:ing)?|thought|antthinking)\b[^>]*>`)
)

// StripThinking removes reasoning markup that some models leak into the
// visible content.
func StripThinking(content string) string {
	if content == "" {
		return content
	}
	content = kimiBlock.ReplaceAllString(content, "")
	content = kimiToken.ReplaceAllString(content, "")
	content = thinkingBlock.ReplaceAllString(content, "")
	return thinkingTag.ReplaceAllString(content, "")
}

// Frame wraps payload as one SSE data event.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, "\n\n"...)
}

// Events converts a buffered completion into SSE frames, excluding the
// terminal Done marker. Each choice yields a role frame, a content frame
// when the stripped content is non-empty, a tool-call frame when present and
// a finish frame. A body that is not JSON is forwarded as a single frame.
func Events(body []byte, now time.Time) [][]byte {
	if !gjson.ValidBytes(body) {
		return [][]byte{Frame(body)}
	}
	rsp := gjson.ParseBytes(body)
	choices := rsp.Get("choices")
	if !choices.IsArray() {
		return nil
	}

	base := baseChunk(rsp, now)
	var frames [][]byte
	for _, choice := range choices.Array() {
		index := choice.Get("index").Int()
		role := firstString(choice, "message.role", "delta.role")
		if role == "" {
			role = "assistant"
		}
		content := StripThinking(firstString(choice, "message.content", "delta.content"))

		frames = append(frames, Frame(chunkRaw(base, index, delta("role", role), nil)))
		if content != "" {
			frames = append(frames, Frame(chunkRaw(base, index, delta("content", content), nil)))
		}

		toolCalls := choice.Get("message.tool_calls")
		if !toolCalls.Exists() || toolCalls.Type == gjson.Null {
			toolCalls = choice.Get("delta.tool_calls")
		}
		hasTools := toolCalls.IsArray() && len(toolCalls.Array()) > 0
		if hasTools {
			d, _ := sjson.SetRawBytes([]byte(`{}`), "tool_calls", []byte(toolCalls.Raw))
			frames = append(frames, Frame(chunkRaw(base, index, d, nil)))
		}

		finish := "stop"
		if hasTools {
			finish = "tool_calls"
		} else if fr := choice.Get("finish_reason"); fr.Type == gjson.String {
			finish = fr.String()
		}
		frames = append(frames, Frame(chunkRaw(base, index, []byte(`{}`), &finish)))
	}
	return frames
}

// WriteSSE writes the full stream for body, including Done, and returns the
// bytes written so the caller can retain them.
func WriteSSE(w io.Writer, body []byte, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range Events(body, now) {
		buf.Write(f)
	}
	buf.WriteString(Done)
	_, err := w.Write(buf.Bytes())
	return buf.Bytes(), err
}

// ErrorEvent renders a terminal error for a stream whose headers are already
// flushed. JSON bodies pass through compacted; anything else is wrapped.
func ErrorEvent(body []byte, status int) []byte {
	if gjson.ValidBytes(body) && gjson.ParseBytes(body).IsObject() {
		return Frame([]byte(gjson.GetBytes(body, "@ugly").Raw))
	}
	payload := []byte(`{"error":{}}`)
	payload, _ = sjson.SetBytes(payload, "error.message", string(body))
	payload, _ = sjson.SetBytes(payload, "error.type", "provider_error")
	payload, _ = sjson.SetBytes(payload, "error.status", status)
	return Frame(payload)
}

func baseChunk(rsp gjson.Result, now time.Time) []byte {
	base := []byte(`{}`)
	id := rsp.Get("id")
	if id.Exists() && id.Type != gjson.Null {
		base, _ = sjson.SetRawBytes(base, "id", []byte(id.Raw))
	} else {
		base, _ = sjson.SetBytes(base, "id", fmt.Sprintf("chatcmpl-%d", now.UnixMilli()))
	}
	base, _ = sjson.SetBytes(base, "object", "chat.completion.chunk")
	if created := rsp.Get("created"); created.Exists() && created.Type != gjson.Null {
		base, _ = sjson.SetRawBytes(base, "created", []byte(created.Raw))
	} else {
		base, _ = sjson.SetBytes(base, "created", now.Unix())
	}
	model := "unknown"
	if m := rsp.Get("model"); m.Type == gjson.String {
		model = m.String()
	}
	base, _ = sjson.SetBytes(base, "model", model)
	base, _ = sjson.SetRawBytes(base, "system_fingerprint", []byte("null"))
	return base
}

func delta(key, value string) []byte {
	d, _ := sjson.SetBytes([]byte(`{}`), key, value)
	return d
}

func chunkRaw(base []byte, index int64, d []byte, finish *string) []byte {
	choice := []byte(`{}`)
	choice, _ = sjson.SetBytes(choice, "index", index)
	choice, _ = sjson.SetRawBytes(choice, "delta", d)
	choice, _ = sjson.SetRawBytes(choice, "logprobs", []byte("null"))
	if finish != nil {
		choice, _ = sjson.SetBytes(choice, "finish_reason", *finish)
	} else {
		choice, _ = sjson.SetRawBytes(choice, "finish_reason", []byte("null"))
	}
	out := make([]byte, len(base))
	copy(out, base)
	out, _ = sjson.SetRawBytes(out, "choices", append(append([]byte{'['}, choice...), ']'))
	return out
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v.String()
		}
	}
	return ""
}
