// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultMaxMessages bounds the conversation sent upstream.
const DefaultMaxMessages = 200

// continuationText opens a conversation that would otherwise start with an
// assistant turn.
const continuationText = "(continuing conversation)"

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
	"function":  true,
}

var roleAliases = map[string]string{
	"developer": "system",
	"model":     "assistant",
}

var invalidToolIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Message is one chat message. Role is split out; every other field is kept
// as raw JSON so that unknown provider extensions survive normalization.
// Entries that are not JSON objects are carried through untouched.
type Message struct {
	Role   string
	Fields map[string]json.RawMessage
	opaque json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	if !gjson.ParseBytes(data).IsObject() {
		m.opaque = append(json.RawMessage(nil), data...)
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["role"]; ok {
		m.Role = gjson.ParseBytes(raw).String()
		delete(fields, "role")
	}
	m.Fields = fields
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.opaque != nil {
		return m.opaque, nil
	}
	out := make(map[string]json.RawMessage, len(m.Fields)+1)
	for k, v := range m.Fields {
		out[k] = v
	}
	role, err := json.Marshal(m.Role)
	if err != nil {
		return nil, err
	}
	out["role"] = role
	return json.Marshal(out)
}

func (m Message) isObject() bool { return m.opaque == nil }

func (m Message) field(name string) gjson.Result {
	raw, ok := m.Fields[name]
	if !ok {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

func (m Message) with(name string, raw []byte) Message {
	fields := make(map[string]json.RawMessage, len(m.Fields)+1)
	for k, v := range m.Fields {
		fields[k] = v
	}
	fields[name] = raw
	m.Fields = fields
	return m
}

// NormalizeOptions tunes Normalize.
type NormalizeOptions struct {
	MaxMessages int
	// Reasoning forces the thinking placeholder for reasoning models.
	Reasoning bool
}

// Normalize rewrites body for model: the model field is set and the
// messages pass through role mapping, truncation, tool-id sanitization, the
// first-turn fix for Google models and the thinking placeholder. The input
// is not modified.
func Normalize(body []byte, model string, opts NormalizeOptions) ([]byte, error) {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	out, err := sjson.SetBytes(append([]byte(nil), body...), "model", model)
	if err != nil {
		return nil, fmt.Errorf("set model: %w", err)
	}
	raw := gjson.GetBytes(out, "messages")
	if !raw.IsArray() {
		return out, nil
	}

	var msgs []Message
	if err = json.Unmarshal([]byte(raw.Raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	msgs = NormalizeRoles(msgs)
	if isGoogleModel(model) {
		msgs = truncateWithFirstTurn(msgs, opts.MaxMessages)
	} else {
		msgs = Truncate(msgs, opts.MaxMessages)
	}
	msgs = SanitizeToolIDs(msgs)
	if opts.Reasoning || truthy(gjson.GetBytes(out, "thinking")) || truthy(gjson.GetBytes(out, "extended_thinking")) {
		msgs = AddThinkingPlaceholder(msgs)
	}

	encoded, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return sjson.SetRawBytes(out, "messages", encoded)
}

func isGoogleModel(model string) bool {
	return strings.HasPrefix(model, "google/") || strings.HasPrefix(model, "gemini")
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}

// NormalizeRoles maps developer to system, model to assistant and any other
// unknown role to user.
func NormalizeRoles(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.isObject() && !validRoles[m.Role] {
			if alias, ok := roleAliases[m.Role]; ok {
				m.Role = alias
			} else {
				m.Role = "user"
			}
		}
		out[i] = m
	}
	return out
}

// Truncate keeps every system message plus the most recent conversation
// messages so that at most max messages remain. Relative order is preserved.
func Truncate(msgs []Message, max int) []Message {
	if len(msgs) <= max {
		return msgs
	}
	systems := 0
	for _, m := range msgs {
		if m.Role == "system" {
			systems++
		}
	}
	keep := max - systems
	if keep < 0 {
		keep = 0
	}
	skip := len(msgs) - systems - keep
	out := make([]Message, 0, systems+keep)
	for _, m := range msgs {
		if m.Role != "system" && skip > 0 {
			skip--
			continue
		}
		out = append(out, m)
	}
	return out
}

// truncateWithFirstTurn truncates and applies FixGoogleFirstTurn, leaving
// room for the filler turn so the result still fits in max.
func truncateWithFirstTurn(msgs []Message, max int) []Message {
	out := FixGoogleFirstTurn(Truncate(msgs, max))
	if len(out) > max && max > 1 {
		out = FixGoogleFirstTurn(Truncate(msgs, max-1))
	}
	return out
}

// SanitizeToolID replaces every character outside [a-zA-Z0-9_-] with '_'.
func SanitizeToolID(id string) string {
	return invalidToolIDChars.ReplaceAllString(id, "_")
}

// SanitizeToolIDs rewrites tool call ids in tool_calls, tool_call_id and
// tool_use / tool_result content blocks.
func SanitizeToolIDs(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if !m.isObject() {
			out[i] = m
			continue
		}
		if calls := m.field("tool_calls"); calls.IsArray() {
			raw := []byte(calls.Raw)
			changed := false
			calls.ForEach(func(key, call gjson.Result) bool {
				if id := call.Get("id"); id.Type == gjson.String {
					if clean := SanitizeToolID(id.Str); clean != id.Str {
						raw, _ = sjson.SetBytes(raw, key.String()+".id", clean)
						changed = true
					}
				}
				return true
			})
			if changed {
				m = m.with("tool_calls", raw)
			}
		}
		if id := m.field("tool_call_id"); id.Type == gjson.String {
			if clean := SanitizeToolID(id.Str); clean != id.Str {
				enc, _ := json.Marshal(clean)
				m = m.with("tool_call_id", enc)
			}
		}
		if content := m.field("content"); content.IsArray() {
			raw := []byte(content.Raw)
			changed := false
			content.ForEach(func(key, block gjson.Result) bool {
				path := ""
				switch block.Get("type").String() {
				case "tool_use":
					path = "id"
				case "tool_result":
					path = "tool_use_id"
				}
				if path == "" {
					return true
				}
				if id := block.Get(path); id.Type == gjson.String {
					if clean := SanitizeToolID(id.Str); clean != id.Str {
						raw, _ = sjson.SetBytes(raw, key.String()+"."+path, clean)
						changed = true
					}
				}
				return true
			})
			if changed {
				m = m.with("content", raw)
			}
		}
		out[i] = m
	}
	return out
}

// FixGoogleFirstTurn inserts a short user turn when the first non-system
// message comes from the assistant.
func FixGoogleFirstTurn(msgs []Message) []Message {
	for i, m := range msgs {
		if m.Role == "system" {
			continue
		}
		if m.Role != "assistant" && m.Role != "model" {
			return msgs
		}
		content, _ := json.Marshal(continuationText)
		filler := Message{Role: "user", Fields: map[string]json.RawMessage{"content": content}}
		out := make([]Message, 0, len(msgs)+1)
		out = append(out, msgs[:i]...)
		out = append(out, filler)
		return append(out, msgs[i:]...)
	}
	return msgs
}

// AddThinkingPlaceholder gives assistant tool-call turns an empty
// reasoning_content when they carry none.
func AddThinkingPlaceholder(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Role != "assistant" || !m.isObject() {
			continue
		}
		if _, ok := m.Fields["reasoning_content"]; ok {
			continue
		}
		if hasToolCalls(m) {
			out[i] = m.with("reasoning_content", []byte(`""`))
		}
	}
	return out
}

func hasToolCalls(m Message) bool {
	if calls := m.field("tool_calls"); calls.IsArray() && len(calls.Array()) > 0 {
		return true
	}
	if content := m.field("content"); content.IsArray() {
		for _, block := range content.Array() {
			if block.Get("type").String() == "tool_use" {
				return true
			}
		}
	}
	return false
}
