package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ContentKind discriminates the two wire shapes a message payload can take.
type ContentKind int

const (
	// ContentText is a plain text payload.
	ContentText ContentKind = iota
	// ContentStructured is an object payload carrying a "text" field plus
	// arbitrary extra fields (attachments, client hints, and so on).
	ContentStructured
)

// Content is the tagged payload of a message. Historically clients sent
// either a bare string or an object with a "text" field; rather than
// inspecting types at every call site, Content normalizes both shapes behind
// DisplayText.
type Content struct {
	Kind ContentKind
	Text string
	// Extra holds the non-text fields of a structured payload. Nil for
	// plain text content.
	Extra map[string]json.RawMessage
}

// TextContent wraps a plain string payload.
func TextContent(s string) Content {
	return Content{Kind: ContentText, Text: s}
}

// DisplayText returns the human-readable text of the payload. Structured
// payloads without a "text" field fall back to a deterministic rendering of
// their fields so the transcript never shows an empty turn.
func (c Content) DisplayText() string {
	if c.Text != "" {
		return c.Text
	}
	if c.Kind == ContentStructured && len(c.Extra) > 0 {
		keys := make([]string, 0, len(c.Extra))
		for k := range c.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", k, strings.TrimSpace(string(c.Extra[k])))
		}
		b.WriteByte('}')
		return b.String()
	}
	return c.Text
}

// MarshalJSON always writes the object form, matching what the chat clients
// store: {"text": "..."} plus any extra fields.
func (c Content) MarshalJSON() ([]byte, error) {
	obj := make(map[string]json.RawMessage, len(c.Extra)+1)
	for k, v := range c.Extra {
		obj[k] = v
	}
	text, err := json.Marshal(c.Text)
	if err != nil {
		return nil, err
	}
	obj["text"] = text
	return json.Marshal(obj)
}

// UnmarshalJSON accepts either a bare JSON string or an object. Objects keep
// their non-text fields in Extra.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("content: decode string payload: %w", err)
		}
		*c = TextContent(s)
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("content: decode object payload: %w", err)
	}

	out := Content{Kind: ContentStructured}
	if raw, ok := obj["text"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out.Text = s
		} else {
			// Non-string "text" is kept as an extra field instead.
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra["text"] = raw
		}
		delete(obj, "text")
	}
	if len(obj) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage, len(obj))
		}
		for k, v := range obj {
			out.Extra[k] = v
		}
	}
	*c = out
	return nil
}
