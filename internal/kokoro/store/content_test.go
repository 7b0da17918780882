package store

import (
	"encoding/json"
	"testing"
)

func TestContentUnmarshalBareString(t *testing.T) {
	var c Content
	if err := json.Unmarshal([]byte(`"just text"`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Kind != ContentText || c.DisplayText() != "just text" {
		t.Errorf("got kind=%v text=%q", c.Kind, c.DisplayText())
	}
}

func TestContentUnmarshalObject(t *testing.T) {
	var c Content
	payload := `{"text": "hello", "mood": "calm", "attachments": [1, 2]}`
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Kind != ContentStructured {
		t.Errorf("kind = %v, want structured", c.Kind)
	}
	if c.DisplayText() != "hello" {
		t.Errorf("DisplayText() = %q, want hello", c.DisplayText())
	}
	if len(c.Extra) != 2 {
		t.Errorf("extra fields = %d, want 2", len(c.Extra))
	}
}

func TestContentNonStringTextField(t *testing.T) {
	var c Content
	if err := json.Unmarshal([]byte(`{"text": 42}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// A non-string "text" becomes an extra field and the deterministic
	// fallback rendering kicks in.
	if c.Text != "" {
		t.Errorf("text = %q, want empty", c.Text)
	}
	if got := c.DisplayText(); got != "{text: 42}" {
		t.Errorf("DisplayText() = %q, want {text: 42}", got)
	}
}

func TestContentDisplayTextFallbackIsDeterministic(t *testing.T) {
	var c Content
	payload := `{"zeta": "z", "alpha": "a"}`
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := `{alpha: "a", zeta: "z"}`
	for i := 0; i < 5; i++ {
		if got := c.DisplayText(); got != want {
			t.Fatalf("DisplayText() = %q, want %q", got, want)
		}
	}
}

func TestContentMarshalNormalizesToObject(t *testing.T) {
	raw, err := json.Marshal(TextContent("plain"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if decoded["text"] != "plain" {
		t.Errorf("stored form = %s, want {\"text\":\"plain\"}", raw)
	}
}
