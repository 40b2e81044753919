package ai

import (
	"strings"
	"testing"
)

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"summary": "x"}`, `{"summary": "x"}`},
		{"```json\n{\"summary\": \"x\"}\n```", `{"summary": "x"}`},
		{"```\n{\"summary\": \"x\"}\n```", `{"summary": "x"}`},
		{"  \n```json\n{}\n```\n  ", "{}"},
	}
	for _, tc := range cases {
		if got := stripCodeFences(tc.in); got != tc.want {
			t.Fatalf("stripCodeFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("hello", 10); got != "hello" {
		t.Fatalf("short text should pass through, got %q", got)
	}
	if got := truncateText(strings.Repeat("a", 100), 10); len(got) != 10 {
		t.Fatalf("expected truncation to 10 bytes, got %d", len(got))
	}
}

func TestBuildMetadataPromptIncludesDocument(t *testing.T) {
	prompt := buildMetadataPrompt("Refund Policy", "Refunds within 30 days.")
	if !strings.Contains(prompt, "Title: Refund Policy") {
		t.Fatalf("prompt missing title: %q", prompt)
	}
	if !strings.Contains(prompt, "Refunds within 30 days.") {
		t.Fatalf("prompt missing document body")
	}
	for _, key := range []string{"summary", "category", "entity_tags", "extracted_rules", "suggested_questions"} {
		if !strings.Contains(prompt, key) {
			t.Fatalf("prompt missing key %q", key)
		}
	}
}
