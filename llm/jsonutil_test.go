package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bare object",
			content: `{"a": 1}`,
			want:    `{"a": 1}`,
		},
		{
			name:    "markdown code block",
			content: "Here you go:\n```json\n{\"a\": 1}\n```\nHope that helps!",
			want:    `{"a": 1}`,
		},
		{
			name:    "code block without language tag",
			content: "```\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "surrounding prose",
			content: `The answer is {"a": 1} as requested.`,
			want:    `{"a": 1}`,
		},
		{
			name:    "trailing comma removed",
			content: `{"a": 1, "b": [1, 2,],}`,
			want:    `{"a": 1, "b": [1, 2]}`,
		},
		{
			name:    "line comment stripped",
			content: "{\n\"a\": 1 // the count\n}",
			want:    "{\n\"a\": 1\n}",
		},
		{
			name:    "url inside string survives",
			content: `{"url": "http://example.com"}`,
			want:    `{"url": "http://example.com"}`,
		},
		{
			name:    "no json at all",
			content: "I cannot produce a plan for that goal.",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.content)
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
			if tt.want != "" && !json.Valid([]byte(got)) {
				t.Errorf("extracted JSON is invalid: %q", got)
			}
		})
	}
}
