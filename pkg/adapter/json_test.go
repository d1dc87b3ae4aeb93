package adapter_test

import (
	"encoding/json"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sensei/pkg/adapter"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain object",
			input: `{"answer": "x = 2"}`,
			want:  `{"answer": "x = 2"}`,
		},
		{
			name:  "fenced json",
			input: "```json\n{\"answer\": \"x = 2\"}\n```",
			want:  "{\"answer\": \"x = 2\"}",
		},
		{
			name:  "prose before object",
			input: "Here is the result: {\"verdict\": \"pass\"} hope it helps",
			want:  `{"verdict": "pass"}`,
		},
		{
			name:  "nested braces",
			input: `{"outer": {"inner": [1, 2]}} trailing`,
			want:  `{"outer": {"inner": [1, 2]}}`,
		},
		{
			name:  "braces inside string values",
			input: `{"text": "set {x} and \"quoted\""}`,
			want:  `{"text": "set {x} and \"quoted\""}`,
		},
		{
			name:  "array payload",
			input: "result:\n[1, 2, 3]",
			want:  "[1, 2, 3]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adapter.ExtractJSON(tt.input)
			gt.V(t, got).Equal(tt.want)

			var v any
			gt.NoError(t, json.Unmarshal([]byte(got), &v))
		})
	}
}

func TestExtractJSONNoPayload(t *testing.T) {
	// No JSON at all: the input comes back as-is and the caller's
	// json.Unmarshal decides it is a stage-level error
	got := adapter.ExtractJSON("the answer is four")
	gt.V(t, got).Equal("the answer is four")
}
