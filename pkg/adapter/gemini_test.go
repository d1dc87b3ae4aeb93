package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sensei/pkg/adapter"
	"google.golang.org/genai"
)

func TestGenerateContent(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewGemini(ctx, projectID, "us-central1")
	gt.NoError(t, err)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: "Solve 2x + 3 = 7 for x."},
			},
		},
	}

	resp, err := client.GenerateContent(ctx, contents, nil)
	if err != nil {
		t.Fatal("failed to call GenerateContent", err)
	}

	text, err := adapter.ResponseText(resp)
	gt.NoError(t, err)
	if text == "" {
		t.Fatal("unexpected empty response")
	}

	t.Log("response:", text)
}

func TestEmbedding(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewGemini(ctx, projectID, "us-central1")
	gt.NoError(t, err)

	resp, err := client.Embedding(ctx, "quadratic equations")
	gt.NoError(t, err)

	values, err := adapter.EmbeddingValues(resp)
	gt.NoError(t, err)
	if len(values) == 0 {
		t.Fatal("unexpected empty embedding")
	}
}

func TestResponseTextInvalid(t *testing.T) {
	_, err := adapter.ResponseText(nil)
	gt.Error(t, err)

	_, err = adapter.ResponseText(&genai.GenerateContentResponse{})
	gt.Error(t, err)
}
