package openai

import (
	"testing"

	"github.com/weftlabs/weft/pkg/provider/llm"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for empty API key, got nil")
	}
}

func TestNew_RequiresModel(t *testing.T) {
	t.Parallel()

	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model, got nil")
	}
}

func TestConvertMessage_KnownRoles(t *testing.T) {
	t.Parallel()

	sys, err := convertMessage(llm.Message{Role: "system", Content: "be brief"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sys.OfSystem == nil {
		t.Error("expected OfSystem to be set")
	}

	usr, err := convertMessage(llm.Message{Role: "user", Content: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usr.OfUser == nil {
		t.Error("expected OfUser to be set")
	}

	asst, err := convertMessage(llm.Message{Role: "assistant", Content: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asst.OfAssistant == nil {
		t.Error("expected OfAssistant to be set")
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()

	if _, err := convertMessage(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Fatal("expected error for unsupported role, got nil")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "fix transcripts",
		Messages:     []llm.Message{{Role: "user", Content: "the text"}},
		Temperature:  0.1,
		MaxTokens:    256,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages (system + user), got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("system prompt not injected as first message")
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.1 {
		t.Errorf("temperature not applied: %+v", params.Temperature)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 256 {
		t.Errorf("max tokens not applied: %+v", params.MaxCompletionTokens)
	}
}

func TestBuildParams_RejectsUnknownRole(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "function", Content: "x"}},
	})
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}
