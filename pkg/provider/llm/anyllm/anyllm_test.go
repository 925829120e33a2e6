package anyllm

import (
	"strings"
	"testing"

	"github.com/MrWong99/loquax/pkg/provider/llm"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name         string
		providerName string
		model        string
		wantErr      string
	}{
		{name: "empty provider", providerName: "", model: "gpt-4o-mini", wantErr: "providerName"},
		{name: "empty model", providerName: "openai", model: "", wantErr: "model"},
		{name: "unsupported provider", providerName: "not-a-provider", model: "some-model", wantErr: "unsupported provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.providerName, tt.model)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNewOllama(t *testing.T) {
	// Ollama needs no API key, so construction succeeds without credentials.
	p, err := NewOllama("llama3.2")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	if p.model != "llama3.2" {
		t.Errorf("model = %q, want %q", p.model, "llama3.2")
	}
	if p.backend == nil {
		t.Error("backend is nil")
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}

	req := llm.Request{
		SystemPrompt: "You are a helpful voice assistant.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "hello"},
			{Role: llm.RoleAssistant, Content: "hi there"},
			{Role: llm.RoleUser, Content: "what time is it"},
		},
		Temperature: 0.7,
		MaxTokens:   150,
	}

	params := p.buildParams(req)

	if params.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want %q", params.Model, "gpt-4o-mini")
	}
	if len(params.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(params.Messages))
	}
	if params.Messages[0].Role != "system" || params.Messages[0].Content != req.SystemPrompt {
		t.Errorf("first message = %+v, want system prompt", params.Messages[0])
	}
	if params.Messages[3].Content != "what time is it" {
		t.Errorf("last message = %q, want %q", params.Messages[3].Content, "what time is it")
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Errorf("maxTokens = %v, want 150", params.MaxTokens)
	}
}

func TestBuildParamsZeroDefaults(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}

	params := p.buildParams(llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})

	if params.Temperature != nil {
		t.Errorf("temperature = %v, want nil for provider default", params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("maxTokens = %v, want nil for provider default", params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("got %d messages, want 1 (no system message)", len(params.Messages))
	}
}
