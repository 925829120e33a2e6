package resilience

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/loquax/pkg/provider/llm"
)

func TestCannedResponderReply(t *testing.T) {
	c := NewCannedResponder()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "greeting", input: "hello there", want: "Hello!"},
		{name: "greeting uppercase", input: "HELLO", want: "Hello!"},
		{name: "wellbeing phrase", input: "so how are you today", want: "doing well"},
		{name: "farewell", input: "ok goodbye now", want: "Goodbye!"},
		{name: "gratitude", input: "thanks a lot", want: "welcome"},
		{name: "question", input: "what is the weather like?", want: "interesting question"},
		{name: "default", input: "mumbling about nothing in particular", want: "tell me more"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Reply(tt.input)
			if !strings.Contains(got, tt.want) {
				t.Errorf("Reply(%q) = %q, want it to contain %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCannedResponderFuzzyTrigger(t *testing.T) {
	c := NewCannedResponder()

	// A plausible mistranscription of "hello" should still hit the greeting.
	got := c.Reply("helo")
	if !strings.Contains(got, "Hello!") {
		t.Errorf("Reply(%q) = %q, want greeting", "helo", got)
	}
}

func TestCannedResponderComplete(t *testing.T) {
	c := NewCannedResponder()

	resp, err := c.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "Hello! How can I help you today?"},
			{Role: llm.RoleUser, Content: "thank you"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(resp.Content, "welcome") {
		t.Errorf("content = %q, want gratitude reply", resp.Content)
	}
}

func TestCannedResponderEmptyHistory(t *testing.T) {
	c := NewCannedResponder()

	resp, err := c.Complete(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content == "" {
		t.Fatal("expected a non-empty reply for empty history")
	}
}
