package resilience

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/loquax/pkg/provider/llm"
)

// defaultTriggerThreshold is the minimum Jaro-Winkler score for a transcript
// word to count as a trigger match. Transcripts come from STT, so triggers
// are matched fuzzily to tolerate mistranscriptions ("helo" → "hello").
const defaultTriggerThreshold = 0.88

// cannedRule maps a set of trigger words or phrases to a fixed reply.
// Multi-word triggers are matched as substrings; single words fuzzily.
type cannedRule struct {
	triggers []string
	reply    string
}

// defaultRules cover common conversational openings so the agent stays
// minimally responsive when every model backend is down.
var defaultRules = []cannedRule{
	{
		triggers: []string{"hello", "hi", "hey"},
		reply:    "Hello! How can I help you today?",
	},
	{
		triggers: []string{"how are you", "how do you do"},
		reply:    "I'm doing well, thank you for asking! How can I assist you?",
	},
	{
		triggers: []string{"bye", "goodbye", "see you"},
		reply:    "Goodbye! Have a great day!",
	},
	{
		triggers: []string{"thank you", "thanks"},
		reply:    "You're welcome! Is there anything else I can help you with?",
	},
}

const (
	questionReply = "That's an interesting question. Let me think about that for a moment."
	defaultReply  = "I understand what you're saying. Could you tell me more about that?"
)

// CannedResponder implements [llm.Provider] with keyword-matched fixed
// replies. It never fails, which makes it suitable as the terminal entry of an
// [LLMFallback]: a turn always produces a reply even with no model reachable.
type CannedResponder struct {
	rules     []cannedRule
	threshold float64
}

// Compile-time interface assertion.
var _ llm.Provider = (*CannedResponder)(nil)

// CannedOption is a functional option for configuring a [CannedResponder].
type CannedOption func(*CannedResponder)

// WithTriggerThreshold sets the minimum Jaro-Winkler score for fuzzy trigger
// matching. Default: 0.88.
func WithTriggerThreshold(threshold float64) CannedOption {
	return func(c *CannedResponder) {
		c.threshold = threshold
	}
}

// NewCannedResponder creates a [CannedResponder] with the built-in rule set.
func NewCannedResponder(opts ...CannedOption) *CannedResponder {
	c := &CannedResponder{
		rules:     defaultRules,
		threshold: defaultTriggerThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete implements [llm.Provider]. It inspects the last user message and
// returns the first matching canned reply. Token usage is always zero.
func (c *CannedResponder) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: c.Reply(lastUserMessage(req.Messages))}, nil
}

// Reply returns the canned reply for the given user input.
func (c *CannedResponder) Reply(input string) string {
	lower := strings.ToLower(input)
	words := strings.Fields(lower)

	for _, rule := range c.rules {
		if c.matches(rule, lower, words) {
			return rule.reply
		}
	}
	if strings.Contains(input, "?") {
		return questionReply
	}
	return defaultReply
}

// matches reports whether any of the rule's triggers occur in the input.
func (c *CannedResponder) matches(rule cannedRule, input string, words []string) bool {
	for _, trigger := range rule.triggers {
		if strings.Contains(trigger, " ") {
			if strings.Contains(input, trigger) {
				return true
			}
			continue
		}
		for _, w := range words {
			if matchr.JaroWinkler(w, trigger, false) >= c.threshold {
				return true
			}
		}
	}
	return false
}

// lastUserMessage returns the content of the most recent user-role message,
// or the last message of any role when no user message exists.
func lastUserMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}
