package chat

import (
	"strings"

	"github.com/abhirockzz/langchaingo-site-assistant/agent"
)

// Speaker identifies who authored a Turn.
type Speaker string

const (
	User      Speaker = "user"
	Assistant Speaker = "assistant"
)

// Turn is one committed message of a conversation. Turns are never mutated.
type Turn struct {
	Role    Speaker `json:"role"`
	Content string  `json:"content"`
}

const (
	genericFallback       = "I apologize, but I encountered an error processing your request. Please try again later."
	timeoutFallback       = "I apologize, but it took too long to find an answer. Please try asking again."
	contentFilterFallback = "I apologize, but I can't respond to that request as it triggered the content filter. Please try rephrasing your question."
)

// FallbackMessage is the assistant reply recorded in place of an answer when
// the agent fails. It never exposes the underlying error.
func FallbackMessage(err error) string {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "content management policy") || (strings.Contains(msg, "blocked") && strings.Contains(msg, "safety")) {
		return contentFilterFallback
	}
	if agent.KindOf(err) == agent.Timeout {
		return timeoutFallback
	}
	return genericFallback
}
