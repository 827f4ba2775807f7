package ai

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
//
// StreamChat returns immediately with two channels; both are closed when the
// stream ends. Chunks arrive in emission order and are never retracted; at
// most one error is sent, and no retry is attempted.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}
