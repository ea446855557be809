// Package assistant declares the seams to the conversational capabilities
// this service fronts. The LLM agent loop, retrieval-augmented Q&A, and
// conversation persistence live behind these interfaces; the relay server
// only wires them through.
package assistant

import "context"

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Agent produces a reply for a message given prior history. onToken, when
// non-nil, receives streaming tokens as they are generated; the full
// reply is still returned at the end.
type Agent interface {
	Chat(ctx context.Context, message string, history []Message, onToken func(token string)) (string, error)
}

// SourceSnippet is a cited fragment backing a document answer.
type SourceSnippet struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// DocumentQA answers questions over an ingested document corpus.
type DocumentQA interface {
	Answer(ctx context.Context, question string) (string, []SourceSnippet, error)
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	Append(ctx context.Context, conversationID string, msg Message) error
	History(ctx context.Context, conversationID string) ([]Message, error)
}
