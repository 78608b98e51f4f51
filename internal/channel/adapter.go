package channel

import "context"

// Message represents an inbound message from a chat surface
type Message struct {
	ID        string
	Channel   string
	UserID    string
	ChatID    string
	RootID    string
	Content   string
	Metadata  map[string]string
	Timestamp int64
}

// Response represents text to deliver to a chat surface. Final marks
// the last update for a query; surfaces that cannot edit messages may
// ignore everything else.
type Response struct {
	Content  string
	Final    bool
	Metadata map[string]string
}

// Adapter is the interface for chat surface adapters. Send returns
// the platform message id so later Update calls can edit the same
// message in place while an answer streams.
type Adapter interface {
	// Start starts the adapter
	Start(ctx context.Context) error

	// Stop stops the adapter
	Stop() error

	// Send delivers a new message and returns its platform id
	Send(chatID string, resp *Response) (string, error)

	// Update edits a previously sent message in place. Adapters for
	// surfaces without edit support may re-send instead.
	Update(chatID, messageID string, resp *Response) error

	// Incoming returns the channel of inbound messages
	Incoming() <-chan *Message

	// Name returns the adapter name
	Name() string

	// IsEnabled returns whether the adapter is configured
	IsEnabled() bool
}
