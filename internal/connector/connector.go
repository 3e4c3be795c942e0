// Package connector defines the interface chat platform bridges
// implement. Each connector turns platform traffic into helpdesk
// conversation turns and delivers the assistant's replies back.
package connector

import "context"

// Connector is the interface for external messaging platforms.
type Connector interface {
	// Name returns the connector type (e.g., "telegram", "slack").
	Name() string
	// Start begins listening for inbound messages. Blocks until
	// context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
}

// InboundMessage is a message received from an external platform.
type InboundMessage struct {
	Channel  string // connector name (e.g., "telegram")
	SenderID string // platform-specific sender identifier
	ChatID   string // platform-specific chat identifier
	Content  string // message text; commands arrive as "/new" etc.
}

// InboundHandler processes a platform message and returns the reply
// text to send back, if any. The connector owns delivery.
type InboundHandler func(ctx context.Context, msg InboundMessage) (reply string, err error)
