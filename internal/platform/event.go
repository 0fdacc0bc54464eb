// Package platform defines the boundary between chat surfaces and the
// dispatcher: the normalized inbound event and the outbound reply capability.
// Connectors translate their surface's wire format into RawEvent and never
// see providers, tools or traces.
package platform

import (
	"context"
	"time"
)

// EventKind classifies how the event addressed the assistant.
type EventKind string

const (
	KindMention       EventKind = "mention"        // assistant addressed in a channel
	KindDirectMessage EventKind = "direct_message" // one-on-one conversation
	KindOther         EventKind = "other"          // everything else; ignored
)

// RawEvent is one inbound platform event, normalized. Text is the raw user
// text; mention markup is stripped by the dispatcher, not the connector.
type RawEvent struct {
	Kind           EventKind
	ConversationID string
	UserID         string
	Text           string
	Timestamp      time.Time
	FromBot        bool // events produced by bots are never handled
}

// Messenger posts replies back to a conversation.
type Messenger interface {
	SendMessage(ctx context.Context, conversationID, text string) error
}
