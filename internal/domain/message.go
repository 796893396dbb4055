package domain

import "time"

// Attachment describes a file attached to an inbound message.
type Attachment struct {
	Name string
	Size int64
	URL  string
}

// RecentMessage is one entry of the short channel-history window that
// accompanies an inbound message. Text is truncated by the channel adapter.
type RecentMessage struct {
	Author string
	Text   string
}

// InboundMessage is the immutable per-message context built by a channel
// adapter. It is created once when the message arrives and never mutated.
type InboundMessage struct {
	MessageID    string
	Channel      string // surface name: discord | telegram | cli
	ChatID       string
	SenderID     string
	SenderName   string
	Content      string
	Attachments  []Attachment
	BotMentioned bool
	Recent       []RecentMessage // up to 3 recent non-bot messages in the chat
	IsCommand    bool            // explicit slash-command or command-prefixed message
	Timestamp    time.Time
}

// HasAttachments reports whether the message carries any attachment.
func (m InboundMessage) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// OutboundMessage is a render request for a channel adapter. When Nav is set
// the adapter should attach forward/backward affordances for the pagination
// session it references.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Nav     *NavControls
	// EditMessageID, when non-empty, asks the adapter to edit an existing
	// message in place instead of sending a new one (page navigation).
	EditMessageID string
	// Ephemeral asks the adapter to deliver the text to a single actor only
	// (navigation rejections, rate-limit notices) where the surface supports it.
	Ephemeral      bool
	EphemeralActor string
}

// NavControls carries the pagination affordance state for one rendered page.
type NavControls struct {
	SessionKey string
	Page       int
	TotalPages int
}

// NavDirection is the direction of a pagination navigation click.
type NavDirection string

const (
	NavForward  NavDirection = "forward"
	NavBackward NavDirection = "backward"
	NavClose    NavDirection = "close"
)

// NavigationEvent is reported by a channel adapter when an actor interacts
// with the pagination affordances of a delivered answer.
type NavigationEvent struct {
	SessionKey string
	Direction  NavDirection
	ActorID    string
	Channel    string
	ChatID     string
	// MessageID of the rendered page, so the new page can be edited in place.
	MessageID string
}
