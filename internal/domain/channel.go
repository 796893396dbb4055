package domain

import "context"

// Channel is the interface for user-facing I/O surfaces (Discord, Telegram,
// CLI). A channel publishes InboundMessage and NavigationEvent values to the
// bus and renders OutboundMessage values handed to it.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
