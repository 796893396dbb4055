package domain

// MessageBus routes messages and navigation events between channels and the
// dispatcher.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage

	PublishNavigation(evt NavigationEvent)
	SubscribeNavigation() <-chan NavigationEvent

	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
