package bus

import (
	"log/slog"
	"sync"
	"testing"

	"docsage/internal/domain"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(2, slog.Default())
	defer b.Close()

	b.Publish(domain.InboundMessage{Channel: "discord", Content: "hello"})

	got := <-b.Subscribe()
	if got.Content != "hello" || got.Channel != "discord" {
		t.Errorf("received %+v", got)
	}
}

func TestOutboundRouting(t *testing.T) {
	b := New(2, slog.Default())
	defer b.Close()

	var mu sync.Mutex
	var discord, telegram []string
	b.OnOutbound("discord", func(m domain.OutboundMessage) {
		mu.Lock()
		discord = append(discord, m.Content)
		mu.Unlock()
	})
	b.OnOutbound("telegram", func(m domain.OutboundMessage) {
		mu.Lock()
		telegram = append(telegram, m.Content)
		mu.Unlock()
	})

	b.SendOutbound(domain.OutboundMessage{Channel: "discord", Content: "a"})
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", Content: "b"})
	b.SendOutbound(domain.OutboundMessage{Channel: "unknown", Content: "c"})

	mu.Lock()
	defer mu.Unlock()
	if len(discord) != 1 || discord[0] != "a" {
		t.Errorf("discord received %v", discord)
	}
	if len(telegram) != 1 || telegram[0] != "b" {
		t.Errorf("telegram received %v", telegram)
	}
}

func TestNavigationDroppedWhenFull(t *testing.T) {
	b := New(1, slog.Default())
	defer b.Close()

	b.PublishNavigation(domain.NavigationEvent{SessionKey: "s1"})
	// Buffer is full. The second click must not block the caller.
	b.PublishNavigation(domain.NavigationEvent{SessionKey: "s2"})

	got := <-b.SubscribeNavigation()
	if got.SessionKey != "s1" {
		t.Errorf("delivered %q, want s1", got.SessionKey)
	}
	select {
	case extra := <-b.SubscribeNavigation():
		t.Errorf("expected drop, got %q", extra.SessionKey)
	default:
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New(2, slog.Default())
	b.Close()

	// Neither publish path may panic on a closed bus.
	b.Publish(domain.InboundMessage{Content: "late"})
	b.PublishNavigation(domain.NavigationEvent{SessionKey: "late"})
	b.Close()
}
