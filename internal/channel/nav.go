package channel

import (
	"strings"
	"sync"

	"docsage/internal/domain"
)

// Pagination button actions encoded into component custom IDs and
// callback data as "pg:<sessionKey>:<action>".
const (
	navPrev  = "prev"
	navNext  = "next"
	navClose = "close"
)

func navCustomID(sessionKey, action string) string {
	return "pg:" + sessionKey + ":" + action
}

func parseNavCustomID(id string) (sessionKey string, dir domain.NavDirection, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] != "pg" {
		return "", "", false
	}
	switch parts[2] {
	case navPrev:
		return parts[1], domain.NavBackward, true
	case navNext:
		return parts[1], domain.NavForward, true
	case navClose:
		return parts[1], domain.NavClose, true
	}
	return "", "", false
}

const (
	recentWindowSize = 3
	recentTextLimit  = 200
)

// recentWindow keeps the last few non-bot messages per chat so the intent
// classifier sees short local context.
type recentWindow struct {
	mu    sync.Mutex
	chats map[string][]domain.RecentMessage
}

func newRecentWindow() *recentWindow {
	return &recentWindow{chats: make(map[string][]domain.RecentMessage)}
}

func (w *recentWindow) add(chatID, author, text string) {
	if runes := []rune(text); len(runes) > recentTextLimit {
		text = string(runes[:recentTextLimit])
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	window := append(w.chats[chatID], domain.RecentMessage{Author: author, Text: text})
	if len(window) > recentWindowSize {
		window = window[len(window)-recentWindowSize:]
	}
	w.chats[chatID] = window
}

// snapshot returns a copy of the window for chatID, oldest first.
func (w *recentWindow) snapshot(chatID string) []domain.RecentMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.RecentMessage(nil), w.chats[chatID]...)
}
