package paginate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"docsage/internal/domain"
)

var (
	// ErrNotFound covers both unknown and expired sessions. A reader
	// clicking a stale control gets the same answer either way.
	ErrNotFound = errors.New("pagination session not found or expired")

	// ErrNotOwner is returned when someone other than the requester of the
	// original response tries to navigate it.
	ErrNotOwner = errors.New("only the requester can navigate this response")
)

// Session is one paginated response being stepped through. Footer is the
// rendered source-metadata line; it belongs to the first page only and must
// survive navigation away and back.
type Session struct {
	Key       string
	OwnerID   string
	Channel   string
	ChatID    string
	MessageID string
	Pages     []string
	Footer    string
	Page      int
	ExpiresAt time.Time
}

// TotalPages returns the page count.
func (s *Session) TotalPages() int { return len(s.Pages) }

// Current returns the page the session is positioned on.
func (s *Session) Current() string { return s.Pages[s.Page] }

// Rendered returns the current page with the metadata footer appended when
// the session is positioned on the first page.
func (s *Session) Rendered() string {
	if s.Page == 0 {
		return s.Pages[0] + s.Footer
	}
	return s.Pages[s.Page]
}

// Manager owns the live pagination sessions. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *slog.Logger

	now func() time.Time
}

func NewManager(ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Create opens a session positioned on the first page and returns it.
func (m *Manager) Create(ownerID, channel, chatID string, pages []string, footer string) *Session {
	s := &Session{
		Key:       uuid.New().String(),
		OwnerID:   ownerID,
		Channel:   channel,
		ChatID:    chatID,
		Pages:     pages,
		Footer:    footer,
		ExpiresAt: m.now().Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[s.Key] = s
	m.mu.Unlock()

	m.logger.Debug("pagination session opened", "key", s.Key, "pages", len(pages))
	return s
}

// BindMessage records the delivered message a session's controls are
// attached to, so navigation can edit it in place.
func (m *Manager) BindMessage(key, messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.MessageID = messageID
	}
}

// Navigate moves a session one page in the given direction on behalf of
// actorID, refreshing its expiry. Page position clamps at both ends.
// NavClose discards the session and returns it at its final position.
func (m *Manager) Navigate(key, actorID string, dir domain.NavDirection) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok || m.now().After(s.ExpiresAt) {
		delete(m.sessions, key)
		return nil, ErrNotFound
	}
	if s.OwnerID != actorID {
		return nil, ErrNotOwner
	}

	switch dir {
	case domain.NavForward:
		if s.Page < len(s.Pages)-1 {
			s.Page++
		}
	case domain.NavBackward:
		if s.Page > 0 {
			s.Page--
		}
	case domain.NavClose:
		delete(m.sessions, key)
		return s, nil
	}

	s.ExpiresAt = m.now().Add(m.ttl)
	return s, nil
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RunJanitor periodically drops expired sessions until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Manager) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, key)
			m.logger.Debug("pagination session expired", "key", key)
		}
	}
}
