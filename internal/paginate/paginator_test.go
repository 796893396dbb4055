package paginate

import (
	"strings"
	"testing"
	"time"

	"docsage/internal/domain"
)

func TestSplit_ShortContentSinglePage(t *testing.T) {
	pages := Split("hello world", 4096)
	if len(pages) != 1 || pages[0] != "hello world" {
		t.Errorf("got %d pages, want single unchanged page", len(pages))
	}
}

func TestSplit_LongContentPaginatesLosslessly(t *testing.T) {
	var b strings.Builder
	for b.Len() < 9000 {
		b.WriteString("The quick brown fox jumps over the lazy dog. ")
	}
	content := b.String()

	pages := Split(content, 4096)
	if len(pages) < 3 {
		t.Fatalf("len(pages) = %d, want at least 3 for 9000 chars at 4096", len(pages))
	}
	for i, p := range pages {
		if len([]rune(p)) > 4096 {
			t.Errorf("page %d has %d runes, exceeds budget", i, len([]rune(p)))
		}
	}
	if Join(pages) != content {
		t.Error("joined pages do not reproduce input")
	}
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	// Sentence ends land inside the final fifth of the budget, so every page
	// except possibly the last should end at one.
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("Sentence number here ends now. ")
	}
	pages := Split(b.String(), 200)
	for i, p := range pages[:len(pages)-1] {
		trimmed := strings.TrimRight(p, " \n")
		if !strings.HasSuffix(trimmed, ".") {
			t.Errorf("page %d does not end at a sentence boundary: %q", i, p[len(p)-20:])
		}
	}
}

func TestSplit_HardCutWithoutBoundary(t *testing.T) {
	content := strings.Repeat("a", 500)
	pages := Split(content, 200)
	if len(pages) != 3 {
		t.Fatalf("len(pages) = %d, want 3", len(pages))
	}
	if len(pages[0]) != 200 || len(pages[1]) != 200 || len(pages[2]) != 100 {
		t.Errorf("page lengths = %d,%d,%d", len(pages[0]), len(pages[1]), len(pages[2]))
	}
	if Join(pages) != content {
		t.Error("round trip failed")
	}
}

func TestSplit_LineBreakBoundary(t *testing.T) {
	line := strings.Repeat("x", 90) + "\n"
	content := strings.Repeat(line, 10)
	pages := Split(content, 100)
	for i, p := range pages[:len(pages)-1] {
		if !strings.HasSuffix(p, "\n") {
			t.Errorf("page %d does not end at a line break", i)
		}
	}
	if Join(pages) != content {
		t.Error("round trip failed")
	}
}

func newTestManager(ttl time.Duration) (*Manager, *time.Time) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(ttl, nil)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestManager_NavigateClampsAtBounds(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	s := m.Create("alice", "cli", "chat1", []string{"p0", "p1", "p2"}, "")

	if s.Page != 0 {
		t.Fatalf("new session on page %d, want 0", s.Page)
	}

	back, err := m.Navigate(s.Key, "alice", domain.NavBackward)
	if err != nil || back.Page != 0 {
		t.Errorf("backward from first page: page=%d err=%v, want clamp at 0", back.Page, err)
	}

	for i := 0; i < 5; i++ {
		s, err = m.Navigate(s.Key, "alice", domain.NavForward)
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
	}
	if s.Page != 2 {
		t.Errorf("forward past last page: page=%d, want clamp at 2", s.Page)
	}
}

func TestManager_FooterOnFirstPageOnly(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	s := m.Create("alice", "cli", "chat1", []string{"p0", "p1"}, "\n\n_Sources: a.pdf_")

	if s.Rendered() != "p0\n\n_Sources: a.pdf_" {
		t.Errorf("Rendered() on page 0 = %q, want footer appended", s.Rendered())
	}

	s, err := m.Navigate(s.Key, "alice", domain.NavForward)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if s.Rendered() != "p1" {
		t.Errorf("Rendered() on page 1 = %q, want bare page", s.Rendered())
	}

	// The footer must survive a round trip back to the first page.
	s, err = m.Navigate(s.Key, "alice", domain.NavBackward)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if s.Rendered() != "p0\n\n_Sources: a.pdf_" {
		t.Errorf("Rendered() back on page 0 = %q, footer lost", s.Rendered())
	}
}

func TestManager_OwnerOnly(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	s := m.Create("alice", "cli", "chat1", []string{"p0", "p1"}, "")

	if _, err := m.Navigate(s.Key, "bob", domain.NavForward); err != ErrNotOwner {
		t.Errorf("non-owner navigation err = %v, want ErrNotOwner", err)
	}
	// The session must be untouched by the rejected attempt.
	got, err := m.Navigate(s.Key, "alice", domain.NavForward)
	if err != nil || got.Page != 1 {
		t.Errorf("owner navigation after rejection: page=%d err=%v", got.Page, err)
	}
}

func TestManager_Expiry(t *testing.T) {
	m, now := newTestManager(5 * time.Minute)
	s := m.Create("alice", "cli", "chat1", []string{"p0", "p1"}, "")

	*now = now.Add(6 * time.Minute)
	if _, err := m.Navigate(s.Key, "alice", domain.NavForward); err != ErrNotFound {
		t.Errorf("expired session err = %v, want ErrNotFound", err)
	}
	if m.Active() != 0 {
		t.Errorf("Active() = %d after expiry, want 0", m.Active())
	}
}

func TestManager_NavigationRefreshesTTL(t *testing.T) {
	m, now := newTestManager(5 * time.Minute)
	s := m.Create("alice", "cli", "chat1", []string{"p0", "p1"}, "")

	*now = now.Add(4 * time.Minute)
	if _, err := m.Navigate(s.Key, "alice", domain.NavForward); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	// 4 more minutes: past the original expiry but within the refreshed one.
	*now = now.Add(4 * time.Minute)
	if _, err := m.Navigate(s.Key, "alice", domain.NavBackward); err != nil {
		t.Errorf("session expired despite refresh: %v", err)
	}
}

func TestManager_CloseDiscards(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	s := m.Create("alice", "cli", "chat1", []string{"p0", "p1"}, "")

	if _, err := m.Navigate(s.Key, "alice", domain.NavClose); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m.Navigate(s.Key, "alice", domain.NavForward); err != ErrNotFound {
		t.Errorf("navigation after close err = %v, want ErrNotFound", err)
	}
}

func TestManager_EvictExpired(t *testing.T) {
	m, now := newTestManager(5 * time.Minute)
	m.Create("alice", "cli", "chat1", []string{"p0"}, "")
	m.Create("bob", "cli", "chat2", []string{"p0"}, "")

	*now = now.Add(10 * time.Minute)
	m.evictExpired()
	if m.Active() != 0 {
		t.Errorf("Active() = %d after janitor pass, want 0", m.Active())
	}
}
