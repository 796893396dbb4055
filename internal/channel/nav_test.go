package channel

import (
	"strings"
	"testing"

	"docsage/internal/domain"
)

func TestParseNavCustomID(t *testing.T) {
	key := "0b8f0a1e"

	for action, want := range map[string]domain.NavDirection{
		navPrev:  domain.NavBackward,
		navNext:  domain.NavForward,
		navClose: domain.NavClose,
	} {
		gotKey, gotDir, ok := parseNavCustomID(navCustomID(key, action))
		if !ok || gotKey != key || gotDir != want {
			t.Errorf("parse %q = (%q, %q, %v)", action, gotKey, gotDir, ok)
		}
	}

	for _, bad := range []string{"", "pg:" + key, "other:" + key + ":next", navCustomID(key, "label")} {
		if _, _, ok := parseNavCustomID(bad); ok {
			t.Errorf("parseNavCustomID(%q) accepted", bad)
		}
	}
}

func TestRecentWindowKeepsLastThree(t *testing.T) {
	w := newRecentWindow()
	for _, text := range []string{"one", "two", "three", "four"} {
		w.add("chat", "alice", text)
	}

	got := w.snapshot("chat")
	if len(got) != recentWindowSize {
		t.Fatalf("window size = %d", len(got))
	}
	if got[0].Text != "two" || got[2].Text != "four" {
		t.Errorf("window = %+v", got)
	}
	if len(w.snapshot("other")) != 0 {
		t.Error("windows leak across chats")
	}
}

func TestRecentWindowTruncatesText(t *testing.T) {
	w := newRecentWindow()
	w.add("chat", "bob", strings.Repeat("x", 500))

	got := w.snapshot("chat")
	if len(got) != 1 || len([]rune(got[0].Text)) != recentTextLimit {
		t.Errorf("truncated length = %d", len([]rune(got[0].Text)))
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	msg := strings.Repeat("line of text\n", 300) // ~3900 chars
	chunks := splitMessage(msg, discordMaxMsgLen)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > discordMaxMsgLen {
			t.Errorf("chunk %d length %d exceeds limit", i, len(chunk))
		}
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Error("first chunk does not end on a line break")
	}
	if strings.Join(chunks, "") != msg {
		t.Error("split is lossy")
	}
}
