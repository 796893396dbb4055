package intent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"docsage/internal/domain"
)

type fakeAgentic struct {
	decision *domain.IntentDecision
	err      error
}

func (f *fakeAgentic) ClassifyIntent(ctx context.Context, msg domain.InboundMessage) (*domain.IntentDecision, error) {
	return f.decision, f.err
}

func testClassifier(agentic domain.AgenticClassifier) *Classifier {
	return New(Config{
		Agentic: agentic,
		Policy:  DefaultPolicy(),
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
}

func TestClassify_AttachmentsRouteToUpload(t *testing.T) {
	c := testClassifier(nil)
	msg := domain.InboundMessage{
		Content:     "here's the latest log",
		Attachments: []domain.Attachment{{Name: "server.log", Size: 1024}},
	}

	d := c.Classify(context.Background(), msg)
	if d.Handler != domain.HandlerUpload {
		t.Fatalf("Handler = %q, want upload", d.Handler)
	}
	if !d.UsedFallback {
		t.Fatal("expected fallback path")
	}
}

func TestClassify_AttachmentsOverrideAgenticChat(t *testing.T) {
	agentic := &fakeAgentic{decision: &domain.IntentDecision{
		Handler:       domain.HandlerChat,
		ShouldRespond: true,
		IsCasual:      true,
		Confidence:    0.9,
	}}
	c := testClassifier(agentic)

	d := c.Classify(context.Background(), domain.InboundMessage{
		Content:     "this one's funny",
		Attachments: []domain.Attachment{{Name: "meeting-notes.md", Size: 2048}},
	})
	if d.Handler != domain.HandlerUpload {
		t.Fatalf("Handler = %q, want upload", d.Handler)
	}
	if !d.ShouldRespond {
		t.Fatal("ShouldRespond = false, want true")
	}
	if d.IsCasual {
		t.Fatal("IsCasual = true, want false for attachment-bearing message")
	}
}

func TestClassify_AttachmentsBeatURLOverride(t *testing.T) {
	agentic := &fakeAgentic{decision: &domain.IntentDecision{
		Handler:       domain.HandlerTools,
		ShouldRespond: true,
		NeedsTools:    true,
		Confidence:    0.9,
	}}
	c := testClassifier(agentic)

	d := c.Classify(context.Background(), domain.InboundMessage{
		Content:     "grabbed from https://example.com/build.log",
		Attachments: []domain.Attachment{{Name: "build.log", Size: 512}},
	})
	if d.Handler != domain.HandlerUpload {
		t.Fatalf("Handler = %q, want upload", d.Handler)
	}
	if d.NeedsTools {
		t.Fatal("NeedsTools = true, want false when an attachment is present")
	}
}

func TestClassify_URLOnlyTextDoesNotRouteToUpload(t *testing.T) {
	c := testClassifier(nil)
	msg := domain.InboundMessage{Content: "check https://example.com/report"}

	d := c.Classify(context.Background(), msg)
	if d.Handler == domain.HandlerUpload {
		t.Fatal("URL-only text must not route to upload")
	}
	if d.Handler != domain.HandlerTools {
		t.Fatalf("Handler = %q, want tools", d.Handler)
	}
}

func TestClassify_URLOverridesAgenticCasual(t *testing.T) {
	agentic := &fakeAgentic{decision: &domain.IntentDecision{
		Handler:       domain.HandlerChat,
		ShouldRespond: true,
		IsCasual:      true,
		Confidence:    0.95,
	}}
	c := testClassifier(agentic)

	d := c.Classify(context.Background(), domain.InboundMessage{
		Content: "lol look at www.example.com",
	})
	if !d.NeedsTools {
		t.Fatal("NeedsTools = false, want true for URL-bearing text")
	}
	if d.IsCasual {
		t.Fatal("IsCasual = true, want false for URL-bearing text")
	}
	if d.NeedsRAG {
		t.Fatal("NeedsRAG = true, want false for URL-bearing text")
	}
}

func TestClassify_AgenticFailureFallsBack(t *testing.T) {
	agentic := &fakeAgentic{err: errors.New("model unavailable")}
	c := testClassifier(agentic)

	d := c.Classify(context.Background(), domain.InboundMessage{
		Content:      "what changed in the deployment guide?",
		BotMentioned: true,
	})
	if !d.UsedFallback {
		t.Fatal("expected fallback decision")
	}
	if d.Handler != domain.HandlerRAG {
		t.Fatalf("Handler = %q, want rag", d.Handler)
	}
}

func TestClassify_AgenticDecisionAdopted(t *testing.T) {
	agentic := &fakeAgentic{decision: &domain.IntentDecision{
		Handler:       domain.HandlerMemory,
		ShouldRespond: true,
		NeedsMemory:   true,
		Confidence:    0.8,
	}}
	c := testClassifier(agentic)

	d := c.Classify(context.Background(), domain.InboundMessage{Content: "what did we decide last week"})
	if d.Handler != domain.HandlerMemory {
		t.Fatalf("Handler = %q, want memory", d.Handler)
	}
	if d.UsedFallback {
		t.Fatal("UsedFallback = true, want false")
	}
}

func TestFallback_ShortGreetingIgnored(t *testing.T) {
	c := testClassifier(nil)

	d := c.Classify(context.Background(), domain.InboundMessage{Content: "hi there!"})
	if d.Handler != domain.HandlerIgnore {
		t.Fatalf("Handler = %q, want ignore", d.Handler)
	}
	if d.ShouldRespond {
		t.Fatal("ShouldRespond = true, want false")
	}
}

func TestFallback_MentionedGreetingIsCasualChat(t *testing.T) {
	c := testClassifier(nil)

	d := c.Classify(context.Background(), domain.InboundMessage{
		Content:      "hello!",
		BotMentioned: true,
	})
	if d.Handler != domain.HandlerChat {
		t.Fatalf("Handler = %q, want chat", d.Handler)
	}
	if !d.IsCasual {
		t.Fatal("IsCasual = false, want true")
	}
}

func TestFallback_QuestionTooShortIgnored(t *testing.T) {
	c := testClassifier(nil)

	d := c.Classify(context.Background(), domain.InboundMessage{Content: "eh?"})
	if d.Handler != domain.HandlerIgnore {
		t.Fatalf("Handler = %q, want ignore", d.Handler)
	}
}

func TestContainsURL(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"see https://example.com", true},
		{"see http://example.com/a?b=c", true},
		{"visit www.example.org today", true},
		{"nothing here", false},
		{"wwwell that's odd", false},
	}
	for _, tc := range cases {
		if got := ContainsURL(tc.text); got != tc.want {
			t.Errorf("ContainsURL(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
