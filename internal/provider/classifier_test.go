package provider

import (
	"context"
	"strings"
	"testing"

	"docsage/internal/domain"
)

type scriptedProvider struct {
	reply string
	err   error
	last  domain.ChatRequest
}

func (s *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ChatResponse{Content: s.reply, FinishReason: "stop"}, nil
}

func (s *scriptedProvider) Name() string                      { return "scripted" }
func (s *scriptedProvider) Healthy(_ context.Context) error { return nil }

func TestClassifyIntent_ParsesPlainJSON(t *testing.T) {
	p := &scriptedProvider{reply: `{"handler":"rag","should_respond":true,"needs_rag":true,"confidence":0.9}`}
	c := NewChatClassifier(p, nil)

	got, err := c.ClassifyIntent(context.Background(), domain.InboundMessage{Content: "what does the runbook say?"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Handler != domain.HandlerRAG || !got.ShouldRespond || !got.NeedsRAG {
		t.Errorf("decision = %+v", got)
	}
	if got.Confidence != 0.9 {
		t.Errorf("Confidence = %f, want 0.9", got.Confidence)
	}
}

func TestClassifyIntent_ParsesFencedJSON(t *testing.T) {
	p := &scriptedProvider{reply: "Here you go:\n```json\n{\"handler\":\"chat\",\"should_respond\":true,\"is_casual\":true}\n```"}
	c := NewChatClassifier(p, nil)

	got, err := c.ClassifyIntent(context.Background(), domain.InboundMessage{Content: "hey!"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Handler != domain.HandlerChat || !got.IsCasual {
		t.Errorf("decision = %+v", got)
	}
}

func TestClassifyIntent_RejectsNonJSON(t *testing.T) {
	p := &scriptedProvider{reply: "I think this is a question about documents."}
	c := NewChatClassifier(p, nil)

	if _, err := c.ClassifyIntent(context.Background(), domain.InboundMessage{Content: "hm"}); err == nil {
		t.Error("prose reply accepted")
	}
}

func TestClassifyIntent_RejectsUnknownHandler(t *testing.T) {
	p := &scriptedProvider{reply: `{"handler":"sing","should_respond":true}`}
	c := NewChatClassifier(p, nil)

	if _, err := c.ClassifyIntent(context.Background(), domain.InboundMessage{Content: "hm"}); err == nil {
		t.Error("unknown handler accepted")
	}
}

func TestClassifyIntent_ContextMentionsAttachments(t *testing.T) {
	p := &scriptedProvider{reply: `{"handler":"upload","should_respond":true}`}
	c := NewChatClassifier(p, nil)

	msg := domain.InboundMessage{
		Content:     "here is the report",
		Attachments: []domain.Attachment{{Name: "report.pdf"}},
		Recent:      []domain.RecentMessage{{Author: "bob", Text: "can someone share it?"}},
	}
	if _, err := c.ClassifyIntent(context.Background(), msg); err != nil {
		t.Fatalf("classify: %v", err)
	}

	user := p.last.Messages[len(p.last.Messages)-1].Content
	for _, want := range []string{"attachment", "bob", "here is the report"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q:\n%s", want, user)
		}
	}
}
