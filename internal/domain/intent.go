package domain

// Handler is the route selected for an inbound message.
type Handler string

const (
	HandlerIgnore Handler = "ignore"
	HandlerUpload Handler = "upload"
	HandlerRAG    Handler = "rag"
	HandlerTools  Handler = "tools"
	HandlerMemory Handler = "memory"
	HandlerChat   Handler = "chat"
	HandlerAction Handler = "action"
)

// IntentDecision is the result of classifying one inbound message. It is
// produced once per message and consumed read-only downstream.
type IntentDecision struct {
	Handler       Handler
	ShouldRespond bool
	NeedsRAG      bool
	NeedsTools    bool
	NeedsMemory   bool
	IsCasual      bool
	Confidence    float64 // [0,1]
	UsedFallback  bool
}
