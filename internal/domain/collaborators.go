package domain

import "context"

// AgenticClassifier is the model-backed intent classifier. It may fail or
// time out; callers recover with a deterministic fallback.
type AgenticClassifier interface {
	ClassifyIntent(ctx context.Context, msg InboundMessage) (*IntentDecision, error)
}

// QueryRequest is one retrieval-augmented query against the knowledge base.
type QueryRequest struct {
	Question  string
	History   []MessageRecord
	ActorID   string
	ChannelID string
	// DocID / DocFilename restrict retrieval to a single document when set.
	DocID       string
	DocFilename string
}

// QueryResult is the answer produced by the QueryService.
type QueryResult struct {
	Answer          string
	ContextChunks   int
	MemoriesUsed    int
	SourceDocuments []string
	SourceMemories  []SourceMemory

	IsCasualConversation bool
	ServiceRouting       string
}

// QueryService is the retrieval-augmented answering backend.
type QueryService interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)
}

// ComparisonResult is the output of the document comparison collaborator.
type ComparisonResult struct {
	ComparisonText    string
	CompressionRatios []float64
}

// Comparator compares two document texts. Implementations run under a hard
// timeout and must honor context cancellation.
type Comparator interface {
	Compare(ctx context.Context, textA, textB, nameA, nameB string) (*ComparisonResult, error)
}
