package domain

// SourceMemory describes one long-term memory that contributed to an answer.
type SourceMemory struct {
	Type    string  `json:"type"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}

// ResponsePayload is the produced answer for one inbound message. Once a
// strategy sets it, no later strategy may overwrite it ("first producer
// wins").
type ResponsePayload struct {
	Answer            string
	ContextChunkCount int
	MemoriesUsedCount int
	SourceDocuments   []string
	SourceMemories    []SourceMemory

	IsCasualConversation bool
	ServiceRouting       string

	// ProducedBy names the strategy that set this payload.
	ProducedBy string
}
