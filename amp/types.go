package amp

// StreamMessage is one line of Amp's --stream-json NDJSON output. Only the
// fields the title evaluator reads are decoded.
type StreamMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	IsError    bool   `json:"is_error,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	NumTurns   int    `json:"num_turns,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
}

// Usage contains token consumption statistics.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
