package domain

// RouteResult is the outcome of a two-stage centroid dispatch.
type RouteResult struct {
	Group  string  `json:"group"`
	Expert string  `json:"expert"`
	Score  float64 `json:"score"`
	// Correct is set only when routing ran in accuracy-check mode.
	Correct *bool `json:"is_correct,omitempty"`
}

// AskRequest is a transport-agnostic query. SessionID may be empty, in which
// case the caller is folded into the shared default session.
type AskRequest struct {
	Query          string
	SessionID      string
	CheckAccuracy  bool
	ExpectedExpert string
}

// Answer is the well-formed response every query produces, including the
// degraded paths. Sources counts the chunks that actually reached the
// generation prompt.
type Answer struct {
	Text    string `json:"answer"`
	Group   string `json:"group,omitempty"`
	Expert  string `json:"expert,omitempty"`
	Sources int    `json:"sources"`
	Correct *bool  `json:"is_correct,omitempty"`

	// Score is the winning expert's cosine similarity, kept for observability.
	Score float64 `json:"-"`
	// Degraded names the stages that fell back while producing this answer.
	// Diagnostic only, never serialized to callers.
	Degraded []string `json:"-"`
}

// GenerationRequest is what the answerer hands to a text generator.
type GenerationRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}
