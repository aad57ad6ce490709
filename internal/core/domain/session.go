package domain

import (
	"strings"
	"time"
)

// ClearCommand resets a session instead of being answered as a query.
// Matching is case-insensitive.
const ClearCommand = "new_session"

// DefaultSessionID groups requests that arrive without a session of their own.
const DefaultSessionID = "user_default"

// Exchange is one completed query/answer turn within a session.
type Exchange struct {
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Expert    string    `json:"expert,omitempty"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a conversation keyed by caller-supplied identifier, oldest
// exchange first.
type Session struct {
	ID        string     `json:"session_id"`
	Exchanges []Exchange `json:"exchanges"`
}

// IsClearCommand reports whether a raw query is the session reset command.
func IsClearCommand(query string) bool {
	return strings.EqualFold(strings.TrimSpace(query), ClearCommand)
}

// ConversationContext joins the queries of the most recent exchanges into
// the single string handed to the answer prompt. The window takes at most
// limit exchanges from the end, oldest first.
func ConversationContext(exchanges []Exchange, limit int) string {
	if limit <= 0 || len(exchanges) == 0 {
		return ""
	}
	start := len(exchanges) - limit
	if start < 0 {
		start = 0
	}
	queries := make([]string, 0, len(exchanges)-start)
	for _, ex := range exchanges[start:] {
		queries = append(queries, ex.Query)
	}
	return strings.Join(queries, " ")
}
