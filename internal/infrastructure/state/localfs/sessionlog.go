package localfs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

// ExchangeLog appends session exchanges to per-session JSONL files so
// conversations survive restarts. Clears are recorded as marker lines rather
// than file deletions; replay stops at the most recent marker.
type ExchangeLog struct {
	dir          string
	maxExchanges int

	mu sync.Mutex
}

type logRecord struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query,omitempty"`
	Answer    string    `json:"response,omitempty"`
	Expert    string    `json:"expert,omitempty"`
	Context   string    `json:"conversation_context,omitempty"`
	Cleared   bool      `json:"session_cleared,omitempty"`
}

func NewExchangeLog(dir string, maxExchanges int) (*ExchangeLog, error) {
	if dir == "" {
		dir = "./data/sessions"
	}
	if maxExchanges <= 0 {
		maxExchanges = 5
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	return &ExchangeLog{dir: dir, maxExchanges: maxExchanges}, nil
}

func (l *ExchangeLog) Append(_ context.Context, sessionID string, ex domain.Exchange) error {
	ts := ex.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return l.appendRecord(logRecord{
		SessionID: sessionID,
		Timestamp: ts,
		Query:     ex.Query,
		Answer:    ex.Answer,
		Expert:    ex.Expert,
		Context:   ex.Context,
	})
}

func (l *ExchangeLog) Clear(_ context.Context, sessionID string) error {
	return l.appendRecord(logRecord{
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Cleared:   true,
	})
}

func (l *ExchangeLog) appendRecord(rec logRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.sessionPath(rec.SessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append session record: %w", err)
	}
	return nil
}

// LoadAll replays every session log in the directory. Records before the last
// clear marker are dropped, then each session keeps only its most recent
// window of exchanges.
func (l *ExchangeLog) LoadAll(_ context.Context) ([]domain.Session, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read session log dir: %w", err)
	}

	exchanges := make(map[string][]domain.Exchange)
	var order []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		if err := l.replayFile(path, exchanges, &order); err != nil {
			slog.Warn("session_log_unreadable", "path", path, "error", err)
		}
	}

	sessions := make([]domain.Session, 0, len(order))
	for _, id := range order {
		window := exchanges[id]
		if len(window) > l.maxExchanges {
			window = window[len(window)-l.maxExchanges:]
		}
		if len(window) == 0 {
			continue
		}
		sessions = append(sessions, domain.Session{ID: id, Exchanges: window})
	}
	return sessions, nil
}

func (l *ExchangeLog) replayFile(path string, exchanges map[string][]domain.Exchange, order *[]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			slog.Warn("session_record_corrupt", "path", path, "error", err)
			continue
		}
		if rec.SessionID == "" {
			continue
		}
		if _, seen := exchanges[rec.SessionID]; !seen {
			*order = append(*order, rec.SessionID)
			exchanges[rec.SessionID] = nil
		}
		if rec.Cleared {
			exchanges[rec.SessionID] = exchanges[rec.SessionID][:0]
			continue
		}
		if rec.Query == "" {
			continue
		}
		exchanges[rec.SessionID] = append(exchanges[rec.SessionID], domain.Exchange{
			Query:     rec.Query,
			Answer:    rec.Answer,
			Expert:    rec.Expert,
			Context:   rec.Context,
			Timestamp: rec.Timestamp,
		})
	}
	return scanner.Err()
}

func (l *ExchangeLog) sessionPath(sessionID string) string {
	return filepath.Join(l.dir, sanitizeFilename(sessionID)+".jsonl")
}

func sanitizeFilename(name string) string {
	if name == "" {
		return "default"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
