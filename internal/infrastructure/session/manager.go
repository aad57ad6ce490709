package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kirillkom/expert-router/internal/core/domain"
	"github.com/kirillkom/expert-router/internal/core/ports"
)

// Manager keeps the live sliding window of exchanges per session in memory
// and mirrors every write into the durable exchange log. Reads never touch
// the log; a failed log write leaves the in-memory window updated and
// surfaces the error to the caller.
//
// Writes to one session hold that session's stripe lock across both the
// window update and the log append, so the log replays in window order.
type Manager struct {
	log           ports.ExchangeLog
	maxExchanges  int
	contextWindow int

	mu       sync.RWMutex
	stripes  map[string]*sync.Mutex
	sessions map[string][]domain.Exchange
}

// NewManager restores previously logged sessions into memory. A log that
// cannot be replayed starts the manager empty instead of failing startup.
func NewManager(log ports.ExchangeLog, maxExchanges, contextWindow int) *Manager {
	if maxExchanges <= 0 {
		maxExchanges = 5
	}
	if contextWindow <= 0 {
		contextWindow = 3
	}
	m := &Manager{
		log:           log,
		maxExchanges:  maxExchanges,
		contextWindow: contextWindow,
		stripes:       make(map[string]*sync.Mutex),
		sessions:      make(map[string][]domain.Exchange),
	}
	if log != nil {
		restored, err := log.LoadAll(context.Background())
		if err != nil {
			slog.Warn("session_restore_failed", "error", err)
			return m
		}
		for _, s := range restored {
			m.sessions[s.ID] = trimWindow(s.Exchanges, maxExchanges)
		}
	}
	return m
}

func (m *Manager) Context(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.ConversationContext(m.sessions[sessionID], m.contextWindow)
}

func (m *Manager) History(sessionID string) []domain.Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	window := m.sessions[sessionID]
	out := make([]domain.Exchange, len(window))
	copy(out, window)
	return out
}

func (m *Manager) Append(ctx context.Context, sessionID string, ex domain.Exchange) error {
	stripe := m.stripe(sessionID)
	stripe.Lock()
	defer stripe.Unlock()

	m.mu.Lock()
	m.sessions[sessionID] = trimWindow(append(m.sessions[sessionID], ex), m.maxExchanges)
	m.mu.Unlock()

	if m.log == nil {
		return nil
	}
	if err := m.log.Append(ctx, sessionID, ex); err != nil {
		return domain.WrapError(domain.ErrSessionLog, "append session exchange", err)
	}
	return nil
}

func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	stripe := m.stripe(sessionID)
	stripe.Lock()
	defer stripe.Unlock()

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if m.log == nil {
		return nil
	}
	if err := m.log.Clear(ctx, sessionID); err != nil {
		return domain.WrapError(domain.ErrSessionLog, "clear session", err)
	}
	return nil
}

// stripe hands out the per-session write lock, creating it on first use.
// Stripes are never removed; the set of session IDs is small and a stripe
// handed to a waiting writer must stay valid.
func (m *Manager) stripe(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stripes[sessionID]
	if !ok {
		s = &sync.Mutex{}
		m.stripes[sessionID] = s
	}
	return s
}

func trimWindow(window []domain.Exchange, max int) []domain.Exchange {
	if len(window) <= max {
		return window
	}
	trimmed := make([]domain.Exchange, max)
	copy(trimmed, window[len(window)-max:])
	return trimmed
}
