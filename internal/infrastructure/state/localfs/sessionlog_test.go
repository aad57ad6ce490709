package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

func exchange(n int) domain.Exchange {
	return domain.Exchange{
		Query:     fmt.Sprintf("question %d", n),
		Answer:    fmt.Sprintf("answer %d", n),
		Expert:    "physics",
		Context:   "earlier questions",
		Timestamp: time.Date(2026, 3, 1, 12, 0, n, 0, time.UTC),
	}
}

func TestExchangeLogReplayKeepsOrder(t *testing.T) {
	log, err := NewExchangeLog(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("NewExchangeLog: %v", err)
	}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := log.Append(ctx, "alice", exchange(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	sessions, err := log.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "alice" {
		t.Fatalf("sessions = %+v, want one session alice", sessions)
	}
	got := sessions[0].Exchanges
	if len(got) != 3 {
		t.Fatalf("exchange count = %d, want 3", len(got))
	}
	for i, ex := range got {
		if want := fmt.Sprintf("question %d", i+1); ex.Query != want {
			t.Fatalf("exchange %d query = %q, want %q", i, ex.Query, want)
		}
	}
	if got[0].Expert != "physics" || got[0].Context != "earlier questions" {
		t.Fatalf("exchange fields lost on replay: %+v", got[0])
	}
}

func TestExchangeLogReplayAppliesWindow(t *testing.T) {
	log, err := NewExchangeLog(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("NewExchangeLog: %v", err)
	}
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		if err := log.Append(ctx, "alice", exchange(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	sessions, err := log.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	got := sessions[0].Exchanges
	if len(got) != 5 {
		t.Fatalf("exchange count = %d, want window of 5", len(got))
	}
	if got[0].Query != "question 3" || got[4].Query != "question 7" {
		t.Fatalf("window kept wrong records: first %q last %q", got[0].Query, got[4].Query)
	}
}

func TestExchangeLogClearMarkerStopsReplay(t *testing.T) {
	log, err := NewExchangeLog(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("NewExchangeLog: %v", err)
	}
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if err := log.Append(ctx, "alice", exchange(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := log.Clear(ctx, "alice"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := log.Append(ctx, "alice", exchange(3)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	sessions, err := log.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %+v, want one", sessions)
	}
	got := sessions[0].Exchanges
	if len(got) != 1 || got[0].Query != "question 3" {
		t.Fatalf("replay after clear = %+v, want only question 3", got)
	}
}

func TestExchangeLogClearedSessionOmittedFromReplay(t *testing.T) {
	log, err := NewExchangeLog(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("NewExchangeLog: %v", err)
	}
	ctx := context.Background()

	if err := log.Append(ctx, "alice", exchange(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Clear(ctx, "alice"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	sessions, err := log.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %+v, want none after clear", sessions)
	}
}

func TestExchangeLogSanitizesFilenames(t *testing.T) {
	dir := t.TempDir()
	log, err := NewExchangeLog(dir, 5)
	if err != nil {
		t.Fatalf("NewExchangeLog: %v", err)
	}
	ctx := context.Background()

	if err := log.Append(ctx, "../escape/attempt", exchange(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 log file inside dir", len(entries))
	}
	if name := entries[0].Name(); strings.ContainsAny(name, "/\\") || !strings.HasSuffix(name, ".jsonl") {
		t.Fatalf("unexpected log filename %q", name)
	}

	sessions, err := log.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "../escape/attempt" {
		t.Fatalf("sessions = %+v, want original id preserved in records", sessions)
	}
}

func TestExchangeLogRecordWireFormat(t *testing.T) {
	dir := t.TempDir()
	log, err := NewExchangeLog(dir, 5)
	if err != nil {
		t.Fatalf("NewExchangeLog: %v", err)
	}

	if err := log.Append(context.Background(), "alice", exchange(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "alice.jsonl"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := string(raw)
	for _, field := range []string{`"session_id":"alice"`, `"query":"question 1"`, `"response":"answer 1"`, `"conversation_context":"earlier questions"`, `"expert":"physics"`} {
		if !strings.Contains(line, field) {
			t.Fatalf("record %s missing %s", line, field)
		}
	}
}

func TestExchangeLogSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	log, err := NewExchangeLog(dir, 5)
	if err != nil {
		t.Fatalf("NewExchangeLog: %v", err)
	}
	ctx := context.Background()

	if err := log.Append(ctx, "alice", exchange(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "alice.jsonl"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("{broken\n"); err != nil {
		t.Fatalf("write corrupt line: %v", err)
	}
	f.Close()
	if err := log.Append(ctx, "alice", exchange(2)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	sessions, err := log.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got := sessions[0].Exchanges; len(got) != 2 {
		t.Fatalf("exchange count = %d, want corrupt line skipped", len(got))
	}
}
