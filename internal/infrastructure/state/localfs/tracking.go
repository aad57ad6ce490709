package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

// TrackingStore persists the ingestion tracking state as one JSON file,
// rewritten wholesale through a temp-file rename so readers never observe a
// half-written state.
type TrackingStore struct {
	path string
}

func NewTrackingStore(path string) (*TrackingStore, error) {
	if path == "" {
		path = "./data/tracking.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create tracking dir: %w", err)
	}
	return &TrackingStore{path: path}, nil
}

// Load reads the persisted state. A missing file is a fresh start. A file
// that no longer parses is moved aside and ingestion restarts from empty
// rather than aborting.
func (s *TrackingStore) Load(_ context.Context) (*domain.TrackingState, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewTrackingState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tracking file: %w", err)
	}

	state := domain.NewTrackingState()
	if err := json.Unmarshal(raw, state); err != nil {
		wrapped := domain.WrapError(domain.ErrStateCorrupt, "decode tracking state", err)
		aside := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			aside = ""
		}
		slog.Warn("tracking_state_corrupt", "path", s.path, "moved_to", aside, "error", wrapped)
		return domain.NewTrackingState(), nil
	}
	return state, nil
}

func (s *TrackingStore) Save(_ context.Context, state *domain.TrackingState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tracking state: %w", err)
	}
	if err := atomicWrite(s.path, raw); err != nil {
		return fmt.Errorf("write tracking file: %w", err)
	}
	return nil
}

func (s *TrackingStore) Reset(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove tracking file: %w", err)
	}
	return nil
}

// atomicWrite replaces path via write-to-temp + rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
