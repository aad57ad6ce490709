package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

// SnapshotStore persists the routing snapshot the indexer publishes and the
// API process reloads. Unlike tracking state, a missing snapshot is an error:
// the caller decides whether to start empty.
type SnapshotStore struct {
	path string
}

func NewSnapshotStore(path string) (*SnapshotStore, error) {
	if path == "" {
		path = "./data/snapshot.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotStore{path: path}, nil
}

func (s *SnapshotStore) Write(_ context.Context, snapshot *domain.Snapshot) error {
	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := atomicWrite(s.path, raw); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Load(_ context.Context) (*domain.Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("snapshot file %s: %w", s.path, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, domain.WrapError(domain.ErrStateCorrupt, "decode snapshot", err)
	}
	return &snapshot, nil
}
