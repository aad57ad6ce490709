package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/expert-router/internal/core/domain"
	"github.com/kirillkom/expert-router/internal/core/ports"
)

// IndexUseCase runs ingestion passes over the corpus: new files are chunked,
// embedded and upserted into the expert's vector collection, then folded into
// the expert centroid. Group centroids are recomputed once at the end and the
// refreshed routing snapshot is written out and announced.
//
// Passes are exclusive. A trigger that arrives while one is running fails
// fast instead of queueing up behind it.
type IndexUseCase struct {
	corpus    ports.CorpusSource
	chunker   ports.Chunker
	embedder  ports.Embedder
	vectorDB  ports.VectorStore
	tracking  ports.TrackingStore
	snapshots ports.SnapshotStore
	bus       ports.EventBus

	mu sync.Mutex
}

// NewIndexUseCase wires an ingestion pipeline. bus may be nil when nobody
// listens for snapshot updates, as in the one-shot CLI path.
func NewIndexUseCase(
	corpus ports.CorpusSource,
	chunker ports.Chunker,
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
	tracking ports.TrackingStore,
	snapshots ports.SnapshotStore,
	bus ports.EventBus,
) *IndexUseCase {
	return &IndexUseCase{
		corpus:    corpus,
		chunker:   chunker,
		embedder:  embedder,
		vectorDB:  vectorDB,
		tracking:  tracking,
		snapshots: snapshots,
		bus:       bus,
	}
}

type expertBatch struct {
	group  string
	expert string
	files  []domain.CorpusFile
}

func (uc *IndexUseCase) RunPass(ctx context.Context) (*domain.PassReport, error) {
	if !uc.mu.TryLock() {
		return nil, domain.WrapError(domain.ErrPassRunning, "run ingestion pass", errors.New("another pass holds the ingestion lock"))
	}
	defer uc.mu.Unlock()

	started := time.Now()
	passID := uuid.NewString()

	state, err := uc.tracking.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tracking state: %w", err)
	}

	files, err := uc.corpus.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan corpus: %w", err)
	}

	report := &domain.PassReport{StartedAt: started.UTC()}
	for _, batch := range groupByExpert(files) {
		added, err := uc.ingestExpert(ctx, state, batch, report)
		if err != nil {
			return nil, err
		}
		// Checkpoint after every expert that changed, so an aborted pass
		// resumes from the last finished expert instead of starting over.
		if added > 0 {
			if err := uc.tracking.Save(ctx, state); err != nil {
				return nil, fmt.Errorf("checkpoint tracking state: %w", err)
			}
		}
	}

	state.RecomputeGroupCentroids()
	if err := uc.tracking.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save tracking state: %w", err)
	}

	snap := domain.BuildSnapshot(state)
	if err := uc.snapshots.Write(ctx, snap); err != nil {
		return nil, fmt.Errorf("write routing snapshot: %w", err)
	}

	if uc.bus != nil {
		if err := uc.bus.PublishSnapshotUpdated(ctx, passID); err != nil {
			slog.Warn("snapshot_publish_failed", "pass_id", passID, "error", err)
		}
	}

	report.Groups = len(snap.Groups)
	report.Experts = snap.ExpertCount()
	report.Duration = time.Since(started)
	return report, nil
}

// ingestExpert folds one expert's new files into the tracking state and the
// vector store. Unreadable or empty files are logged and skipped; embedding
// and vector-store failures abort the pass since nothing external answered.
func (uc *IndexUseCase) ingestExpert(ctx context.Context, state *domain.TrackingState, batch expertBatch, report *domain.PassReport) (int, error) {
	var (
		vectors []domain.FileVectors
		records []domain.ChunkRecord
	)
	for _, file := range batch.files {
		if tracked(state, file) {
			report.SkippedFiles++
			continue
		}
		text, err := uc.corpus.Extract(ctx, file)
		if err != nil {
			slog.Warn("corpus_extract_failed",
				"group", file.Group, "expert", file.Expert, "file", file.Name, "error", err)
			report.FailedFiles++
			continue
		}
		chunks := uc.chunker.Split(text)
		if len(chunks) == 0 {
			slog.Warn("corpus_file_empty",
				"group", file.Group, "expert", file.Expert, "file", file.Name)
			report.FailedFiles++
			continue
		}
		embeddings, err := uc.embedder.Embed(ctx, chunks)
		if err != nil {
			return 0, fmt.Errorf("embed %s/%s/%s: %w", file.Group, file.Expert, file.Name, err)
		}
		if len(embeddings) != len(chunks) {
			return 0, domain.WrapError(domain.ErrInvalidInput, "embed corpus file",
				fmt.Errorf("%s: vectors/chunks mismatch: %d/%d", file.Name, len(embeddings), len(chunks)))
		}
		for i, chunk := range chunks {
			records = append(records, domain.ChunkRecord{
				ID:        uuid.NewString(),
				Text:      chunk,
				Embedding: embeddings[i],
				Source:    file.Name,
				Expert:    file.Expert,
				Group:     file.Group,
				Position:  i,
			})
		}
		vectors = append(vectors, domain.FileVectors{ID: file.Name, Chunks: embeddings})
		report.Chunks += len(chunks)
	}
	if len(vectors) == 0 {
		return 0, nil
	}

	if err := uc.vectorDB.UpsertChunks(ctx, batch.expert, records); err != nil {
		return 0, fmt.Errorf("upsert chunks for expert %s: %w", batch.expert, err)
	}

	added, err := state.UpdateExpert(batch.group, batch.expert, vectors)
	if err != nil {
		return 0, err
	}
	report.NewFiles += added
	return added, nil
}

func tracked(state *domain.TrackingState, file domain.CorpusFile) bool {
	group, ok := state.Group(file.Group)
	if !ok {
		return false
	}
	expert, ok := group.Expert(file.Expert)
	if !ok {
		return false
	}
	return expert.Tracked(file.Name)
}

// groupByExpert batches scanned files per (group, expert) pair, preserving
// scan order for both the batches and the files inside each batch.
func groupByExpert(files []domain.CorpusFile) []expertBatch {
	index := make(map[string]int)
	var batches []expertBatch
	for _, f := range files {
		key := f.Group + "/" + f.Expert
		i, ok := index[key]
		if !ok {
			i = len(batches)
			index[key] = i
			batches = append(batches, expertBatch{group: f.Group, expert: f.Expert})
		}
		batches[i].files = append(batches[i].files, f)
	}
	return batches
}
