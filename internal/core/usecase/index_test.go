package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

type indexCorpusFake struct {
	files      []domain.CorpusFile
	texts      map[string]string
	extractErr map[string]error
	scanErr    error

	scanStarted chan struct{}
	scanRelease chan struct{}
	startOnce   sync.Once
}

func (f *indexCorpusFake) Scan(context.Context) ([]domain.CorpusFile, error) {
	if f.scanStarted != nil {
		f.startOnce.Do(func() { close(f.scanStarted) })
		<-f.scanRelease
	}
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.files, nil
}

func (f *indexCorpusFake) Extract(_ context.Context, file domain.CorpusFile) (string, error) {
	if err := f.extractErr[file.Name]; err != nil {
		return "", err
	}
	return f.texts[file.Name], nil
}

type indexChunkerFake struct{}

func (indexChunkerFake) Split(text string) []string {
	var chunks []string
	for _, part := range strings.Split(text, "|") {
		if part != "" {
			chunks = append(chunks, part)
		}
	}
	return chunks
}

type indexEmbedderFake struct {
	calls   int
	vectors map[string][]float32
	errFor  map[string]error
}

func (f *indexEmbedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := f.errFor[text]; err != nil {
			return nil, err
		}
		if v, ok := f.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float32{1, 0}
		}
	}
	return out, nil
}

func (f *indexEmbedderFake) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type indexVectorFake struct {
	upserts map[string][]domain.ChunkRecord
	err     error
}

func (f *indexVectorFake) UpsertChunks(_ context.Context, collection string, records []domain.ChunkRecord) error {
	if f.err != nil {
		return f.err
	}
	if f.upserts == nil {
		f.upserts = make(map[string][]domain.ChunkRecord)
	}
	f.upserts[collection] = append(f.upserts[collection], records...)
	return nil
}

func (f *indexVectorFake) Search(context.Context, string, []float32, int) ([]domain.RetrievedChunk, error) {
	return nil, nil
}

type trackingStoreFake struct {
	saves   [][]byte
	loadErr error
	saveErr error
}

func (f *trackingStoreFake) Load(context.Context) (*domain.TrackingState, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	state := domain.NewTrackingState()
	if len(f.saves) > 0 {
		if err := json.Unmarshal(f.saves[len(f.saves)-1], state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func (f *trackingStoreFake) Save(_ context.Context, state *domain.TrackingState) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	f.saves = append(f.saves, raw)
	return nil
}

func (f *trackingStoreFake) Reset(context.Context) error {
	f.saves = nil
	return nil
}

type snapshotStoreFake struct {
	writes [][]byte
	snaps  []*domain.Snapshot
}

func (f *snapshotStoreFake) Write(_ context.Context, snap *domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	f.writes = append(f.writes, raw)
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *snapshotStoreFake) Load(context.Context) (*domain.Snapshot, error) {
	if len(f.snaps) == 0 {
		return &domain.Snapshot{}, nil
	}
	return f.snaps[len(f.snaps)-1], nil
}

type indexBusFake struct {
	published []string
}

func (f *indexBusFake) PublishIndexRequested(context.Context, string) error { return nil }
func (f *indexBusFake) SubscribeIndexRequested(context.Context, func(context.Context, string) error) error {
	return nil
}
func (f *indexBusFake) PublishSnapshotUpdated(_ context.Context, passID string) error {
	f.published = append(f.published, passID)
	return nil
}
func (f *indexBusFake) SubscribeSnapshotUpdated(context.Context, func(context.Context, string) error) error {
	return nil
}

func approxEqual(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("dimension mismatch: got %v want %v", got, want)
	}
	for i := range got {
		if math.Abs(float64(got[i])-float64(want[i])) > 1e-6 {
			t.Fatalf("component %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func scienceCorpus() *indexCorpusFake {
	return &indexCorpusFake{
		files: []domain.CorpusFile{
			{Group: "science", Expert: "physics", Name: "a.txt", Path: "/c/science/physics/a.txt"},
			{Group: "science", Expert: "chemistry", Name: "b.txt", Path: "/c/science/chemistry/b.txt"},
			{Group: "science", Expert: "chemistry", Name: "c.txt", Path: "/c/science/chemistry/c.txt"},
		},
		texts: map[string]string{
			"a.txt": "A",
			"b.txt": "B",
			"c.txt": "C",
		},
	}
}

func scienceEmbedder() *indexEmbedderFake {
	return &indexEmbedderFake{vectors: map[string][]float32{
		"A": {1, 0},
		"B": {0, 1},
		"C": {0, 1},
	}}
}

func TestIndexPassBuildsCentroids(t *testing.T) {
	corpus := scienceCorpus()
	embedder := scienceEmbedder()
	vector := &indexVectorFake{}
	tracking := &trackingStoreFake{}
	snapshots := &snapshotStoreFake{}
	bus := &indexBusFake{}
	uc := NewIndexUseCase(corpus, indexChunkerFake{}, embedder, vector, tracking, snapshots, bus)

	report, err := uc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.NewFiles != 3 || report.Chunks != 3 {
		t.Fatalf("report = %+v", report)
	}
	if report.Groups != 1 || report.Experts != 2 {
		t.Fatalf("report counts = %+v", report)
	}

	if len(vector.upserts["physics"]) != 1 || len(vector.upserts["chemistry"]) != 2 {
		t.Fatalf("upserts = %v", vector.upserts)
	}
	for _, rec := range vector.upserts["chemistry"] {
		if rec.ID == "" || rec.Expert != "chemistry" || rec.Group != "science" {
			t.Fatalf("bad chunk record %+v", rec)
		}
	}

	if len(snapshots.snaps) != 1 {
		t.Fatalf("wrote %d snapshots", len(snapshots.snaps))
	}
	snap := snapshots.snaps[0]
	approxEqual(t, snap.ExpertCentroids["physics"], []float32{1, 0})
	approxEqual(t, snap.ExpertCentroids["chemistry"], []float32{0, 1})
	// physics weight 1, chemistry weight 2
	approxEqual(t, snap.GroupCentroids["science"], []float32{1.0 / 3, 2.0 / 3})

	if len(bus.published) != 1 {
		t.Fatalf("published %d snapshot events", len(bus.published))
	}
}

func TestIndexPassIdempotent(t *testing.T) {
	corpus := scienceCorpus()
	embedder := scienceEmbedder()
	tracking := &trackingStoreFake{}
	snapshots := &snapshotStoreFake{}
	uc := NewIndexUseCase(corpus, indexChunkerFake{}, embedder, &indexVectorFake{}, tracking, snapshots, &indexBusFake{})

	if _, err := uc.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	firstTracking := tracking.saves[len(tracking.saves)-1]
	embedCallsAfterFirst := embedder.calls

	report, err := uc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if report.NewFiles != 0 || report.SkippedFiles != 3 {
		t.Fatalf("second report = %+v", report)
	}
	if embedder.calls != embedCallsAfterFirst {
		t.Fatal("second pass re-embedded tracked files")
	}
	if !bytes.Equal(tracking.saves[len(tracking.saves)-1], firstTracking) {
		t.Fatal("tracking state changed on a zero-new-files pass")
	}
	if len(snapshots.writes) != 2 || !bytes.Equal(snapshots.writes[0], snapshots.writes[1]) {
		t.Fatal("snapshot artifact changed on a zero-new-files pass")
	}
}

func TestIndexPassSkipsUnreadableFiles(t *testing.T) {
	corpus := scienceCorpus()
	corpus.extractErr = map[string]error{"b.txt": errors.New("bad encoding")}
	uc := NewIndexUseCase(corpus, indexChunkerFake{}, scienceEmbedder(), &indexVectorFake{}, &trackingStoreFake{}, &snapshotStoreFake{}, nil)

	report, err := uc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.FailedFiles != 1 || report.NewFiles != 2 {
		t.Fatalf("report = %+v", report)
	}
}

func TestIndexPassAbortsOnEmbedderFailure(t *testing.T) {
	corpus := scienceCorpus()
	embedder := scienceEmbedder()
	embedder.errFor = map[string]error{"A": errors.New("embedder down")}
	snapshots := &snapshotStoreFake{}
	uc := NewIndexUseCase(corpus, indexChunkerFake{}, embedder, &indexVectorFake{}, &trackingStoreFake{}, snapshots, nil)

	if _, err := uc.RunPass(context.Background()); err == nil {
		t.Fatal("expected pass to abort")
	}
	if len(snapshots.writes) != 0 {
		t.Fatal("aborted pass must not publish a snapshot")
	}
}

func TestIndexPassCheckpointsPerExpert(t *testing.T) {
	corpus := &indexCorpusFake{
		files: []domain.CorpusFile{
			{Group: "science", Expert: "physics", Name: "a.txt"},
			{Group: "wellness", Expert: "anxiety", Name: "x.txt"},
		},
		texts: map[string]string{"a.txt": "A", "x.txt": "X"},
	}
	embedder := &indexEmbedderFake{
		vectors: map[string][]float32{"A": {1, 0}, "X": {0, 1}},
		errFor:  map[string]error{"X": errors.New("embedder down")},
	}
	tracking := &trackingStoreFake{}
	snapshots := &snapshotStoreFake{}
	uc := NewIndexUseCase(corpus, indexChunkerFake{}, embedder, &indexVectorFake{}, tracking, snapshots, nil)

	if _, err := uc.RunPass(context.Background()); err == nil {
		t.Fatal("expected pass to abort on second expert")
	}
	if len(tracking.saves) != 1 {
		t.Fatalf("saved %d checkpoints, want 1 for the finished expert", len(tracking.saves))
	}
	if len(snapshots.writes) != 0 {
		t.Fatal("aborted pass must not publish a snapshot")
	}

	// next pass resumes: physics already tracked, only anxiety remains
	delete(embedder.errFor, "X")
	report, err := uc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("resumed pass: %v", err)
	}
	if report.NewFiles != 1 || report.SkippedFiles != 1 {
		t.Fatalf("resumed report = %+v", report)
	}
	snap := snapshots.snaps[len(snapshots.snaps)-1]
	if len(snap.Groups) != 2 {
		t.Fatalf("snapshot groups = %v", snap.Groups)
	}
}

func TestIndexPassSingleFlight(t *testing.T) {
	corpus := scienceCorpus()
	corpus.scanStarted = make(chan struct{})
	corpus.scanRelease = make(chan struct{})
	uc := NewIndexUseCase(corpus, indexChunkerFake{}, scienceEmbedder(), &indexVectorFake{}, &trackingStoreFake{}, &snapshotStoreFake{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := uc.RunPass(context.Background())
		done <- err
	}()
	<-corpus.scanStarted

	if _, err := uc.RunPass(context.Background()); !domain.IsKind(err, domain.ErrPassRunning) {
		t.Fatalf("expected pass-running error, got %v", err)
	}

	close(corpus.scanRelease)
	if err := <-done; err != nil {
		t.Fatalf("first pass: %v", err)
	}
}
