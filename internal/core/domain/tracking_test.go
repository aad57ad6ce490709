package domain

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
)

func vec(values ...float32) []float32 {
	return values
}

func almostEqual(t *testing.T, got, want []float32, eps float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("dimension mismatch: got %d want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i])-float64(want[i])) > eps {
			t.Fatalf("component %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestUpdateExpertSingleBatch(t *testing.T) {
	state := NewTrackingState()
	added, err := state.UpdateExpert("science", "physics", []FileVectors{
		{ID: "a.txt", Chunks: [][]float32{vec(1, 0), vec(0, 1)}},
		{ID: "b.txt", Chunks: [][]float32{vec(1, 1)}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}
	group, _ := state.Group("science")
	expert, _ := group.Expert("physics")
	// file means are (0.5, 0.5) and (1, 1); centroid is their mean
	almostEqual(t, expert.Centroid, vec(0.75, 0.75), 1e-6)
	if expert.Weight() != 2 {
		t.Fatalf("weight = %d, want 2", expert.Weight())
	}
}

func TestUpdateExpertIncrementalMatchesBatch(t *testing.T) {
	files := []FileVectors{
		{ID: "a", Chunks: [][]float32{vec(0.9, 0.1, 0.3), vec(0.8, 0.2, 0.1)}},
		{ID: "b", Chunks: [][]float32{vec(0.1, 0.9, 0.4)}},
		{ID: "c", Chunks: [][]float32{vec(0.5, 0.5, 0.2), vec(0.4, 0.6, 0.9), vec(0.3, 0.3, 0.3)}},
		{ID: "d", Chunks: [][]float32{vec(0.2, 0.1, 0.7)}},
	}

	batch := NewTrackingState()
	if _, err := batch.UpdateExpert("g", "e", files); err != nil {
		t.Fatalf("batch update: %v", err)
	}

	incremental := NewTrackingState()
	if _, err := incremental.UpdateExpert("g", "e", files[:1]); err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if _, err := incremental.UpdateExpert("g", "e", files[1:3]); err != nil {
		t.Fatalf("second increment: %v", err)
	}
	if _, err := incremental.UpdateExpert("g", "e", files[3:]); err != nil {
		t.Fatalf("third increment: %v", err)
	}

	bg, _ := batch.Group("g")
	be, _ := bg.Expert("e")
	ig, _ := incremental.Group("g")
	ie, _ := ig.Expert("e")
	almostEqual(t, ie.Centroid, be.Centroid, 1e-6)
	if ie.Weight() != be.Weight() {
		t.Fatalf("weights diverged: %d vs %d", ie.Weight(), be.Weight())
	}
}

func TestUpdateExpertSkipsTrackedFiles(t *testing.T) {
	state := NewTrackingState()
	files := []FileVectors{{ID: "a", Chunks: [][]float32{vec(1, 2)}}}
	if _, err := state.UpdateExpert("g", "e", files); err != nil {
		t.Fatalf("first update: %v", err)
	}
	group, _ := state.Group("g")
	expert, _ := group.Expert("e")
	before := append([]float32(nil), expert.Centroid...)

	added, err := state.UpdateExpert("g", "e", files)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if added != 0 {
		t.Fatalf("re-ingestion added %d files, want 0", added)
	}
	if !reflect.DeepEqual(expert.Centroid, before) {
		t.Fatalf("centroid changed on re-ingestion: %v vs %v", expert.Centroid, before)
	}
	if expert.Weight() != 1 {
		t.Fatalf("weight = %d, want 1", expert.Weight())
	}
}

func TestUpdateExpertRejectsDimensionMismatch(t *testing.T) {
	state := NewTrackingState()
	if _, err := state.UpdateExpert("g", "e", []FileVectors{{ID: "a", Chunks: [][]float32{vec(1, 2, 3)}}}); err != nil {
		t.Fatalf("seed update: %v", err)
	}
	_, err := state.UpdateExpert("g", "e", []FileVectors{{ID: "b", Chunks: [][]float32{vec(1, 2)}}})
	if !IsKind(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestRecomputeGroupCentroidsWeightsByFileCount(t *testing.T) {
	state := NewTrackingState()
	// physics: 2 files, centroid (1,0); chemistry: 3 files, centroid (0,1)
	if _, err := state.UpdateExpert("science", "physics", []FileVectors{
		{ID: "p1", Chunks: [][]float32{vec(1, 0)}},
		{ID: "p2", Chunks: [][]float32{vec(1, 0)}},
	}); err != nil {
		t.Fatalf("physics: %v", err)
	}
	if _, err := state.UpdateExpert("science", "chemistry", []FileVectors{
		{ID: "c1", Chunks: [][]float32{vec(0, 1)}},
		{ID: "c2", Chunks: [][]float32{vec(0, 1)}},
		{ID: "c3", Chunks: [][]float32{vec(0, 1)}},
	}); err != nil {
		t.Fatalf("chemistry: %v", err)
	}
	state.RecomputeGroupCentroids()

	group, _ := state.Group("science")
	almostEqual(t, group.Centroid, vec(0.4, 0.6), 1e-6)
}

func TestRecomputeGroupCentroidsEmptyGroup(t *testing.T) {
	state := NewTrackingState()
	state.ensureGroup("hollow").ensureExpert("nobody")
	state.RecomputeGroupCentroids()
	group, _ := state.Group("hollow")
	if group.Centroid != nil {
		t.Fatalf("empty group grew a centroid: %v", group.Centroid)
	}
}

func TestTrackingStateJSONPreservesInsertionOrder(t *testing.T) {
	state := NewTrackingState()
	seed := []struct{ group, expert string }{
		{"wellness", "nutrition"},
		{"science", "physics"},
		{"science", "chemistry"},
		{"arts", "painting"},
	}
	for i, s := range seed {
		files := []FileVectors{{ID: s.expert + ".txt", Chunks: [][]float32{vec(float32(i), 1)}}}
		if _, err := state.UpdateExpert(s.group, s.expert, files); err != nil {
			t.Fatalf("seed %s/%s: %v", s.group, s.expert, err)
		}
	}
	state.RecomputeGroupCentroids()

	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewTrackingState()
	if err := json.Unmarshal(raw, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	wantGroups := []string{"wellness", "science", "arts"}
	if !reflect.DeepEqual(restored.Groups(), wantGroups) {
		t.Fatalf("group order = %v, want %v", restored.Groups(), wantGroups)
	}
	science, ok := restored.Group("science")
	if !ok {
		t.Fatal("science group missing after round trip")
	}
	wantExperts := []string{"physics", "chemistry"}
	if !reflect.DeepEqual(science.Experts(), wantExperts) {
		t.Fatalf("expert order = %v, want %v", science.Experts(), wantExperts)
	}
	physics, _ := science.Expert("physics")
	if !reflect.DeepEqual(physics.Files, []string{"physics.txt"}) {
		t.Fatalf("files = %v", physics.Files)
	}
}

func TestTrackingStateUnmarshalKeepsWireOrder(t *testing.T) {
	// keys deliberately not alphabetical
	raw := `{
		"zeta": {"centroid": [1, 0], "experts": {"z2": {"centroid": [1, 0], "files": ["f"]}, "z1": {"centroid": [0, 1], "files": ["g"]}}},
		"alpha": {"centroid": [0, 1], "experts": {"a1": {"centroid": [0, 1], "files": ["h"]}}}
	}`
	state := NewTrackingState()
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(state.Groups(), []string{"zeta", "alpha"}) {
		t.Fatalf("group order = %v", state.Groups())
	}
	zeta, _ := state.Group("zeta")
	if !reflect.DeepEqual(zeta.Experts(), []string{"z2", "z1"}) {
		t.Fatalf("expert order = %v", zeta.Experts())
	}
}
