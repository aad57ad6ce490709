package usecase

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

// Router dispatches query embeddings with two nearest-centroid stages:
// first the best group, then the best expert inside it. The snapshot it
// serves from is swapped atomically, so routing never takes a lock and a
// reload cannot tear an in-flight decision.
type Router struct {
	snapshot atomic.Pointer[domain.Snapshot]
}

func NewRouter(snap *domain.Snapshot) *Router {
	r := &Router{}
	if snap == nil {
		snap = &domain.Snapshot{}
	}
	r.snapshot.Store(snap)
	return r
}

// Reload replaces the serving snapshot. In-flight routes finish on the
// snapshot they started with.
func (r *Router) Reload(snap *domain.Snapshot) {
	if snap == nil {
		snap = &domain.Snapshot{}
	}
	r.snapshot.Store(snap)
}

func (r *Router) Snapshot() *domain.Snapshot {
	return r.snapshot.Load()
}

// Route picks the nearest group by cosine similarity, then the nearest
// expert within that group. Ties go to the earlier entry, which follows
// ingestion insertion order.
func (r *Router) Route(embedding []float32) (*domain.RouteResult, error) {
	snap := r.snapshot.Load()
	if snap.Empty() {
		return nil, domain.WrapError(domain.ErrNoExperts, "route query", errors.New("routing snapshot is empty"))
	}

	group, _ := nearest(embedding, snap.Groups, snap.GroupCentroids)
	expert, score := nearest(embedding, snap.GroupExperts[group], snap.ExpertCentroids)

	return &domain.RouteResult{
		Group:  group,
		Expert: expert,
		Score:  score,
	}, nil
}

// RouteChecked routes exactly like Route and additionally records whether
// the dispatch landed on the expected expert.
func (r *Router) RouteChecked(embedding []float32, expectedExpert string) (*domain.RouteResult, error) {
	res, err := r.Route(embedding)
	if err != nil {
		return nil, err
	}
	correct := res.Expert == expectedExpert
	res.Correct = &correct
	return res, nil
}

func nearest(embedding []float32, names []string, centroids map[string][]float32) (string, float64) {
	best := ""
	bestScore := math.Inf(-1)
	for _, name := range names {
		score := domain.CosineSimilarity(embedding, centroids[name])
		if score > bestScore {
			best = name
			bestScore = score
		}
	}
	return best, bestScore
}
