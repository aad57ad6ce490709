package domain

import "math"

// Snapshot is the immutable routing table derived from a TrackingState. It
// is built once per ingestion pass, written out as the lookup artifact, and
// swapped into serving atomically. Group and expert order mirrors tracking
// insertion order so tie-breaks stay stable across reloads.
//
// Treat a Snapshot as read-only after construction; serving code shares one
// instance across goroutines without locking.
type Snapshot struct {
	Groups          []string             `json:"groups"`
	GroupCentroids  map[string][]float32 `json:"group_centroids"`
	ExpertCentroids map[string][]float32 `json:"expert_centroids"`
	ExpertGroup     map[string]string    `json:"expert_group"`
	GroupExperts    map[string][]string  `json:"group_experts"`
}

// BuildSnapshot flattens the tracking hierarchy into lookup tables. Groups
// without a centroid and experts that never received a file are left out, so
// every entry in the snapshot is routable.
func BuildSnapshot(state *TrackingState) *Snapshot {
	snap := &Snapshot{
		GroupCentroids:  make(map[string][]float32),
		ExpertCentroids: make(map[string][]float32),
		ExpertGroup:     make(map[string]string),
		GroupExperts:    make(map[string][]string),
	}
	if state == nil {
		return snap
	}
	for _, groupName := range state.Groups() {
		group, _ := state.Group(groupName)
		if group.Centroid == nil {
			continue
		}
		var experts []string
		for _, expertName := range group.Experts() {
			expert, _ := group.Expert(expertName)
			if expert.Centroid == nil || expert.Weight() == 0 {
				continue
			}
			experts = append(experts, expertName)
			snap.ExpertCentroids[expertName] = expert.Centroid
			snap.ExpertGroup[expertName] = groupName
		}
		if len(experts) == 0 {
			continue
		}
		snap.Groups = append(snap.Groups, groupName)
		snap.GroupCentroids[groupName] = group.Centroid
		snap.GroupExperts[groupName] = experts
	}
	return snap
}

// Empty reports whether the snapshot has nothing to route to.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Groups) == 0
}

func (s *Snapshot) ExpertCount() int {
	if s == nil {
		return 0
	}
	return len(s.ExpertCentroids)
}

// CosineSimilarity returns the cosine of the angle between two vectors, or
// zero when either vector has no magnitude.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
