package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FileVectors carries the chunk embeddings produced from one corpus file.
type FileVectors struct {
	ID     string
	Chunks [][]float32
}

// ExpertState is the persisted per-expert record: the running centroid and
// the identifiers of every file already folded into it.
type ExpertState struct {
	Centroid []float32 `json:"centroid"`
	Files    []string  `json:"files"`
}

// Weight is the number of files the centroid currently represents.
func (e *ExpertState) Weight() int {
	return len(e.Files)
}

func (e *ExpertState) Tracked(fileID string) bool {
	for _, id := range e.Files {
		if id == fileID {
			return true
		}
	}
	return false
}

// GroupState holds a group centroid plus its experts in insertion order.
// Insertion order matters: routing breaks similarity ties in favor of the
// earlier entry, so the order written to disk must survive a reload.
type GroupState struct {
	Centroid []float32

	experts map[string]*ExpertState
	order   []string
}

func (g *GroupState) Experts() []string {
	return g.order
}

func (g *GroupState) Expert(name string) (*ExpertState, bool) {
	e, ok := g.experts[name]
	return e, ok
}

func (g *GroupState) ensureExpert(name string) *ExpertState {
	if g.experts == nil {
		g.experts = make(map[string]*ExpertState)
	}
	if e, ok := g.experts[name]; ok {
		return e
	}
	e := &ExpertState{}
	g.experts[name] = e
	g.order = append(g.order, name)
	return e
}

func (g *GroupState) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"centroid":`)
	centroid, err := json.Marshal(g.Centroid)
	if err != nil {
		return nil, err
	}
	buf.Write(centroid)
	buf.WriteString(`,"experts":{`)
	for i, name := range g.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		expert, err := json.Marshal(g.experts[name])
		if err != nil {
			return nil, err
		}
		buf.Write(expert)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func (g *GroupState) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("group state: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("group state: expected key, got %v", keyTok)
		}
		switch key {
		case "centroid":
			if err := dec.Decode(&g.Centroid); err != nil {
				return err
			}
		case "experts":
			if err := g.decodeExperts(dec); err != nil {
				return err
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *GroupState) decodeExperts(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("group state: expected experts object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("group state: expected expert name, got %v", keyTok)
		}
		e := &ExpertState{}
		if err := dec.Decode(e); err != nil {
			return err
		}
		if g.experts == nil {
			g.experts = make(map[string]*ExpertState)
		}
		if _, seen := g.experts[name]; !seen {
			g.order = append(g.order, name)
		}
		g.experts[name] = e
	}
	_, err = dec.Token() // closing brace
	return err
}

// TrackingState is the durable record of everything ingested so far. It maps
// groups to experts to centroids and tracked files, and it is the single
// source from which routing snapshots are built.
type TrackingState struct {
	groups map[string]*GroupState
	order  []string
}

func NewTrackingState() *TrackingState {
	return &TrackingState{groups: make(map[string]*GroupState)}
}

func (t *TrackingState) Empty() bool {
	return len(t.order) == 0
}

func (t *TrackingState) Groups() []string {
	return t.order
}

func (t *TrackingState) Group(name string) (*GroupState, bool) {
	g, ok := t.groups[name]
	return g, ok
}

func (t *TrackingState) ensureGroup(name string) *GroupState {
	if t.groups == nil {
		t.groups = make(map[string]*GroupState)
	}
	if g, ok := t.groups[name]; ok {
		return g
	}
	g := &GroupState{}
	t.groups[name] = g
	t.order = append(t.order, name)
	return g
}

// Dimension reports the embedding width the state is committed to, or zero
// when no centroid has been recorded yet.
func (t *TrackingState) Dimension() int {
	for _, name := range t.order {
		g := t.groups[name]
		for _, en := range g.order {
			if c := g.experts[en].Centroid; c != nil {
				return len(c)
			}
		}
	}
	return 0
}

// UpdateExpert folds new file embeddings into an expert centroid using the
// streaming weighted mean. Each file contributes the mean of its chunk
// vectors as one unit-weight observation, so replaying the same files in any
// split produces the same centroid as a single batch. Files already tracked
// for the expert are skipped. Returns the number of files actually added.
func (t *TrackingState) UpdateExpert(group, expert string, files []FileVectors) (int, error) {
	g := t.ensureGroup(group)
	e := g.ensureExpert(expert)

	dim := len(e.Centroid)
	if dim == 0 {
		dim = t.Dimension()
	}

	oldWeight := e.Weight()
	var sum []float64
	added := 0
	for _, f := range files {
		if e.Tracked(f.ID) || len(f.Chunks) == 0 {
			continue
		}
		mean, err := meanVectors(f.Chunks)
		if err != nil {
			return added, WrapError(ErrInvalidInput, "centroid update", fmt.Errorf("file %q: %w", f.ID, err))
		}
		if dim == 0 {
			dim = len(mean)
		}
		if len(mean) != dim {
			return added, WrapError(ErrInvalidInput, "centroid update",
				fmt.Errorf("file %q: embedding dimension %d, state dimension %d", f.ID, len(mean), dim))
		}
		if sum == nil {
			sum = make([]float64, dim)
		}
		for i, v := range mean {
			sum[i] += v
		}
		e.Files = append(e.Files, f.ID)
		added++
	}
	if added == 0 {
		return 0, nil
	}

	next := make([]float32, dim)
	total := float64(oldWeight + added)
	for i := range next {
		var prev float64
		if e.Centroid != nil {
			prev = float64(e.Centroid[i]) * float64(oldWeight)
		}
		next[i] = float32((prev + sum[i]) / total)
	}
	e.Centroid = next
	return added, nil
}

// RecomputeGroupCentroids rebuilds every group centroid from scratch as the
// file-count-weighted mean of its expert centroids. Called once per
// ingestion pass after all expert updates.
func (t *TrackingState) RecomputeGroupCentroids() {
	for _, name := range t.order {
		g := t.groups[name]
		var sum []float64
		total := 0
		for _, en := range g.order {
			e := g.experts[en]
			if e.Centroid == nil || e.Weight() == 0 {
				continue
			}
			if sum == nil {
				sum = make([]float64, len(e.Centroid))
			}
			w := float64(e.Weight())
			for i, v := range e.Centroid {
				sum[i] += float64(v) * w
			}
			total += e.Weight()
		}
		if total == 0 {
			g.Centroid = nil
			continue
		}
		centroid := make([]float32, len(sum))
		for i, v := range sum {
			centroid[i] = float32(v / float64(total))
		}
		g.Centroid = centroid
	}
}

func (t *TrackingState) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range t.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		group, err := json.Marshal(t.groups[name])
		if err != nil {
			return nil, err
		}
		buf.Write(group)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (t *TrackingState) UnmarshalJSON(data []byte) error {
	t.groups = make(map[string]*GroupState)
	t.order = nil
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("tracking state: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("tracking state: expected group name, got %v", keyTok)
		}
		g := &GroupState{}
		if err := dec.Decode(g); err != nil {
			return err
		}
		if _, seen := t.groups[name]; !seen {
			t.order = append(t.order, name)
		}
		t.groups[name] = g
	}
	return nil
}

func meanVectors(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors to average")
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("mixed embedding dimensions %d and %d", dim, len(v))
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	mean := make([]float32, dim)
	n := float64(len(vectors))
	for i, v := range sum {
		mean[i] = float32(v / n)
	}
	return mean, nil
}
