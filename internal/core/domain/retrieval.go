package domain

// ChunkRecord is one chunk ready for upsert into a vector collection.
type ChunkRecord struct {
	ID        string
	Text      string
	Embedding []float32
	Source    string
	Expert    string
	Group     string
	Position  int
}

// RetrievedChunk is a nearest-neighbor hit returned by a vector search.
type RetrievedChunk struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Expert string  `json:"expert"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}
