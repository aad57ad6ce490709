package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

// Client stores chunk embeddings in a Chroma server, one collection per
// expert. Collections are created lazily with get_or_create and their server
// IDs cached, since every other Chroma call addresses collections by ID.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	collections map[string]string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		collections: make(map[string]string),
	}
}

func (c *Client) UpsertChunks(ctx context.Context, collection string, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	collectionID, err := c.ensureCollection(ctx, collection)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(records))
	embeddings := make([][]float32, 0, len(records))
	documents := make([]string, 0, len(records))
	metadatas := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
		embeddings = append(embeddings, rec.Embedding)
		documents = append(documents, rec.Text)
		metadatas = append(metadatas, map[string]any{
			"source":   rec.Source,
			"expert":   rec.Expert,
			"group":    rec.Group,
			"position": rec.Position,
		})
	}

	payload := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}
	path := fmt.Sprintf("/api/v1/collections/%s/upsert", collectionID)
	if err := c.post(ctx, path, payload, nil, "upsert"); err != nil {
		return err
	}
	return nil
}

func (c *Client) Search(ctx context.Context, collection string, queryVector []float32, limit int) ([]domain.RetrievedChunk, error) {
	if limit <= 0 {
		limit = 3
	}

	collectionID, err := c.ensureCollection(ctx, collection)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"query_embeddings": [][]float32{queryVector},
		"n_results":        limit,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	var queryResp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	path := fmt.Sprintf("/api/v1/collections/%s/query", collectionID)
	if err := c.post(ctx, path, payload, &queryResp, "query"); err != nil {
		return nil, err
	}

	if len(queryResp.IDs) == 0 {
		return nil, nil
	}
	row := queryResp.IDs[0]
	out := make([]domain.RetrievedChunk, 0, len(row))
	for i, id := range row {
		chunk := domain.RetrievedChunk{ID: id, Expert: collection}
		if len(queryResp.Documents) > 0 && i < len(queryResp.Documents[0]) {
			chunk.Text = queryResp.Documents[0][i]
		}
		if len(queryResp.Metadatas) > 0 && i < len(queryResp.Metadatas[0]) {
			meta := queryResp.Metadatas[0][i]
			chunk.Source = metaString(meta, "source")
			if expert := metaString(meta, "expert"); expert != "" {
				chunk.Expert = expert
			}
		}
		if len(queryResp.Distances) > 0 && i < len(queryResp.Distances[0]) {
			// Chroma reports cosine distance; similarity is its complement.
			chunk.Score = 1 - queryResp.Distances[0][i]
		}
		out = append(out, chunk)
	}
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if id, ok := c.collections[name]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	payload := map[string]any{
		"name":          name,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
		"get_or_create": true,
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/api/v1/collections", payload, &created, "ensure collection"); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("chroma ensure collection: empty collection id for %s", name)
	}

	c.mu.Lock()
	c.collections[name] = created.ID
	c.mu.Unlock()
	return created.ID, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chroma %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return fmt.Errorf("chroma %s status: %s: %s", operation, resp.Status, msg)
		}
		return fmt.Errorf("chroma %s status: %s", operation, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
