package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// QdrantClient implements Store against the Qdrant REST API.
type QdrantClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewQdrantClient creates a client for the Qdrant instance at baseURL.
// apiKey may be empty for unauthenticated instances.
func NewQdrantClient(baseURL, apiKey string) *QdrantClient {
	return &QdrantClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
}

type qdrantErrorEnvelope struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Score   float64        `json:"score,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantPointsResult struct {
	Points []qdrantPoint `json:"points"`
}

type qdrantCountResult struct {
	Count int `json:"count"`
}

// apiError preserves the HTTP status so callers can distinguish a missing
// collection from a failing store.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// EnsureCollection creates the collection (cosine distance) and its payload
// indexes when they do not exist yet. Index creation tolerates duplicates so
// the call stays idempotent across restarts.
func (c *QdrantClient) EnsureCollection(ctx context.Context, name string, dims int, indexes map[string]FieldType) error {
	exists, err := c.collectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		body := map[string]any{
			"vectors": map[string]any{"size": dims, "distance": "Cosine"},
		}
		if err := c.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		log.Info().Str("collection", name).Int("dims", dims).Msg("created vector collection")
	}
	for field, schema := range indexes {
		body := map[string]any{
			"field_name":   field,
			"field_schema": string(schema),
		}
		err := c.do(ctx, http.MethodPut, "/collections/"+name+"/index", body, nil)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return fmt.Errorf("create index %s.%s: %w", name, field, err)
		}
	}
	return nil
}

func (c *QdrantClient) collectionExists(ctx context.Context, name string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/collections/"+name, nil, nil)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Upsert writes points and waits for them to be persisted, so a search
// issued right after sees them.
func (c *QdrantClient) Upsert(ctx context.Context, collection string, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	payload := make([]qdrantPoint, 0, len(points))
	for _, p := range points {
		payload = append(payload, qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}
	body := map[string]any{"points": payload}
	if err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil); err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return nil
}

// Query runs a similarity search and returns hits best first.
func (c *QdrantClient) Query(ctx context.Context, collection string, vec []float32, filter *Filter, limit int) ([]ScoredPoint, error) {
	body := map[string]any{
		"query":        vec,
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}
	var result qdrantPointsResult
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/query", body, &result); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	hits := make([]ScoredPoint, 0, len(result.Points))
	for _, p := range result.Points {
		hits = append(hits, ScoredPoint{
			Point: Point{ID: p.ID, Payload: p.Payload},
			Score: p.Score,
		})
	}
	return hits, nil
}

// Scroll lists points matching the filter in storage order.
func (c *QdrantClient) Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]Point, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}
	var result qdrantPointsResult
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &result); err != nil {
		return nil, fmt.Errorf("scroll %s: %w", collection, err)
	}
	points := make([]Point, 0, len(result.Points))
	for _, p := range result.Points {
		points = append(points, Point{ID: p.ID, Payload: p.Payload})
	}
	return points, nil
}

// Count returns the exact number of points matching the filter.
func (c *QdrantClient) Count(ctx context.Context, collection string, filter *Filter) (int, error) {
	body := map[string]any{"exact": true}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}
	var result qdrantCountResult
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body, &result); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return result.Count, nil
}

// qdrantFilter converts a Filter into Qdrant's filter JSON, nil when the
// filter constrains nothing.
func qdrantFilter(f *Filter) map[string]any {
	if f.Empty() {
		return nil
	}
	var must []map[string]any
	match := func(key string, value any) map[string]any {
		return map[string]any{"key": key, "match": map[string]any{"value": value}}
	}
	if f.Host != "" {
		must = append(must, match("host", f.Host))
	}
	if f.User != "" {
		must = append(must, match("user", f.User))
	}
	if f.Command != "" {
		must = append(must, match("command", f.Command))
	}
	if f.ReturnCode != nil {
		must = append(must, match("return_code", *f.ReturnCode))
	}
	if f.MinTimestamp > 0 {
		must = append(must, map[string]any{
			"key":   "timestamp",
			"range": map[string]any{"gte": f.MinTimestamp},
		})
	}
	return map[string]any{"must": must}
}

func (c *QdrantClient) do(ctx context.Context, method, path string, reqBody, result any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(respBody))
		var errResp qdrantErrorEnvelope
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Status.Error != "" {
			message = errResp.Status.Error
		}
		return &apiError{StatusCode: resp.StatusCode, Message: message}
	}

	if result == nil {
		return nil
	}
	var envelope qdrantEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("failed to parse result: %w", err)
	}
	return nil
}
