// Package vector defines the vector store capability the operation log
// depends on, together with a Qdrant REST implementation. Keeping the
// interface narrow lets ranking and aggregation logic be tested against
// an in-memory fake.
package vector

import "context"

// FieldType names a payload index schema understood by the store.
type FieldType string

const (
	FieldKeyword FieldType = "keyword"
	FieldInteger FieldType = "integer"
	FieldFloat   FieldType = "float"
)

// Point is one stored vector with its filterable payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a query hit with its similarity score.
type ScoredPoint struct {
	Point
	Score float64
}

// Filter restricts queries to points whose payload matches every set field.
// Zero values mean "no constraint"; ReturnCode is a pointer so 0 can be
// matched explicitly.
type Filter struct {
	Host         string
	User         string
	Command      string
	MinTimestamp float64
	ReturnCode   *int
}

// Empty reports whether the filter constrains nothing.
func (f *Filter) Empty() bool {
	return f == nil || (f.Host == "" && f.User == "" && f.Command == "" &&
		f.MinTimestamp == 0 && f.ReturnCode == nil)
}

// Store is the persistence capability used by the operation log index.
type Store interface {
	// EnsureCollection creates the named collection and its payload
	// indexes when absent. Safe to call repeatedly.
	EnsureCollection(ctx context.Context, name string, dims int, indexes map[string]FieldType) error

	// Upsert writes the given points into a collection.
	Upsert(ctx context.Context, collection string, points ...Point) error

	// Query returns the points most similar to vec, best first.
	Query(ctx context.Context, collection string, vec []float32, filter *Filter, limit int) ([]ScoredPoint, error)

	// Scroll lists points matching the filter without similarity ranking.
	Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]Point, error)

	// Count returns the exact number of points matching the filter.
	Count(ctx context.Context, collection string, filter *Filter) (int, error)
}
