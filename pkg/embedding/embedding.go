// Package embedding converts text into dense vectors for the operation log
// index. The production implementation speaks the Mistral embeddings API;
// the interface keeps index logic testable without a live service.
package embedding

import "context"

// Embedder computes a vector representation of one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
