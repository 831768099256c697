// Package embeddings defines the embedding-provider contract the knowledge
// store's Manager embeds text against before handing vectors to a backend.
package embeddings

import (
	"context"
)

// Provider turns text into fixed-dimension vectors for similarity search.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one round trip.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the provider, for Manager.Stats.
	Name() string

	// Dimension returns the embedding width this provider produces.
	Dimension() int

	// MaxBatchSize caps how many texts EmbedBatch accepts at once.
	MaxBatchSize() int
}
