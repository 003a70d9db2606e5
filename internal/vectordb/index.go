package vectordb

import "context"

// Index is the nearest-neighbor store the retriever searches. Both the
// Qdrant client and the embedded SQLite index implement it.
type Index interface {
	// Search returns up to limit hits above threshold, best first.
	// A non-empty scopeID restricts results to that corpus scope.
	Search(ctx context.Context, vec []float32, limit int, threshold float64, scopeID string) ([]Hit, error)
	// Upsert inserts or replaces points.
	Upsert(ctx context.Context, points []UpsertItem) error
	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}
