package vectordb

import "time"

// Config controls the Qdrant-backed index.
type Config struct {
	Host       string
	Port       int
	Collection string
	Timeout    time.Duration
}

// Hit is one scored chunk returned by a vector search. Score is cosine
// similarity in [-1, 1]; with unit vectors it equals the dot product.
type Hit struct {
	ID         string
	Score      float64
	SourceID   string
	ChunkIndex int
	Text       string
	Metadata   map[string]interface{}
}

// UpsertItem is one point to insert or update.
type UpsertItem struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// UpsertResponse mirrors Qdrant's operation acknowledgement.
type UpsertResponse struct {
	Result struct {
		OperationID int    `json:"operation_id"`
		Status      string `json:"status"`
	} `json:"result"`
	Status string `json:"status"`
}
