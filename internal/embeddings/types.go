package embeddings

import "time"

// Config controls the embedding client.
type Config struct {
	BaseURL      string
	DefaultModel string
	// Dimensions is the expected vector width. Zero disables the check.
	Dimensions int
	Timeout    time.Duration
	CacheTTL   time.Duration
	MaxLRU     int
}
