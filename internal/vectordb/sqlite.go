package vectordb

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/corterra/answerd/internal/metrics"
)

// SQLiteIndex is an embedded vector index for single-node deployments and
// tests. Search is a brute-force scan, fine for corpora up to the low
// hundreds of thousands of chunks.
type SQLiteIndex struct {
	db *sqlx.DB
	mu sync.RWMutex
}

func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	idx := &SQLiteIndex{db: db}
	if err := idx.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteIndex) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		source_id   TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		scope_id    TEXT NOT NULL DEFAULT '',
		text        TEXT NOT NULL,
		vector      BLOB NOT NULL,
		metadata    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_scope ON chunks(scope_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

type chunkRow struct {
	ID         string         `db:"id"`
	SourceID   string         `db:"source_id"`
	ChunkIndex int            `db:"chunk_index"`
	ScopeID    string         `db:"scope_id"`
	Text       string         `db:"text"`
	Vector     []byte         `db:"vector"`
	Metadata   sql.NullString `db:"metadata"`
}

func (s *SQLiteIndex) Search(ctx context.Context, vec []float32, limit int, threshold float64, scopeID string) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := time.Now()

	query := `SELECT id, source_id, chunk_index, scope_id, text, vector, metadata FROM chunks`
	args := []interface{}{}
	if scopeID != "" {
		query += ` WHERE scope_id = ?`
		args = append(args, scopeID)
	}

	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		metrics.RecordVectorSearchMetrics("sqlite", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("sqlite search: %w", err)
	}

	hits := make([]Hit, 0, limit)
	for _, row := range rows {
		stored, err := decodeVector(row.Vector)
		if err != nil {
			continue
		}
		score := cosine(vec, stored)
		if score < threshold {
			continue
		}
		h := Hit{
			ID:         row.ID,
			Score:      score,
			SourceID:   row.SourceID,
			ChunkIndex: row.ChunkIndex,
			Text:       row.Text,
		}
		if row.Metadata.Valid && row.Metadata.String != "" {
			_ = json.Unmarshal([]byte(row.Metadata.String), &h.Metadata)
		}
		hits = append(hits, h)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	metrics.RecordVectorSearchMetrics("sqlite", "ok", time.Since(start).Seconds())
	return hits, nil
}

func (s *SQLiteIndex) Upsert(ctx context.Context, points []UpsertItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt := `INSERT OR REPLACE INTO chunks (id, source_id, chunk_index, scope_id, text, vector, metadata)
	         VALUES (?, ?, ?, ?, ?, ?, ?)`
	for _, p := range points {
		sourceID, _ := p.Payload["source_id"].(string)
		scopeID, _ := p.Payload["scope_id"].(string)
		text, _ := p.Payload["text"].(string)
		chunkIndex := 0
		switch v := p.Payload["chunk_index"].(type) {
		case int:
			chunkIndex = v
		case float64:
			chunkIndex = int(v)
		}
		var meta []byte
		if p.Payload != nil {
			meta, _ = json.Marshal(p.Payload)
		}
		if _, err := tx.ExecContext(ctx, stmt, p.ID, sourceID, chunkIndex, scopeID, text, encodeVector(p.Vector), string(meta)); err != nil {
			return fmt.Errorf("sqlite upsert %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// encodeVector packs a float32 slice as little-endian bytes
func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("malformed vector blob of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
