package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestSQLiteIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSQLiteUpsertAndSearch(t *testing.T) {
	idx := newTestSQLiteIndex(t)
	ctx := context.Background()

	points := []UpsertItem{
		{ID: "c1", Vector: []float32{1, 0, 0}, Payload: map[string]interface{}{
			"source_id": "doc-a", "chunk_index": 0, "text": "hash tables"}},
		{ID: "c2", Vector: []float32{0, 1, 0}, Payload: map[string]interface{}{
			"source_id": "doc-a", "chunk_index": 1, "text": "linked lists"}},
		{ID: "c3", Vector: []float32{0.9, 0.1, 0}, Payload: map[string]interface{}{
			"source_id": "doc-b", "chunk_index": 0, "text": "hash maps"}},
	}
	require.NoError(t, idx.Upsert(ctx, points))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2, 0.1, "")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ID)
	assert.Equal(t, "c3", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "doc-a", hits[0].SourceID)
	assert.Equal(t, "hash tables", hits[0].Text)
}

func TestSQLiteSearchThreshold(t *testing.T) {
	idx := newTestSQLiteIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []UpsertItem{
		{ID: "c1", Vector: []float32{1, 0}, Payload: map[string]interface{}{"source_id": "d", "text": "x"}},
		{ID: "c2", Vector: []float32{0, 1}, Payload: map[string]interface{}{"source_id": "d", "text": "y"}},
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, 0.5, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ID)
}

func TestSQLiteScopeFilter(t *testing.T) {
	idx := newTestSQLiteIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []UpsertItem{
		{ID: "c1", Vector: []float32{1, 0}, Payload: map[string]interface{}{"scope_id": "team-a", "source_id": "d1", "text": "x"}},
		{ID: "c2", Vector: []float32{1, 0}, Payload: map[string]interface{}{"scope_id": "team-b", "source_id": "d2", "text": "y"}},
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, 0, "team-a")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ID)
}

func TestSQLiteUpsertReplaces(t *testing.T) {
	idx := newTestSQLiteIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []UpsertItem{
		{ID: "c1", Vector: []float32{1, 0}, Payload: map[string]interface{}{"source_id": "d", "text": "old"}},
	}))
	require.NoError(t, idx.Upsert(ctx, []UpsertItem{
		{ID: "c1", Vector: []float32{1, 0}, Payload: map[string]interface{}{"source_id": "d", "text": "new"}},
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, 0, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].Text)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{1}, []float32{1, 0}), "dimension mismatch scores zero")
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 0}))
}

func qdrantStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var req qdrantQueryRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			resp := qdrantQueryResponse{Status: "ok"}
			n := req.Limit
			if n > 3 {
				n = 3
			}
			for i := 0; i < n; i++ {
				resp.Result.Points = append(resp.Result.Points, qdrantPoint{
					ID:    strconv.Itoa(i),
					Score: 0.9 - float64(i)*0.1,
					Payload: map[string]interface{}{
						"source_id":   "doc-" + strconv.Itoa(i),
						"chunk_index": float64(i),
						"text":        "passage " + strconv.Itoa(i),
					},
				})
			}
			json.NewEncoder(w).Encode(resp)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
}

func TestQdrantSearch(t *testing.T) {
	srv := qdrantStub(t)
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	client := NewClient(Config{Host: u.Hostname(), Port: port, Collection: "chunks"}, zaptest.NewLogger(t))

	hits, err := client.Search(context.Background(), []float32{1, 0, 0}, 3, 0.1, "")
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "doc-0", hits[0].SourceID)
	assert.Equal(t, 0, hits[0].ChunkIndex)
	assert.Equal(t, "passage 0", hits[0].Text)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9)
}

func TestQdrantHealthCheck(t *testing.T) {
	srv := qdrantStub(t)
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	client := NewClient(Config{Host: u.Hostname(), Port: port}, zaptest.NewLogger(t))
	assert.NoError(t, client.HealthCheck(context.Background()))
}
