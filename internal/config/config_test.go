package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, 7, c.Retrieval.TopK)
	assert.Equal(t, 0.1, c.Retrieval.MinRetrievalScore)
	assert.Equal(t, 0.3, c.Retrieval.MinFinalScore)
	assert.Equal(t, 5, c.Generation.NCandidates)
	assert.Equal(t, 0.75, c.Gate.ThetaLocal)
	assert.Equal(t, 0.6, c.Merge.Alpha)
	assert.Equal(t, 0.4, c.Merge.Beta)
	assert.Equal(t, 3600, c.Cache.TTLSeconds)
	assert.Equal(t, 2*time.Second, c.Deadlines.Retrieve())
	assert.Equal(t, 15*time.Second, c.Deadlines.Generate())
	assert.Equal(t, 10*time.Second, c.Deadlines.External())
	assert.Equal(t, 30*time.Second, c.Deadlines.Total())
	require.NoError(t, c.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "answerd.yaml")
	yaml := `
retrieval:
  top_k: 10
gate:
  theta_local: 0.8
merge:
  alpha: 0.7
  beta: 0.3
collaborators:
  vector_backend: sqlite
  sqlite_path: /tmp/answerd.db
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, c.Retrieval.TopK)
	assert.Equal(t, 0.8, c.Gate.ThetaLocal)
	assert.Equal(t, 0.7, c.Merge.Alpha)
	assert.Equal(t, "sqlite", c.Collaborators.VectorBackend)
	// Untouched fields keep defaults
	assert.Equal(t, 5, c.Generation.NCandidates)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, c.Retrieval.TopK)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	c := Default()
	c.Merge.Alpha = 0.9
	assert.Error(t, c.Validate())

	c = Default()
	c.Gate.ThetaLocal = 1.5
	assert.Error(t, c.Validate())

	c = Default()
	c.Collaborators.VectorBackend = "pinecone"
	assert.Error(t, c.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("THETA_LOCAL", "0.65")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	c, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0.65, c.Gate.ThetaLocal)
	assert.True(t, c.Cache.RedisEnabled)
	assert.Equal(t, "localhost:6379", c.Cache.RedisAddr)
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	mgr, err := NewManager(dir, logger)
	require.NoError(t, err)
	defer mgr.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "answerd.yaml"), []byte("gate:\n  theta_local: 0.7\n"), 0644))
	require.NoError(t, mgr.Start(context.Background()))

	cfg, ok := mgr.GetConfig("answerd.yaml")
	require.True(t, ok)
	gate, ok := cfg["gate"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 0.7, gate["theta_local"])

	// Handler fires on programmatic update
	events := make(chan ChangeEvent, 1)
	mgr.RegisterHandler("answerd.yaml", func(e ChangeEvent) error {
		events <- e
		return nil
	})
	require.NoError(t, mgr.SetConfig("answerd.yaml", map[string]interface{}{"gate": map[string]interface{}{"theta_local": 0.9}}))

	select {
	case e := <-events:
		assert.Equal(t, "programmatic_set", e.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not notified")
	}
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer mgr.Stop()

	mgr.RegisterValidator("answerd.yaml", func(c map[string]interface{}) error {
		if _, ok := c["gate"]; !ok {
			return assert.AnError
		}
		return nil
	})

	err = mgr.SetConfig("answerd.yaml", map[string]interface{}{"other": 1})
	assert.Error(t, err)
	_, ok := mgr.GetConfig("answerd.yaml")
	assert.False(t, ok)
}
