//go:build cgo

package globalquery

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/graphtog/llm"
	"github.com/brunobiangulo/graphtog/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath, 4)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.calls >= len(p.responses) {
		return &llm.ChatResponse{Content: p.responses[len(p.responses)-1]}, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return &llm.ChatResponse{Content: resp}, nil
}

func (p *scriptedProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	return out, nil
}

func seedCommunities(t *testing.T, s *store.Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id, err := s.InsertCommunityHierarchical(ctx, 0, nil, []int64{})
		require.NoError(t, err)
		require.NoError(t, s.SetCommunitySummary(ctx, id, fmt.Sprintf("Title %d", i), fmt.Sprintf("Summary body %d", i), 5.0, "medium", nil))
	}
}

func TestFallbackUsedBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	seedCommunities(t, s, 5)

	stub := &scriptedProvider{responses: []string{
		`{"answer": "overall finding", "key_insights": ["a"], "confidence_score": 0.8, "limitations": "none"}`,
	}}
	e := New(s, stub, DefaultConfig())
	answer, err := e.Query(context.Background(), "what are the key themes?")
	require.NoError(t, err)
	assert.False(t, answer.UsedMapReduce)
	assert.Equal(t, "overall finding", answer.Answer)
}

func TestMapReduceUsedAboveThreshold(t *testing.T) {
	s := newTestStore(t)
	seedCommunities(t, s, 25)

	cfg := DefaultConfig()
	cfg.BatchSize = 10
	responses := []string{
		`{"relevant_communities": [1,2], "summary": "batch one finding", "key_points": ["x"], "confidence": 0.7}`,
		`{"relevant_communities": [11,12], "summary": "batch two finding", "key_points": ["y"], "confidence": 0.6}`,
		`{"relevant_communities": [21], "summary": "batch three finding", "key_points": ["z"], "confidence": 0.5}`,
		`{"answer": "combined finding", "key_insights": ["a","b"], "confidence_score": 0.75, "limitations": "partial coverage"}`,
	}
	stub := &scriptedProvider{responses: responses}
	e := New(s, stub, cfg)
	answer, err := e.Query(context.Background(), "what connects these documents?")
	require.NoError(t, err)
	assert.True(t, answer.UsedMapReduce)
	assert.Equal(t, 3, answer.BatchesProcessed)
	assert.Equal(t, "combined finding", answer.Answer)
	assert.NotEmpty(t, answer.SupportingCommunities)
}
