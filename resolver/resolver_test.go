//go:build cgo

package resolver

import (
	"context"
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

type stubProvider struct {
	chatContent string
}

func (p *stubProvider) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: p.chatContent}, nil
}

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 0, 0}
	}
	return out, nil
}

func TestResolverAutoMergesCloseNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertEntityResolved(ctx, store.Entity{Name: "belimo corp", EntityType: "organization", Description: "manufacturer"}, 0.9)
	require.NoError(t, err)
	_, err = s.UpsertEntityResolved(ctx, store.Entity{Name: "belimo corporation", EntityType: "organization", Description: "manufacturer"}, 0.9)
	require.NoError(t, err)

	r := New(s, nil, 0.8, 0.85, 0.9, false)
	res, err := r.Run(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.CandidatesConsidered, 1)
	assert.Equal(t, 1, res.MergesApplied)

	remaining, err := s.AllEntitiesForResolution(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestResolverLeavesDissimilarNamesAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertEntityResolved(ctx, store.Entity{Name: "iso 9001", EntityType: "standard"}, 0.9)
	require.NoError(t, err)
	_, err = s.UpsertEntityResolved(ctx, store.Entity{Name: "mil-std-810", EntityType: "standard"}, 0.9)
	require.NoError(t, err)

	r := New(s, nil, 0.85, 0.95, 0.9, false)
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.MergesApplied)

	remaining, err := s.AllEntitiesForResolution(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestResolverLLMDisambiguationApproves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertEntityResolved(ctx, store.Entity{Name: "av-fm damper", EntityType: "term"}, 0.9)
	require.NoError(t, err)
	_, err = s.UpsertEntityResolved(ctx, store.Entity{Name: "av fm dampers", EntityType: "term"}, 0.9)
	require.NoError(t, err)

	stub := &stubProvider{chatContent: `{"same": true, "confidence": 0.95}`}
	r := New(s, stub, 0.5, 0.99, 0.9, true)
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.LLMCallsMade)
	assert.Equal(t, 1, res.MergesApplied)
}

func TestNameSimilarity(t *testing.T) {
	a := store.EntityResolution{Name: "belimo corp"}
	b := store.EntityResolution{Name: "belimo corp"}
	assert.Equal(t, 1.0, nameSimilarity(a, b))
}
