//go:build cgo

package tog

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
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func seedGraph(t *testing.T, s *store.Store) (belimoID, fmADamperID int64) {
	t.Helper()
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, store.Document{Path: "/doc.txt", Filename: "doc.txt", Format: "text", ContentHash: "abc", Status: "completed"})
	require.NoError(t, err)

	chunkIDs, err := s.InsertChunks(ctx, []store.Chunk{
		{DocumentID: docID, Content: "Belimo manufactures the AV-FM damper actuator.", ChunkType: "text", ContentHash: "c1"},
	})
	require.NoError(t, err)
	chunkID := chunkIDs[0]

	belimoID, err = s.UpsertEntityResolved(ctx, store.Entity{Name: "Belimo", EntityType: "organization", Description: "actuator manufacturer"}, 0.9)
	require.NoError(t, err)
	fmADamperID, err = s.UpsertEntityResolved(ctx, store.Entity{Name: "AV-FM damper", EntityType: "product", Description: "damper actuator"}, 0.9)
	require.NoError(t, err)

	require.NoError(t, s.LinkEntityChunk(ctx, belimoID, chunkID))
	require.NoError(t, s.LinkEntityChunk(ctx, fmADamperID, chunkID))

	_, err = s.InsertRelationship(ctx, store.Relationship{
		SourceEntityID: belimoID,
		TargetEntityID: fmADamperID,
		RelationType:   "manufactures",
		Weight:         1.0,
		Confidence:     0.9,
	})
	require.NoError(t, err)

	return belimoID, fmADamperID
}

func TestReasonFollowsRelationToAnswer(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	ctx := context.Background()

	stub := &scriptedProvider{responses: []string{
		`{"entities": ["Belimo"]}`,
		`{"sufficient": true}`,
		`{"answer": "The AV-FM damper", "confidence": 0.9, "reasoning_summary": "Belimo manufactures the AV-FM damper."}`,
	}}

	e := New(s, stub, stub, Config{PruningMethod: "bm25", EnableSufficiencyCheck: true})
	answer, err := e.Reason(ctx, "What does Belimo manufacture?", nil)
	require.NoError(t, err)

	assert.Equal(t, "The AV-FM damper", answer.Answer)
	assert.Greater(t, answer.Confidence, 0.5)
	require.Len(t, answer.Triplets, 1)
	assert.Equal(t, "manufactures", answer.Triplets[0].Relation)
	assert.Equal(t, "AV-FM damper", answer.Triplets[0].Object)
}

func TestReasonFallsBackWhenNoTopicsGrounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stub := &scriptedProvider{responses: []string{`{"entities": []}`}}
	e := New(s, stub, stub, Config{})
	answer, err := e.Reason(ctx, "What does nobody manufacture?", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.1, answer.Confidence)
}

func TestFuzzyMatchTokensFindsCloseNames(t *testing.T) {
	names := []string{"Belimo", "AV-FM damper"}
	matched := fuzzyMatchTokens("tell me about belimo", names, 0.8)
	assert.Contains(t, matched, "Belimo")
}
