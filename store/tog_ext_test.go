//go:build cgo

package store

import (
	"context"
	"testing"
)

func seedRelationGraph(t *testing.T, s *Store) (belimoID, damperID int64, chunkID int64) {
	t.Helper()
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, Document{Path: "/doc.txt", Filename: "doc.txt", Format: "text", ContentHash: "h1", Status: "processing"})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	ids, err := s.InsertChunks(ctx, []Chunk{{DocumentID: docID, Content: "Belimo manufactures the AV-FM damper.", ChunkType: "text", ContentHash: "c1"}})
	if err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	chunkID = ids[0]

	belimoID, err = s.UpsertEntityResolved(ctx, Entity{Name: "Belimo", EntityType: "organization"}, 0.9)
	if err != nil {
		t.Fatalf("UpsertEntityResolved belimo: %v", err)
	}
	damperID, err = s.UpsertEntityResolved(ctx, Entity{Name: "AV-FM damper", EntityType: "product"}, 0.9)
	if err != nil {
		t.Fatalf("UpsertEntityResolved damper: %v", err)
	}
	if err := s.LinkEntityChunk(ctx, belimoID, chunkID); err != nil {
		t.Fatalf("LinkEntityChunk belimo: %v", err)
	}
	if err := s.LinkEntityChunk(ctx, damperID, chunkID); err != nil {
		t.Fatalf("LinkEntityChunk damper: %v", err)
	}
	if _, err := s.InsertRelationship(ctx, Relationship{
		SourceEntityID: belimoID, TargetEntityID: damperID, RelationType: "manufactures", Weight: 1.0, Confidence: 0.9,
	}); err != nil {
		t.Fatalf("InsertRelationship: %v", err)
	}
	return belimoID, damperID, chunkID
}

func TestRelationTypesIncidentTo(t *testing.T) {
	s := newTestStore(t)
	seedRelationGraph(t, s)
	ctx := context.Background()

	freqs, err := s.RelationTypesIncidentTo(ctx, []string{"Belimo"}, 0.3, 50)
	if err != nil {
		t.Fatalf("RelationTypesIncidentTo: %v", err)
	}
	if len(freqs) != 1 || freqs[0].RelationType != "manufactures" {
		t.Fatalf("expected [manufactures], got %+v", freqs)
	}

	none, err := s.RelationTypesIncidentTo(ctx, []string{"Belimo"}, 0.95, 50)
	if err != nil {
		t.Fatalf("RelationTypesIncidentTo high threshold: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no relation types above confidence 0.95, got %+v", none)
	}
}

func TestExpandRelation(t *testing.T) {
	s := newTestStore(t)
	seedRelationGraph(t, s)
	ctx := context.Background()

	expansions, err := s.ExpandRelation(ctx, []string{"Belimo"}, "manufactures", nil, 20)
	if err != nil {
		t.Fatalf("ExpandRelation: %v", err)
	}
	if len(expansions) != 1 || expansions[0].TargetName != "AV-FM damper" {
		t.Fatalf("expected [AV-FM damper], got %+v", expansions)
	}
}

func TestMentionSnippets(t *testing.T) {
	s := newTestStore(t)
	seedRelationGraph(t, s)
	ctx := context.Background()

	snippets, err := s.MentionSnippets(ctx, "Belimo", 3)
	if err != nil {
		t.Fatalf("MentionSnippets: %v", err)
	}
	if len(snippets) != 1 {
		t.Fatalf("expected 1 snippet, got %d", len(snippets))
	}
}
