//go:build cgo

package store

import (
	"context"
	"testing"
)

func seedDocWithEntities(t *testing.T, s *Store, docPath string, content string) (docID int64, chunkID int64) {
	t.Helper()
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, Document{
		Path: docPath, Filename: docPath, Format: "text", ContentHash: "h-" + docPath, Status: "processing",
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	ids, err := s.InsertChunks(ctx, []Chunk{{DocumentID: docID, Content: content, ChunkType: "text", ContentHash: "c-" + docPath}})
	if err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	chunkID = ids[0]
	return docID, chunkID
}

func TestDeleteDocumentGraphDataRemovesOrphanEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, chunkID := seedDocWithEntities(t, s, "/a.txt", "Belimo makes dampers.")
	entID, err := s.UpsertEntityResolved(ctx, Entity{Name: "Belimo", EntityType: "organization"}, 0.9)
	if err != nil {
		t.Fatalf("UpsertEntityResolved: %v", err)
	}
	if err := s.LinkEntityChunk(ctx, entID, chunkID); err != nil {
		t.Fatalf("LinkEntityChunk: %v", err)
	}

	stats, err := s.DeleteDocumentGraphData(ctx, docID)
	if err != nil {
		t.Fatalf("DeleteDocumentGraphData: %v", err)
	}
	if stats.EntitiesDeleted != 1 {
		t.Errorf("expected 1 orphan entity deleted, got %d", stats.EntitiesDeleted)
	}
	if stats.TextUnitsDeleted != 1 {
		t.Errorf("expected 1 text unit deleted, got %d", stats.TextUnitsDeleted)
	}

	remaining, err := s.AllEntitiesForResolution(ctx)
	if err != nil {
		t.Fatalf("AllEntitiesForResolution: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected no entities left, got %d", len(remaining))
	}
}

func TestDeleteDocumentGraphDataKeepsSharedEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docAID, chunkAID := seedDocWithEntities(t, s, "/a.txt", "Belimo makes dampers.")
	docBID, chunkBID := seedDocWithEntities(t, s, "/b.txt", "Belimo also makes actuators.")

	entID, err := s.UpsertEntityResolved(ctx, Entity{Name: "Belimo", EntityType: "organization"}, 0.9)
	if err != nil {
		t.Fatalf("UpsertEntityResolved: %v", err)
	}
	if err := s.LinkEntityChunk(ctx, entID, chunkAID); err != nil {
		t.Fatalf("LinkEntityChunk a: %v", err)
	}
	if err := s.LinkEntityChunk(ctx, entID, chunkBID); err != nil {
		t.Fatalf("LinkEntityChunk b: %v", err)
	}
	_ = docBID

	stats, err := s.DeleteDocumentGraphData(ctx, docAID)
	if err != nil {
		t.Fatalf("DeleteDocumentGraphData: %v", err)
	}
	if stats.EntitiesDeleted != 0 {
		t.Errorf("expected 0 entities deleted (shared entity), got %d", stats.EntitiesDeleted)
	}
	if stats.EntitiesAffected != 1 {
		t.Errorf("expected 1 entity affected (mention_count decremented), got %d", stats.EntitiesAffected)
	}

	remaining, err := s.AllEntitiesForResolution(ctx)
	if err != nil {
		t.Fatalf("AllEntitiesForResolution: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected the shared entity to survive, got %d", len(remaining))
	}
}

func TestIncrementDocumentVersionAndMarkProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, _ := seedDocWithEntities(t, s, "/a.txt", "content")

	v, err := s.IncrementDocumentVersion(ctx, docID)
	if err != nil {
		t.Fatalf("IncrementDocumentVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("expected version 2 after one increment, got %d", v)
	}

	if err := s.MarkDocumentProcessed(ctx, docID, "ready"); err != nil {
		t.Fatalf("MarkDocumentProcessed: %v", err)
	}
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != "ready" {
		t.Errorf("expected status ready, got %q", doc.Status)
	}
}

func TestEntityIDsForDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, chunkID := seedDocWithEntities(t, s, "/a.txt", "Belimo makes dampers.")
	entID, err := s.UpsertEntityResolved(ctx, Entity{Name: "Belimo", EntityType: "organization"}, 0.9)
	if err != nil {
		t.Fatalf("UpsertEntityResolved: %v", err)
	}
	if err := s.LinkEntityChunk(ctx, entID, chunkID); err != nil {
		t.Fatalf("LinkEntityChunk: %v", err)
	}

	ids, err := s.EntityIDsForDocument(ctx, docID)
	if err != nil {
		t.Fatalf("EntityIDsForDocument: %v", err)
	}
	if len(ids) != 1 || ids[0] != entID {
		t.Errorf("expected [%d], got %v", entID, ids)
	}
}
