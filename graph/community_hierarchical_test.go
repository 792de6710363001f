//go:build cgo

package graph

import (
	"context"
	"testing"

	"github.com/brunobiangulo/graphtog/store"
)

func TestDetectCommunitiesHierarchicalLevel0(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entityIDs, _ := seedEntitiesAndRelationships(t, s)

	records, err := DetectCommunitiesHierarchical(ctx, s, 10, 0.0001)
	if err != nil {
		t.Fatalf("DetectCommunitiesHierarchical: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("expected at least one community record")
	}

	var level0 []store.CommunityRecord
	for _, r := range records {
		if r.Level == 0 {
			level0 = append(level0, r)
		}
	}
	if len(level0) == 0 {
		t.Fatal("expected at least one level-0 community")
	}

	var allIDs []int64
	for _, r := range level0 {
		allIDs = append(allIDs, r.EntityIDs...)
	}
	if len(allIDs) != len(entityIDs) {
		t.Errorf("expected %d entity ids across level-0 communities, got %d", len(entityIDs), len(allIDs))
	}

	for _, r := range records {
		if r.Level > 0 && r.ParentID == nil {
			t.Errorf("community %d at level %d has no parent_id", r.ID, r.Level)
		}
	}
}

func TestDetectCommunitiesHierarchicalEmptyGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records, err := DetectCommunitiesHierarchical(ctx, s, 10, 0.0001)
	if err != nil {
		t.Fatalf("DetectCommunitiesHierarchical on empty graph: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records for empty graph, got %d", len(records))
	}
}

func TestIncrementalCommunityUpdateNoEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records, err := IncrementalCommunityUpdate(ctx, s, nil, 10, 0.0001)
	if err != nil {
		t.Fatalf("IncrementalCommunityUpdate: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records with no affected entities, got %d", len(records))
	}
}

func TestIncrementalCommunityUpdateReflowsGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entityIDs, _ := seedEntitiesAndRelationships(t, s)

	var seed []int64
	for _, id := range entityIDs {
		seed = append(seed, id)
		break
	}

	records, err := IncrementalCommunityUpdate(ctx, s, seed, 10, 0.0001)
	if err != nil {
		t.Fatalf("IncrementalCommunityUpdate: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("expected communities after incremental update")
	}
}
