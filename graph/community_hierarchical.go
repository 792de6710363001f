package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/brunobiangulo/graphtog/llm"
	"github.com/brunobiangulo/graphtog/store"
)

// DetectCommunitiesHierarchical generalizes DetectCommunities into a full
// hierarchy (orig §4.6): level 0 is connected components, and each level
// recursively splits its parent community via modularitySplit until no
// split improves modularity, a level's component falls below
// minComponentSplit, or maxLevels is reached. Community rows carry
// parent_id, which SummarizeCommunitiesStructured uses to fold child
// summaries into their parent's prompt. tolerance is accepted but not used,
// and splitting is deterministic (no seed or random tie-break).
func DetectCommunitiesHierarchical(ctx context.Context, s *store.Store, maxLevels int, tolerance float64) ([]store.CommunityRecord, error) {
	entities, err := s.AllEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}
	rels, err := s.AllRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	if len(entities) == 0 {
		return nil, nil
	}
	if maxLevels <= 0 {
		maxLevels = 10
	}

	idIndex := make(map[int64]int, len(entities))
	for i, e := range entities {
		idIndex[e.ID] = i
	}
	adj := make([][]edge, len(entities))
	totalWeight := 0.0
	for _, r := range rels {
		si, okS := idIndex[r.SourceEntityID]
		ti, okT := idIndex[r.TargetEntityID]
		if !okS || !okT {
			continue
		}
		adj[si] = append(adj[si], edge{to: ti, weight: r.Weight})
		adj[ti] = append(adj[ti], edge{to: si, weight: r.Weight})
		totalWeight += r.Weight
	}

	visited := make([]bool, len(entities))
	var components [][]int
	for i := range entities {
		if visited[i] {
			continue
		}
		var comp []int
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, node)
			for _, e := range adj[node] {
				if !visited[e.to] {
					visited[e.to] = true
					queue = append(queue, e.to)
				}
			}
		}
		components = append(components, comp)
	}

	if err := s.ClearCommunities(ctx); err != nil {
		return nil, fmt.Errorf("clearing communities: %w", err)
	}

	var records []store.CommunityRecord
	for _, comp := range components {
		if err := insertHierarchyLevel(ctx, s, comp, entities, adj, totalWeight, 0, nil, maxLevels, &records); err != nil {
			return nil, err
		}
	}

	slog.Info("community: hierarchical detection complete",
		"total_nodes", len(records), "max_levels", maxLevels)
	return records, nil
}

// insertHierarchyLevel inserts one community node for comp at level, then
// recurses into its modularity-split children (if any) as level+1, until
// maxLevels is reached or the split doesn't separate the component further.
func insertHierarchyLevel(ctx context.Context, s *store.Store, comp []int, entities []store.Entity, adj [][]edge, totalWeight float64, level int, parentID *int64, maxLevels int, records *[]store.CommunityRecord) error {
	ids := componentEntityIDs(comp, entities)
	id, err := s.InsertCommunityHierarchical(ctx, level, parentID, ids)
	if err != nil {
		return fmt.Errorf("inserting level-%d community: %w", level, err)
	}
	*records = append(*records, store.CommunityRecord{ID: id, Level: level, ParentID: parentID, EntityIDs: ids, MemberCount: len(ids)})

	if level+1 >= maxLevels || len(comp) < minComponentSplit || len(comp) > maxModularityNodes || totalWeight == 0 {
		return nil
	}

	children := modularitySplit(comp, adj, totalWeight)
	if len(children) <= 1 {
		return nil // no further split improves modularity
	}
	// Deterministic ordering: sort children by their smallest member index.
	sort.Slice(children, func(i, j int) bool {
		return minInt(children[i]) < minInt(children[j])
	})
	for _, child := range children {
		if err := insertHierarchyLevel(ctx, s, child, entities, adj, totalWeight, level+1, &id, maxLevels, records); err != nil {
			return err
		}
	}
	return nil
}

func minInt(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// IncrementalCommunityUpdate refreshes communities after a re-ingest touched
// affectedEntityIDs (orig §4.6's incremental mode):
//  1. find communities the affected entities currently belong to
//  2. look up the members of those communities (a lookup failure is
//     returned; the member list is not otherwise used)
//  3. re-run hierarchical detection over the full graph, which clears and
//     rebuilds every community, not only the affected ones
//  4. prune communities left with zero members
//
// It returns the records of every community from the full re-run; the run is
// not restricted to the affected entities or their neighbourhood.
func IncrementalCommunityUpdate(ctx context.Context, s *store.Store, affectedEntityIDs []int64, maxLevels int, tolerance float64) ([]store.CommunityRecord, error) {
	if len(affectedEntityIDs) == 0 {
		return nil, nil
	}

	affectedCommunities, err := s.CommunitiesForEntities(ctx, affectedEntityIDs)
	if err != nil {
		return nil, fmt.Errorf("finding affected communities: %w", err)
	}
	if len(affectedCommunities) > 0 {
		if _, err := s.MembersOfCommunities(ctx, affectedCommunities); err != nil {
			return nil, fmt.Errorf("expanding affected community members: %w", err)
		}
	}

	records, err := DetectCommunitiesHierarchical(ctx, s, maxLevels, tolerance)
	if err != nil {
		return nil, err
	}

	pruned, err := s.PruneEmptyCommunities(ctx)
	if err != nil {
		return nil, fmt.Errorf("pruning empty communities: %w", err)
	}
	if pruned > 0 {
		slog.Info("community: pruned empty communities after incremental update", "pruned", pruned)
	}
	return records, nil
}

// communitySummaryResult is the structured LLM output for community
// summarization (orig §4.7): title, prose summary, importance rating and
// explanation, and a list of key themes.
type communitySummaryResult struct {
	Title             string   `json:"title"`
	Summary           string   `json:"summary"`
	Rating            float64  `json:"rating"`
	RatingExplanation string   `json:"rating_explanation"`
	Themes            []string `json:"themes"`
}

const structuredSummaryPrompt = `You are summarizing a community of related entities extracted from technical and industrial documents.

ENTITIES:
%s

%s

Return a JSON object with exactly these keys:
  "title": a short descriptive name for this community
  "summary": 2-4 sentences explaining what connects these entities and their significance
  "rating": a float 0-10 indicating how important this community is to understanding the overall document corpus
  "rating_explanation": one sentence justifying the rating
  "themes": array of short strings naming the key themes

Do NOT include any text outside the JSON object.`

// SummarizeCommunitiesStructured generates structured summaries (orig §4.7)
// for a set of communities, processing leaf (highest-level) communities
// first so that a parent's prompt can fold in its children's summaries.
func SummarizeCommunitiesStructured(ctx context.Context, s *store.Store, chat llm.Provider, records []store.CommunityRecord) error {
	allEntities, err := s.AllEntities(ctx)
	if err != nil {
		return fmt.Errorf("loading entities for summarisation: %w", err)
	}
	entityByID := make(map[int64]store.Entity, len(allEntities))
	for _, e := range allEntities {
		entityByID[e.ID] = e
	}

	byID := make(map[int64]*store.CommunityRecord, len(records))
	childSummaries := make(map[int64][]string)
	sorted := make([]store.CommunityRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level > sorted[j].Level }) // leaves first

	for i := range sorted {
		byID[sorted[i].ID] = &sorted[i]
	}

	for i := range sorted {
		c := &sorted[i]
		var descriptions []string
		for _, eid := range c.EntityIDs {
			e, ok := entityByID[eid]
			if !ok {
				continue
			}
			if e.Description != "" {
				descriptions = append(descriptions, fmt.Sprintf("- %s (%s): %s", e.Name, e.EntityType, e.Description))
			} else {
				descriptions = append(descriptions, fmt.Sprintf("- %s (%s)", e.Name, e.EntityType))
			}
		}
		if len(descriptions) == 0 {
			continue
		}

		var childSection string
		if kids := childSummaries[c.ID]; len(kids) > 0 {
			childSection = "SUB-COMMUNITY SUMMARIES:\n" + strings.Join(kids, "\n")
		}

		prompt := fmt.Sprintf(structuredSummaryPrompt, strings.Join(descriptions, "\n"), childSection)
		resp, err := chat.Chat(ctx, llm.ChatRequest{
			Messages:       []llm.Message{{Role: "user", Content: prompt}},
			Temperature:    0.3,
			ResponseFormat: "json_object",
		})
		if err != nil {
			slog.Warn("community: structured summarization failed", "community_id", c.ID, "error", err)
			continue
		}

		jsonStr, err := extractJSON(resp.Content)
		if err != nil {
			slog.Warn("community: could not extract summary JSON", "community_id", c.ID, "error", err)
			continue
		}
		var result communitySummaryResult
		if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
			slog.Warn("community: could not parse summary JSON", "community_id", c.ID, "error", err)
			continue
		}

		significance := "low"
		if result.Rating >= 7 {
			significance = "high"
		} else if result.Rating >= 4 {
			significance = "medium"
		}

		if err := s.SetCommunitySummary(ctx, c.ID, result.Title, result.Summary, result.Rating, significance, result.Themes); err != nil {
			slog.Warn("community: failed to store structured summary", "community_id", c.ID, "error", err)
			continue
		}

		if c.ParentID != nil {
			childSummaries[*c.ParentID] = append(childSummaries[*c.ParentID], fmt.Sprintf("- %s: %s", result.Title, result.Summary))
		}
	}

	return nil
}
