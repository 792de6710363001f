// Package resolver implements entity resolution (orig §4.4): deduplicating
// entities of the same type whose names refer to the same real-world thing,
// via a three-tier pipeline of pairwise string similarity, an auto-merge
// confidence threshold, and optional LLM disambiguation for the grey zone.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/brunobiangulo/graphtog/llm"
	"github.com/brunobiangulo/graphtog/store"
)

// Resolver deduplicates entities of like type.
type Resolver struct {
	store *store.Store
	chat  llm.Provider

	similarityThreshold float64 // T_sim: pairs below this are not even candidates
	autoMergeThreshold   float64 // T_auto: pairs at/above this merge without LLM confirmation
	llmMergeThreshold    float64 // T_llm_merge: LLM's own confidence bar to approve a merge
	enableLLM            bool
}

// New builds a Resolver. similarityThreshold/autoMergeThreshold/llmMergeThreshold
// correspond to orig §4.4's T_sim/T_auto/T_llm_merge (defaults 0.85/0.95/0.9).
func New(s *store.Store, chat llm.Provider, similarityThreshold, autoMergeThreshold, llmMergeThreshold float64, enableLLM bool) *Resolver {
	return &Resolver{
		store:                s,
		chat:                 chat,
		similarityThreshold:  similarityThreshold,
		autoMergeThreshold:   autoMergeThreshold,
		llmMergeThreshold:    llmMergeThreshold,
		enableLLM:            enableLLM,
	}
}

// Candidate is a same-type entity pair whose names are similar enough to be
// considered for merging.
type Candidate struct {
	A, B       store.EntityResolution
	Similarity float64
}

// Result summarizes one resolution pass.
type Result struct {
	CandidatesConsidered int
	MergesApplied        int
	LLMCallsMade         int
}

// Run scans all entities, groups same-type candidate pairs above
// similarityThreshold, and merges them (auto-merge above autoMergeThreshold,
// otherwise via LLM disambiguation when enabled) (orig §4.4).
func (r *Resolver) Run(ctx context.Context) (Result, error) {
	var res Result

	entities, err := r.store.AllEntitiesForResolution(ctx)
	if err != nil {
		return res, fmt.Errorf("resolver: loading entities: %w", err)
	}

	byType := make(map[string][]store.EntityResolution)
	for _, e := range entities {
		byType[e.EntityType] = append(byType[e.EntityType], e)
	}

	// merged tracks entity ids already folded into another, so later pairs
	// referencing them are skipped within this pass.
	merged := make(map[int64]bool)

	for _, group := range byType {
		for i := 0; i < len(group); i++ {
			if merged[group[i].ID] {
				continue
			}
			for j := i + 1; j < len(group); j++ {
				if merged[group[j].ID] {
					continue
				}
				sim := nameSimilarity(group[i], group[j])
				if sim < r.similarityThreshold {
					continue
				}
				res.CandidatesConsidered++

				shouldMerge := sim >= r.autoMergeThreshold
				if !shouldMerge && r.enableLLM && r.chat != nil {
					ok, err := r.llmConfirm(ctx, group[i], group[j])
					res.LLMCallsMade++
					if err != nil {
						slog.Warn("resolver: LLM disambiguation failed, skipping pair",
							"a", group[i].Name, "b", group[j].Name, "error", err)
						continue
					}
					shouldMerge = ok
				}
				if !shouldMerge {
					continue
				}

				primary, dup := pickPrimary(group[i], group[j])
				if err := r.store.MergeEntities(ctx, primary.ID, []int64{dup.ID}, ""); err != nil {
					slog.Warn("resolver: merge failed", "primary", primary.Name, "duplicate", dup.Name, "error", err)
					continue
				}
				merged[dup.ID] = true
				res.MergesApplied++
				slog.Info("resolver: merged entities", "primary", primary.Name, "duplicate", dup.Name, "similarity", sim)
			}
		}
	}

	return res, nil
}

// nameSimilarity scores two same-type entities via the best Jaro-Winkler
// match across their name and alias forms (orig §4.4's "string similarity
// over name and aliases").
func nameSimilarity(a, b store.EntityResolution) float64 {
	namesA := append([]string{a.Name}, a.Aliases...)
	namesB := append([]string{b.Name}, b.Aliases...)

	var best float64
	for _, na := range namesA {
		for _, nb := range namesB {
			s := matchr.JaroWinkler(strings.ToLower(na), strings.ToLower(nb), false)
			if s > best {
				best = s
			}
		}
	}
	return best
}

// pickPrimary keeps the higher-mention-count entity as the surviving id,
// breaking ties by lower id (first-seen).
func pickPrimary(a, b store.EntityResolution) (primary, duplicate store.EntityResolution) {
	if b.MentionCount > a.MentionCount {
		return b, a
	}
	if a.MentionCount == b.MentionCount && b.ID < a.ID {
		return b, a
	}
	return a, b
}

const disambiguationPrompt = `Do these two entity records refer to the same real-world thing? Answer with a JSON object: {"same": true|false, "confidence": number between 0 and 1}.

Entity A: name=%q type=%q description=%q
Entity B: name=%q type=%q description=%q`

type disambiguationResponse struct {
	Same       bool    `json:"same"`
	Confidence float64 `json:"confidence"`
}

// llmConfirm asks the chat model to disambiguate a grey-zone pair, approving
// the merge only when it reports same=true at or above llmMergeThreshold
// confidence (orig §4.4's third tier).
func (r *Resolver) llmConfirm(ctx context.Context, a, b store.EntityResolution) (bool, error) {
	prompt := fmt.Sprintf(disambiguationPrompt, a.Name, a.EntityType, a.Description, b.Name, b.EntityType, b.Description)
	resp, err := r.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return false, err
	}

	var parsed disambiguationResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return false, fmt.Errorf("parsing disambiguation response: %w", err)
	}
	return parsed.Same && parsed.Confidence >= r.llmMergeThreshold, nil
}
