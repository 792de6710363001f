// Package tog implements the Tree-of-Graphs multi-hop reasoning engine
// (orig §4.10): it answers relational questions by iteratively expanding a
// frontier of topic entities along the most promising relations, bounded by
// search width/depth and an optional LLM sufficiency check.
package tog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/brunobiangulo/graphtog/llm"
	"github.com/brunobiangulo/graphtog/pruner"
	"github.com/brunobiangulo/graphtog/store"
)

// Config holds ToG engine parameters (orig §4.10's Configuration list).
type Config struct {
	SearchWidth            int     // W: relations retained per depth
	SearchDepth            int     // D: max hops
	NumRetainEntity        int     // R: entities carried to the next depth
	PruningMethod          string  // llm | bm25 | embedding
	EnableSufficiencyCheck bool
	ExplorationTemp        float64
	ReasoningTemp          float64
}

// Triplet is one recorded hop in the reasoning path.
type Triplet struct {
	Subject    string  `json:"subject"`
	Relation   string  `json:"relation"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"` // "depth_N"
}

// Step is a human-readable record of one exploration action, for replay and
// UI display.
type Step struct {
	Depth  int    `json:"depth"`
	Action string `json:"action"`
	Detail string `json:"detail"`
}

// Answer is the ToG engine's final output.
type Answer struct {
	Answer           string    `json:"answer"`
	Confidence       float64   `json:"confidence"`
	ReasoningSummary string    `json:"reasoning_summary"`
	ReasoningPath     []Step    `json:"reasoning_path"`
	Triplets          []Triplet `json:"triplets"`
	EntitiesExplored  []string  `json:"entities_explored"`
}

// Engine runs the ToG algorithm against a graph store.
type Engine struct {
	store  *store.Store
	chat   llm.Provider
	embed  llm.Provider
	cfg    Config
	scorer pruner.Scorer
}

// New builds a ToG engine with the given configuration.
func New(s *store.Store, chat, embed llm.Provider, cfg Config) *Engine {
	if cfg.SearchWidth <= 0 {
		cfg.SearchWidth = 3
	}
	if cfg.SearchDepth <= 0 {
		cfg.SearchDepth = 3
	}
	if cfg.NumRetainEntity <= 0 {
		cfg.NumRetainEntity = 5
	}
	return &Engine{
		store:  s,
		chat:   chat,
		embed:  embed,
		cfg:    cfg,
		scorer: pruner.New(cfg.PruningMethod, chat, embed),
	}
}

// topicEntity is a grounded starting point for exploration.
type topicEntity struct {
	Name     string
	Type     string
	Desc     string
	Snippets []string
}

// Reason answers a multi-hop question via iterative relation/entity
// expansion (orig §4.10's Algorithm). documentIDs restricts topic grounding
// and expansion to a document subset; pass nil for the whole corpus.
func (e *Engine) Reason(ctx context.Context, question string, documentIDs []int64) (*Answer, error) {
	topics, err := e.groundTopics(ctx, question, documentIDs)
	if err != nil || len(topics) == 0 {
		slog.Warn("tog: topic grounding failed or empty", "error", err)
		return &Answer{
			Answer:     "insufficient information to answer this question",
			Confidence: 0.1,
		}, nil
	}

	explored := make(map[string]bool)
	exploredRelations := make(map[string]bool)
	var triplets []Triplet
	var path []Step

	frontier := make([]string, 0, len(topics))
	for _, t := range topics {
		frontier = append(frontier, t.Name)
		explored[t.Name] = true
	}

	for depth := 1; depth <= e.cfg.SearchDepth; depth++ {
		relFreqs, err := e.store.RelationTypesIncidentTo(ctx, frontier, 0.3, 50)
		if err != nil {
			slog.Warn("tog: relation discovery failed", "depth", depth, "error", err)
			break
		}
		var candidateRelations []pruner.Candidate
		for _, rf := range relFreqs {
			if exploredRelations[rf.RelationType] {
				continue
			}
			candidateRelations = append(candidateRelations, pruner.Candidate{
				ID:   rf.RelationType,
				Text: fmt.Sprintf("relation %q (seen %d times among %s)", rf.RelationType, rf.Frequency, strings.Join(frontier, ", ")),
			})
		}
		if len(candidateRelations) == 0 {
			path = append(path, Step{Depth: depth, Action: "relation_discovery", Detail: "no new relation types found"})
			break
		}

		scoredRelations, err := e.scorer.Score(ctx, question, candidateRelations, e.cfg.SearchWidth)
		if err != nil || len(scoredRelations) == 0 {
			slog.Warn("tog: relation scoring failed", "depth", depth, "error", err)
			break
		}

		var newFrontier []string
		for _, sr := range scoredRelations {
			relType := sr.ID
			exploredRelations[relType] = true

			expansions, err := e.store.ExpandRelation(ctx, frontier, relType, documentIDs, 20)
			if err != nil || len(expansions) == 0 {
				continue
			}

			var target store.RelationExpansion
			if len(expansions) == 1 {
				target = expansions[0]
			} else {
				candidates := make([]pruner.Candidate, len(expansions))
				for i, ex := range expansions {
					candidates[i] = pruner.Candidate{
						ID:   fmt.Sprintf("%d", ex.TargetID),
						Text: fmt.Sprintf("%s (%s)", ex.TargetName, ex.TargetType),
					}
				}
				scored, err := e.scorer.Score(ctx, question, candidates, len(candidates))
				if err != nil || len(scored) == 0 {
					target = expansions[0]
				} else {
					byID := make(map[string]store.RelationExpansion, len(expansions))
					for _, ex := range expansions {
						byID[fmt.Sprintf("%d", ex.TargetID)] = ex
					}
					picked := false
					for _, s := range scored {
						if ex, ok := byID[s.ID]; ok && !explored[ex.TargetName] {
							target = ex
							picked = true
							break
						}
					}
					if !picked {
						continue
					}
				}
			}
			if explored[target.TargetName] {
				continue
			}

			triplets = append(triplets, Triplet{
				Subject:    target.SourceName,
				Relation:   relType,
				Object:     target.TargetName,
				Confidence: target.Confidence,
				Source:     fmt.Sprintf("depth_%d", depth),
			})
			path = append(path, Step{
				Depth:  depth,
				Action: "entity_expansion",
				Detail: fmt.Sprintf("%s --[%s]--> %s", target.SourceName, relType, target.TargetName),
			})
			explored[target.TargetName] = true
			newFrontier = append(newFrontier, target.TargetName)
		}

		if len(newFrontier) == 0 {
			break
		}

		if e.cfg.EnableSufficiencyCheck {
			sufficient, err := e.checkSufficiency(ctx, question, triplets)
			if err != nil {
				slog.Warn("tog: sufficiency check failed", "depth", depth, "error", err)
			} else if sufficient {
				path = append(path, Step{Depth: depth, Action: "sufficiency_gate", Detail: "sufficient evidence reached"})
				break
			}
		}

		if len(newFrontier) > e.cfg.NumRetainEntity {
			newFrontier = newFrontier[:e.cfg.NumRetainEntity]
		}
		frontier = newFrontier
	}

	answer, err := e.synthesize(ctx, question, path, triplets, explored)
	if err != nil {
		slog.Warn("tog: answer synthesis failed", "error", err)
		return &Answer{
			Answer:           "insufficient information to answer this question",
			Confidence:       0.1,
			ReasoningPath:    path,
			Triplets:         triplets,
			EntitiesExplored: explodeKeys(explored),
		}, nil
	}
	answer.ReasoningPath = path
	answer.Triplets = triplets
	answer.EntitiesExplored = explodeKeys(explored)
	return answer, nil
}

func explodeKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const topicGroundingPrompt = `Given the question, select the entity names from the list below that are most relevant as starting points for answering it.

QUESTION: %s

ENTITY NAMES:
%s

Return a JSON object: {"entities": [string, ...]}. Only use names from the list above. Do NOT include any text outside the JSON object.`

type topicGroundingResult struct {
	Entities []string `json:"entities"`
}

// groundTopics selects topic entities per orig §4.10.1: ask the LLM to pick
// from the top entity names by mention_count, falling back to fuzzy
// (Ratcliff/Obershelp) matching of question tokens against entity names.
func (e *Engine) groundTopics(ctx context.Context, question string, documentIDs []int64) ([]topicEntity, error) {
	candidates, err := e.store.AllEntityNamesByMentionCount(ctx, 1000, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("loading candidate entities: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	names := make([]string, len(candidates))
	byName := make(map[string]store.Entity, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
		byName[c.Name] = c
	}

	var selected []string
	if e.chat != nil {
		prompt := fmt.Sprintf(topicGroundingPrompt, question, strings.Join(names, ", "))
		resp, err := e.chat.Chat(ctx, llm.ChatRequest{
			Messages:       []llm.Message{{Role: "user", Content: prompt}},
			Temperature:    e.cfg.ExplorationTemp,
			ResponseFormat: "json_object",
		})
		if err == nil {
			var result topicGroundingResult
			if json.Unmarshal([]byte(extractJSON(resp.Content)), &result) == nil {
				for _, n := range result.Entities {
					if _, ok := byName[n]; ok {
						selected = append(selected, n)
					}
				}
			}
		}
	}

	if len(selected) == 0 {
		selected = fuzzyMatchTokens(question, names, 0.8)
	}

	var topics []topicEntity
	for _, n := range selected {
		e2 := byName[n]
		snippets, _ := e.store.MentionSnippets(ctx, n, 3)
		topics = append(topics, topicEntity{Name: e2.Name, Type: e2.EntityType, Desc: e2.Description, Snippets: snippets})
	}
	return topics, nil
}

// fuzzyMatchTokens matches every whitespace-delimited token of the question
// against the candidate entity names via Ratcliff/Obershelp similarity,
// returning names scoring at or above threshold (orig §4.10.1 fallback).
func fuzzyMatchTokens(question string, names []string, threshold float64) []string {
	tokens := strings.Fields(strings.ToLower(question))
	var matched []string
	seen := make(map[string]bool)
	for _, tok := range tokens {
		for _, n := range names {
			if seen[n] {
				continue
			}
			if matchr.RatcliffObershelp(tok, strings.ToLower(n)) >= threshold {
				matched = append(matched, n)
				seen[n] = true
			}
		}
	}
	return matched
}

const sufficiencyPrompt = `Given the question and the facts gathered so far, is there enough information to answer the question?

QUESTION: %s

FACTS:
%s

Return a JSON object: {"sufficient": true|false}. Do NOT include any text outside the JSON object.`

type sufficiencyResult struct {
	Sufficient bool `json:"sufficient"`
}

func (e *Engine) checkSufficiency(ctx context.Context, question string, triplets []Triplet) (bool, error) {
	if e.chat == nil {
		return false, nil
	}
	var lines []string
	for _, t := range triplets {
		lines = append(lines, fmt.Sprintf("- %s --[%s]--> %s", t.Subject, t.Relation, t.Object))
	}
	prompt := fmt.Sprintf(sufficiencyPrompt, question, strings.Join(lines, "\n"))
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return false, err
	}
	var result sufficiencyResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil {
		return false, err
	}
	return result.Sufficient, nil
}

const answerSynthesisPrompt = `Answer the question using the reasoning path and context snippets below.

QUESTION: %s

REASONING PATH:
%s

CONTEXT:
%s

Return a JSON object: {"answer": string, "confidence": number between 0 and 1, "reasoning_summary": string}. Do NOT include any text outside the JSON object.`

type synthesisResult struct {
	Answer           string  `json:"answer"`
	Confidence       float64 `json:"confidence"`
	ReasoningSummary string  `json:"reasoning_summary"`
}

// synthesize assembles the human-readable path and context snippets and
// asks the LLM for a final answer (orig §4.10.3).
func (e *Engine) synthesize(ctx context.Context, question string, path []Step, triplets []Triplet, explored map[string]bool) (*Answer, error) {
	var pathLines []string
	for _, t := range triplets {
		pathLines = append(pathLines, fmt.Sprintf("%s --[%s]--> %s", t.Subject, t.Relation, t.Object))
	}

	var contextLines []string
	count := 0
	for name := range explored {
		if count >= 5 {
			break
		}
		snippets, err := e.store.MentionSnippets(ctx, name, 1)
		if err != nil || len(snippets) == 0 {
			continue
		}
		contextLines = append(contextLines, snippets[0])
		count++
	}

	prompt := fmt.Sprintf(answerSynthesisPrompt, question, strings.Join(pathLines, "\n"), strings.Join(contextLines, "\n"))
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    e.cfg.ReasoningTemp,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, err
	}

	var result synthesisResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil {
		return nil, fmt.Errorf("parsing synthesis result: %w", err)
	}
	return &Answer{
		Answer:           result.Answer,
		Confidence:       result.Confidence,
		ReasoningSummary: result.ReasoningSummary,
	}, nil
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

func extractJSON(raw string) string {
	if m := codeFenceRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
