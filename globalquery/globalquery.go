// Package globalquery implements the community-based map-reduce query
// engine (orig §4.9): broad, corpus-wide questions are answered by scoring
// every community summary against the question in batches (map), then
// combining the batch outputs into one answer (reduce). When the corpus has
// too few communities to benefit from batching, it falls back to a single
// LLM call over the top-rated community summaries.
package globalquery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/brunobiangulo/graphtog/llm"
	"github.com/brunobiangulo/graphtog/store"
)

// Config controls the map-reduce thresholds and batch sizing.
type Config struct {
	MapReduceThreshold int  // T_mr: minimum community count to use map-reduce
	BatchSize          int  // B: communities per map batch
	FallbackTopK       int  // K: communities used by the single-call fallback
	EnableMapReduce    bool
}

// DefaultConfig returns orig §4.9's default thresholds.
func DefaultConfig() Config {
	return Config{
		MapReduceThreshold: 20,
		BatchSize:          10,
		FallbackTopK:       10,
		EnableMapReduce:    true,
	}
}

// Answer is the global query engine's final output.
type Answer struct {
	Answer               string   `json:"answer"`
	KeyInsights          []string `json:"key_insights"`
	SupportingCommunities []int64 `json:"supporting_communities"`
	ConfidenceScore      float64  `json:"confidence_score"`
	Limitations          string   `json:"limitations"`
	UsedMapReduce        bool     `json:"used_map_reduce"`
	BatchesProcessed     int      `json:"batches_processed"`
}

// Engine answers corpus-wide questions over community summaries.
type Engine struct {
	store *store.Store
	chat  llm.Provider
	cfg   Config
}

// New builds a global query engine.
func New(s *store.Store, chat llm.Provider, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.FallbackTopK <= 0 {
		cfg.FallbackTopK = 10
	}
	if cfg.MapReduceThreshold <= 0 {
		cfg.MapReduceThreshold = 20
	}
	return &Engine{store: s, chat: chat, cfg: cfg}
}

// Query answers a corpus-wide question, auto-selecting map-reduce or the
// single-call fallback per orig §4.9.
func (e *Engine) Query(ctx context.Context, question string) (*Answer, error) {
	communities, err := e.store.AllCommunitiesWithSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading community summaries: %w", err)
	}
	if len(communities) == 0 {
		return &Answer{
			Answer:          "no community summaries are available to answer this question",
			ConfidenceScore: 0.1,
			Limitations:     "the corpus has not been summarized yet",
		}, nil
	}

	if e.cfg.EnableMapReduce && len(communities) >= e.cfg.MapReduceThreshold {
		return e.mapReduce(ctx, question, communities)
	}
	return e.fallback(ctx, question, communities)
}

// batchResult is the map phase's structured output per batch (orig §4.9).
type batchResult struct {
	RelevantCommunities []int64  `json:"relevant_communities"`
	Summary             string   `json:"summary"`
	KeyPoints           []string `json:"key_points"`
	Confidence          float64  `json:"confidence"`
}

const mapPrompt = `Given the question and the following community summaries, identify which communities are relevant and summarize what they reveal about the question.

QUESTION: %s

COMMUNITIES:
%s

Return a JSON object: {"relevant_communities": [int, ...], "summary": string, "key_points": [string, ...], "confidence": number between 0 and 1}. Community ids must come from the list above. Do NOT include any text outside the JSON object.`

const reducePrompt = `Combine the following partial findings into one final answer to the question.

QUESTION: %s

PARTIAL FINDINGS:
%s

Return a JSON object: {"answer": string, "key_insights": [string, ...], "confidence_score": number between 0 and 1, "limitations": string}. Do NOT include any text outside the JSON object.`

type reduceResult struct {
	Answer          string   `json:"answer"`
	KeyInsights     []string `json:"key_insights"`
	ConfidenceScore float64  `json:"confidence_score"`
	Limitations     string   `json:"limitations"`
}

// mapReduce batches communities into groups of cfg.BatchSize, scores each
// batch against the question independently (map), then combines every
// batch's findings into one answer (reduce).
func (e *Engine) mapReduce(ctx context.Context, question string, communities []store.CommunityRecord) (*Answer, error) {
	var batches [][]store.CommunityRecord
	for i := 0; i < len(communities); i += e.cfg.BatchSize {
		end := i + e.cfg.BatchSize
		if end > len(communities) {
			end = len(communities)
		}
		batches = append(batches, communities[i:end])
	}

	var results []batchResult
	supporting := make(map[int64]bool)
	for i, batch := range batches {
		res, err := e.scoreBatch(ctx, question, batch)
		if err != nil {
			slog.Warn("globalquery: map batch failed", "batch", i, "error", err)
			continue
		}
		if res.Confidence <= 0 {
			continue
		}
		results = append(results, res)
		for _, id := range res.RelevantCommunities {
			supporting[id] = true
		}
	}

	if len(results) == 0 {
		return &Answer{
			Answer:          "no relevant information found across communities",
			ConfidenceScore: 0.1,
			Limitations:     "map phase produced no relevant batches",
			UsedMapReduce:   true,
			BatchesProcessed: len(batches),
		}, nil
	}

	var findingLines []string
	for _, r := range results {
		findingLines = append(findingLines, fmt.Sprintf("- %s (confidence %.2f): %s", r.Summary, r.Confidence, strings.Join(r.KeyPoints, "; ")))
	}

	prompt := fmt.Sprintf(reducePrompt, question, strings.Join(findingLines, "\n"))
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.2,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("reduce phase: %w", err)
	}

	var rr reduceResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &rr); err != nil {
		return nil, fmt.Errorf("parsing reduce result: %w", err)
	}

	supportingIDs := make([]int64, 0, len(supporting))
	for id := range supporting {
		supportingIDs = append(supportingIDs, id)
	}
	sort.Slice(supportingIDs, func(i, j int) bool { return supportingIDs[i] < supportingIDs[j] })

	return &Answer{
		Answer:                rr.Answer,
		KeyInsights:           rr.KeyInsights,
		SupportingCommunities: supportingIDs,
		ConfidenceScore:       rr.ConfidenceScore,
		Limitations:           rr.Limitations,
		UsedMapReduce:         true,
		BatchesProcessed:      len(batches),
	}, nil
}

func (e *Engine) scoreBatch(ctx context.Context, question string, batch []store.CommunityRecord) (batchResult, error) {
	var lines []string
	for _, c := range batch {
		lines = append(lines, fmt.Sprintf("- id=%d: %s", c.ID, c.Summary))
	}
	prompt := fmt.Sprintf(mapPrompt, question, strings.Join(lines, "\n"))

	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.2,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return batchResult{}, err
	}

	var res batchResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &res); err != nil {
		return batchResult{}, fmt.Errorf("parsing map batch result: %w", err)
	}
	return res, nil
}

const fallbackPrompt = `Answer the question using the following community summaries, which cover the most significant topics in the corpus.

QUESTION: %s

COMMUNITY SUMMARIES:
%s

Return a JSON object: {"answer": string, "key_insights": [string, ...], "confidence_score": number between 0 and 1, "limitations": string}. Do NOT include any text outside the JSON object.`

// fallback concatenates the top-rated community summaries into one context
// and asks a single LLM call for an answer, used when map-reduce is
// disabled or the corpus has fewer than MapReduceThreshold communities.
func (e *Engine) fallback(ctx context.Context, question string, communities []store.CommunityRecord) (*Answer, error) {
	top := communities
	if len(top) > e.cfg.FallbackTopK {
		top = top[:e.cfg.FallbackTopK]
	}

	var lines []string
	var supporting []int64
	for _, c := range top {
		lines = append(lines, fmt.Sprintf("- %s", c.Summary))
		supporting = append(supporting, c.ID)
	}

	prompt := fmt.Sprintf(fallbackPrompt, question, strings.Join(lines, "\n"))
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.2,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("fallback query: %w", err)
	}

	var rr reduceResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &rr); err != nil {
		return nil, fmt.Errorf("parsing fallback result: %w", err)
	}

	return &Answer{
		Answer:                rr.Answer,
		KeyInsights:           rr.KeyInsights,
		SupportingCommunities: supporting,
		ConfidenceScore:       rr.ConfidenceScore,
		Limitations:           rr.Limitations,
		UsedMapReduce:         false,
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
