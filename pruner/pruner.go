// Package pruner implements the three relation/entity pruning strategies
// the Tree-of-Graphs reasoning engine chooses between at each exploration
// depth (orig §4.10, §11 PruningMethod): "llm" asks the chat model to rank
// candidates directly, "bm25" scores them against the query with classic
// BM25 term statistics, and "embedding" scores them by cosine similarity in
// embedding space — the module's own llm.Provider.Embed backend standing in
// for a dedicated sentence-embedding model, since the example pack carries
// no such library (see design notes).
package pruner

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/brunobiangulo/graphtog/llm"
)

// Candidate is one relation or entity under consideration for expansion.
type Candidate struct {
	ID   string // stable identifier (e.g. "entityID:relationType")
	Text string // human-readable form scored against the query
}

// Scored pairs a Candidate with its relevance score (higher is better).
type Scored struct {
	Candidate
	Score float64
}

// Scorer ranks candidates by relevance to a query and returns the top n.
type Scorer interface {
	Score(ctx context.Context, query string, candidates []Candidate, topN int) ([]Scored, error)
}

// New constructs the Scorer named by method ("llm", "bm25", or "embedding"),
// defaulting to "bm25" for an unrecognized name since it requires no model
// backend and always degrades gracefully.
func New(method string, chat, embed llm.Provider) Scorer {
	switch method {
	case "llm":
		return &LLMScorer{chat: chat}
	case "embedding":
		return &EmbeddingScorer{embed: embed}
	default:
		return &BM25Scorer{}
	}
}

// --- LLM scorer ---------------------------------------------------------

// LLMScorer asks the chat model to rank candidates directly, per orig
// §4.10's "llm" pruning method.
type LLMScorer struct {
	chat llm.Provider
}

const llmRankPrompt = `Given the question, rank the following candidates by how likely each is to help answer it. Return a JSON object:
  {"ranked": [{"id": string, "score": number between 0 and 1}]}

QUESTION: %s

CANDIDATES:
%s

Only include candidates from the list above. Do NOT include any text outside the JSON object.`

type llmRankResult struct {
	Ranked []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"ranked"`
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

func (s *LLMScorer) Score(ctx context.Context, query string, candidates []Candidate, topN int) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var lines []string
	for _, c := range candidates {
		lines = append(lines, fmt.Sprintf("- id=%s text=%q", c.ID, c.Text))
	}
	prompt := fmt.Sprintf(llmRankPrompt, query, strings.Join(lines, "\n"))

	resp, err := s.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("llm pruning: %w", err)
	}

	var result llmRankResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil {
		return nil, fmt.Errorf("parsing llm pruning result: %w", err)
	}

	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	var scored []Scored
	for _, r := range result.Ranked {
		c, ok := byID[r.ID]
		if !ok {
			continue
		}
		scored = append(scored, Scored{Candidate: c, Score: r.Score})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return truncate(scored, topN), nil
}

// --- BM25 scorer ---------------------------------------------------------

// BM25Scorer scores candidates against the query using classic Okapi BM25
// term statistics computed over the candidate set itself (orig §4.10's
// "bm25" pruning method) — there is no larger corpus to index at this
// point in the search, only the local set of relation/entity candidates.
type BM25Scorer struct{}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

func (s *BM25Scorer) Score(_ context.Context, query string, candidates []Candidate, topN int) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	queryTerms := tokenize(query)
	docs := make([][]string, len(candidates))
	avgLen := 0.0
	for i, c := range candidates {
		docs[i] = tokenize(c.Text)
		avgLen += float64(len(docs[i]))
	}
	avgLen /= float64(len(docs))

	df := make(map[string]int)
	for _, d := range docs {
		seen := make(map[string]bool)
		for _, t := range d {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	n := float64(len(docs))

	idf := func(term string) float64 {
		d := float64(df[term])
		return math.Log(1 + (n-d+0.5)/(d+0.5))
	}

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		tf := make(map[string]int)
		for _, t := range docs[i] {
			tf[t]++
		}
		docLen := float64(len(docs[i]))

		var score float64
		for _, qt := range queryTerms {
			f := float64(tf[qt])
			if f == 0 {
				continue
			}
			score += idf(qt) * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*docLen/avgLen))
		}
		scored[i] = Scored{Candidate: c, Score: score}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return truncate(scored, topN), nil
}

// --- Embedding-based scorer ----------------------------------------------

// EmbeddingScorer scores candidates by cosine similarity between the
// query's embedding and each candidate's embedding, computed via the
// module's own embedding backend (orig §4.10's "sentence-transformer"
// pruning method, reimagined on llm.Provider.Embed — see design notes).
type EmbeddingScorer struct {
	embed llm.Provider
}

func (s *EmbeddingScorer) Score(ctx context.Context, query string, candidates []Candidate, topN int) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, c := range candidates {
		texts = append(texts, c.Text)
	}

	vecs, err := s.embed.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding pruning: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding pruning: expected %d vectors, got %d", len(texts), len(vecs))
	}

	queryVec := vecs[0]
	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = Scored{Candidate: c, Score: cosineSimilarity(queryVec, vecs[i+1])}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return truncate(scored, topN), nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func truncate(scored []Scored, topN int) []Scored {
	if topN > 0 && len(scored) > topN {
		return scored[:topN]
	}
	return scored
}
