package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/graphtog/llm"
	"github.com/brunobiangulo/graphtog/store"
)

// estimateTokens approximates token count using a word-based heuristic.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// entityExtractionPrompt is a focused prompt that asks the LLM to extract
// only entities (nouns) from the text. This is a simpler, atomic task
// optimised for 7B-class models.
const entityExtractionPrompt = `You are an entity extraction engine for technical and industrial documents.
Given the following text chunk, extract all entities (nouns: things, standards, parts, people, organisations, concepts).

ENTITY TYPES (use exactly these values):
- person       : a named individual
- organization : a company, body, committee, or institution
- standard     : a published standard (e.g. ISO 9001, EN 1366-1, IEC 61850)
- clause       : a specific clause, section, or article within a standard or regulation
- concept      : an abstract idea, principle, or methodology
- term         : a defined technical term, abbreviation, part number, model number, or identifier
- regulation   : a law, directive, or regulatory framework

Return a JSON object with exactly one key:
  "entities" : array of {"name": string, "type": string, "description": string}

Rules:
- Entity names must be normalised to lowercase.
- Only include entities clearly supported by the text.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

EXAMPLES:

Input: "The AV-FM fire damper complies with EN 1366-2 and is rated for 120VAC operation. Part number E1375 Rev G02."
Output:
{"entities": [{"name": "av-fm", "type": "term", "description": "Fire damper model"}, {"name": "en 1366-2", "type": "standard", "description": "Fire resistance test standard for dampers"}, {"name": "e1375", "type": "term", "description": "Part number for the fire damper"}, {"name": "rev g02", "type": "term", "description": "Revision code G02"}, {"name": "120vac", "type": "term", "description": "Operating voltage specification"}, {"name": "fire damper", "type": "concept", "description": "A device to prevent fire spread through ducts"}]}

Input: "ISO 9001 clause 7.1 requires organisations to determine the resources needed for quality management."
Output:
{"entities": [{"name": "iso 9001", "type": "standard", "description": "Quality management systems standard"}, {"name": "clause 7.1", "type": "clause", "description": "Clause on resource determination in ISO 9001"}, {"name": "quality management", "type": "concept", "description": "Systematic management of quality processes"}]}

Input: "MIL-STD-810 specifies environmental testing at 75 PSIG and 70 dB noise level. Contact John Smith at Belimo Corp."
Output:
{"entities": [{"name": "mil-std-810", "type": "standard", "description": "Military standard for environmental testing"}, {"name": "75 psig", "type": "term", "description": "Pressure specification"}, {"name": "70 db", "type": "term", "description": "Noise level measurement"}, {"name": "john smith", "type": "person", "description": "Contact person"}, {"name": "belimo corp", "type": "organization", "description": "Corporation mentioned in context"}]}

%s
TEXT:
%s`

// relationshipExtractionPrompt is a focused prompt that, given the already-
// extracted entities, asks the LLM to find only relationships (verbs) between
// them. This second atomic call is simpler because the entity set is fixed.
const relationshipExtractionPrompt = `You are a relationship extraction engine for technical and industrial documents.
Given the text and a list of known entities, extract all relationships (verbs connecting entities).

KNOWN ENTITIES:
%s

RELATION TYPES (use exactly these values):
- references   : source mentions or cites target
- defines      : source provides the definition of target
- amends       : source modifies or updates target
- requires     : source mandates or depends on target
- contradicts  : source conflicts with target
- supersedes   : source replaces target

Return a JSON object with exactly one key:
  "relationships" : array of {"source": string, "target": string, "relation_type": string, "description": string, "weight": number}

Rules:
- Source and target must be entity names from the KNOWN ENTITIES list above (lowercase).
- Weight is a float between 0.0 and 1.0 indicating confidence.
- Only include relationships clearly supported by the text.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

EXAMPLES:

Input entities: ["av-fm", "en 1366-2", "e1375"]
Input text: "The AV-FM fire damper complies with EN 1366-2. Part number E1375."
Output:
{"relationships": [{"source": "av-fm", "target": "en 1366-2", "relation_type": "references", "description": "AV-FM complies with EN 1366-2", "weight": 0.95}, {"source": "e1375", "target": "av-fm", "relation_type": "defines", "description": "E1375 is the part number for AV-FM", "weight": 0.9}]}

Input entities: ["iso 9001", "clause 7.1", "quality management"]
Input text: "ISO 9001 clause 7.1 requires organisations to determine the resources needed for quality management."
Output:
{"relationships": [{"source": "iso 9001", "target": "clause 7.1", "relation_type": "defines", "description": "ISO 9001 contains clause 7.1", "weight": 0.95}, {"source": "clause 7.1", "target": "quality management", "relation_type": "requires", "description": "Clause 7.1 requires resources for quality management", "weight": 0.9}]}

Input entities: ["mil-std-810", "mil-std-461"]
Input text: "MIL-STD-810 has been superseded by MIL-STD-461 for electromagnetic testing."
Output:
{"relationships": [{"source": "mil-std-461", "target": "mil-std-810", "relation_type": "supersedes", "description": "MIL-STD-461 replaces MIL-STD-810 for EM testing", "weight": 0.85}]}

TEXT:
%s`

// claimExtractionPrompt asks the LLM to extract fact-like claims binding a
// subject entity to an optional object entity (orig §4.3 step 5 / §3 Claim
// node).
const claimExtractionPrompt = `You are a claim extraction engine for technical and industrial documents.
Given the text and a list of known entities, extract factual claims about them.

KNOWN ENTITIES:
%s

Return a JSON object with exactly one key:
  "claims" : array of {"subject": string, "object": string, "claim_type": string, "status": string, "description": string, "start_date": string, "end_date": string, "source_text": string}

Rules:
- subject must be an entity name from the KNOWN ENTITIES list above.
- object is another entity name, or the literal string "NONE" if the claim has no object entity.
- status must be one of: TRUE, FALSE, SUSPECTED.
- start_date/end_date are ISO 8601 dates, omit (empty string) when not stated.
- source_text is the verbatim sentence the claim was extracted from.
- Only include claims clearly supported by the text.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

TEXT:
%s`

// gleaningContinuationPrompt asks the model whether a prior extraction pass
// missed anything, per orig §4.3's gleaning loop.
const gleaningContinuationPrompt = `MANY entities and relationships were likely missed in the last extraction. Answer YES or ONLY YES if there are more entities or relationships to extract, otherwise answer NO.`

// defaultConcurrency is the default semaphore size for parallel chunk processing.
const defaultConcurrency = 16

// minChunkTokens skips chunks below this threshold (headers, TOC lines, etc.)
const minChunkTokens = 30

// perChunkTimeout caps how long a single chunk extraction can take.
const perChunkTimeout = 90 * time.Second

// ---------------------------------------------------------------------------
// Regex patterns for pre-extracting technical identifiers from text.
// These are fed as hints to the entity extraction prompt so the LLM does not
// miss structured data that 7B models tend to overlook.
// ---------------------------------------------------------------------------
var (
	// Part numbers: E1375, E-1306, PN: XXXXX, PN:XXXXX, P/N XXXXX
	rePartNumber = regexp.MustCompile(`(?i)(?:PN[:\s]*|P/N[:\s]*)?[A-Z]{1,3}[-]?\d{3,6}`)
	// Revision codes: Rev, RevG02, Rev2, Rev.A, Rev 2
	reRevision = regexp.MustCompile(`(?i)Rev\.?\s*[A-Z0-9]{1,5}`)
	// Standards: ISO XXXXX, EN XXXXX, IEC XXXXX, MIL-STD-XXX, ASTM DXXX, IEEE XXX
	reStandard = regexp.MustCompile(`(?i)(?:ISO|EN|IEC|MIL-STD|ASTM|IEEE|NIST|AS|BS)\s*[-]?\s*\d[\w.-]*`)
	// IP addresses: XXX.XXX.XXX.XXX
	reIPAddress = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	// Model numbers: AV-FM, AV-FF, AV-L (2-4 uppercase letters, dash, 1-4 uppercase letters)
	reModelNumber = regexp.MustCompile(`\b[A-Z]{2,4}-[A-Z]{1,4}\b`)
	// Voltage/current specs: 120VAC, 24VDC, 5Vdc, 3.3V
	reVoltage = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*[Vv](?:AC|DC|ac|dc)?\b`)
	// Measurements with units: 75 PSIG, 70 dB, 28 mm, 512 tokens, 100 kPa
	reMeasurement = regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:PSIG|psig|dB|db|mm|cm|m|kg|lb|kPa|MPa|Hz|kHz|MHz|GHz|tokens?|°[CF])\b`)
)

// preExtractIdentifiers uses regex to find technical identifiers in text.
// These are fed as hints to the entity extraction prompt so the LLM does not
// miss structured data that 7B models tend to overlook.
func preExtractIdentifiers(text string) []string {
	seen := make(map[string]bool)
	var identifiers []string

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		key := strings.ToLower(s)
		if !seen[key] {
			seen[key] = true
			identifiers = append(identifiers, s)
		}
	}

	patterns := []*regexp.Regexp{
		reStandard,
		rePartNumber,
		reRevision,
		reIPAddress,
		reModelNumber,
		reVoltage,
		reMeasurement,
	}

	for _, p := range patterns {
		for _, m := range p.FindAllString(text, -1) {
			add(m)
		}
	}

	return identifiers
}

// Builder constructs the knowledge graph from document chunks.
type Builder struct {
	store       *store.Store
	chat        llm.Provider
	embed       llm.Provider
	concurrency int

	maxGleanings int
	limiter      *rateLimiter // nil in concurrent mode; set in batch mode (orig §4.3)
	retryMax     int
	retryBase    float64
}

// NewBuilder creates a new graph builder.
func NewBuilder(s *store.Store, chat, embed llm.Provider, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Builder{
		store:        s,
		chat:         chat,
		embed:        embed,
		concurrency:  concurrency,
		maxGleanings: 1,
		retryMax:     3,
		retryBase:    1.0,
	}
}

// WithGleanings sets the maximum number of additional gleaning passes per
// chunk (orig §4.3's MaxGleanings, default 1).
func (b *Builder) WithGleanings(n int) *Builder {
	if n >= 0 {
		b.maxGleanings = n
	}
	return b
}

// WithRetry configures retry attempts/backoff for transient LLM failures.
func (b *Builder) WithRetry(maxAttempts int, baseSeconds float64) *Builder {
	b.retryMax = maxAttempts
	b.retryBase = baseSeconds
	return b
}

// WithBatchRateLimit switches the builder into serialized batch mode,
// throttled to rpm requests/minute (orig §4.3 batch constraint). Passing
// rpm<=0 removes the rate limit but leaves the concurrency as it is, so an
// earlier call's switch to serialized mode stays in effect.
func (b *Builder) WithBatchRateLimit(rpm int) *Builder {
	if rpm <= 0 {
		b.limiter = nil
		return b
	}
	b.limiter = newRateLimiter(rpm)
	b.concurrency = 1
	return b
}

// Build extracts entities and relationships from chunks and stores them.
// chunks and chunkIDs correspond by index.
func (b *Builder) Build(ctx context.Context, docID int64, chunks []store.Chunk, chunkIDs []int64) error {
	if len(chunks) != len(chunkIDs) {
		return fmt.Errorf("graph.Build: chunks and chunkIDs length mismatch (%d vs %d)", len(chunks), len(chunkIDs))
	}

	// Filter out trivial chunks (headers, TOC entries, etc.)
	type indexedChunk struct {
		chunk   store.Chunk
		chunkID int64
	}
	var eligible []indexedChunk
	for i := range chunks {
		if estimateTokens(chunks[i].Content) < minChunkTokens {
			slog.Debug("graph: skipping trivial chunk", "chunk_id", chunkIDs[i],
				"tokens", estimateTokens(chunks[i].Content))
			continue
		}
		eligible = append(eligible, indexedChunk{chunks[i], chunkIDs[i]})
	}

	if len(eligible) == 0 {
		return nil
	}

	slog.Info("graph: processing chunks", "total", len(chunks), "eligible", len(eligible),
		"skipped", len(chunks)-len(eligible), "concurrency", b.concurrency)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		sem       = make(chan struct{}, b.concurrency)
		errs      []string
		completed int
		buildStart = time.Now()
	)

	total := len(eligible)

	for _, ic := range eligible {
		wg.Add(1)
		go func(chunk store.Chunk, chunkID int64) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				errs = append(errs, fmt.Sprintf("chunk %d: %v", chunkID, ctx.Err()))
				mu.Unlock()
				return
			}

			// Per-chunk timeout to avoid hanging on slow LLM responses.
			chunkCtx, cancel := context.WithTimeout(ctx, perChunkTimeout)
			defer cancel()

			chunkStart := time.Now()
			if err := b.processChunk(chunkCtx, chunk, chunkID); err != nil {
				slog.Warn("graph: chunk failed",
					"chunk_id", chunkID, "error", err,
					"elapsed", time.Since(chunkStart).Round(time.Millisecond))
				mu.Lock()
				errs = append(errs, fmt.Sprintf("chunk %d: %v", chunkID, err))
				completed++
				mu.Unlock()
			} else {
				mu.Lock()
				completed++
				n := completed
				mu.Unlock()
				slog.Info("graph: chunk processed",
					"progress", fmt.Sprintf("%d/%d", n, total),
					"chunk_id", chunkID,
					"elapsed", time.Since(chunkStart).Round(time.Millisecond),
					"total_elapsed", time.Since(buildStart).Round(time.Millisecond))
			}
		}(ic.chunk, ic.chunkID)
	}

	wg.Wait()

	if len(errs) == len(eligible) && len(eligible) > 0 {
		return fmt.Errorf("graph.Build: all %d eligible chunks failed; first error: %s", len(eligible), errs[0])
	}
	if len(errs) > 0 {
		slog.Warn("graph: build completed with failures",
			"succeeded", len(eligible)-len(errs), "failed", len(errs), "total", len(eligible))
	}
	return nil
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON attempts to find a valid JSON object in the LLM response text.
// It handles common LLM quirks: markdown code blocks, text before/after JSON.
func extractJSON(raw string) (string, error) {
	// Strip markdown code blocks first.
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	raw = strings.TrimSpace(raw)

	// If it already starts with '{', try as-is.
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	// Find the first '{' and last '}' to extract the JSON object.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}

	return "", fmt.Errorf("no JSON object found in response")
}

// entityResult is the JSON shape returned by the entity extraction LLM call.
type entityResult struct {
	Entities []ExtractedEntity `json:"entities"`
}

// relationshipResult is the JSON shape returned by the relationship extraction
// LLM call.
type relationshipResult struct {
	Relationships []ExtractedRelationship `json:"relationships"`
}

// claimResult is the JSON shape returned by the claim extraction LLM call.
type claimResult struct {
	Claims []ExtractedClaim `json:"claims"`
}

// extractEntities calls the LLM with a focused entity-only prompt.
// Pre-extracted identifiers are included as hints so the model does not miss
// structured data like part numbers, standards, and measurements.
func (b *Builder) extractEntities(ctx context.Context, chunk store.Chunk) ([]ExtractedEntity, error) {
	identifiers := preExtractIdentifiers(chunk.Content)

	var hintsSection string
	if len(identifiers) > 0 {
		hintsSection = fmt.Sprintf(
			"HINTS: The following identifiers were detected in the text. Make sure to include them as entities:\n%s\n",
			strings.Join(identifiers, ", "),
		)
	}

	prompt := fmt.Sprintf(entityExtractionPrompt, hintsSection, chunk.Content)

	resp, err := b.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("entity extraction llm chat: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing entity extraction result: %w", err)
	}

	var result entityResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("unmarshalling entity extraction result: %w", err)
	}

	return result.Entities, nil
}

// extractRelationships calls the LLM with the known entities and asks it to
// find only relationships (verbs) between them.
func (b *Builder) extractRelationships(ctx context.Context, chunk store.Chunk, entities []ExtractedEntity) ([]ExtractedRelationship, error) {
	if len(entities) < 2 {
		// Need at least two entities to form a relationship.
		return nil, nil
	}

	// Build the entity list for the prompt.
	entityNames := make([]string, 0, len(entities))
	for _, e := range entities {
		name := strings.TrimSpace(strings.ToLower(e.Name))
		if name != "" {
			entityNames = append(entityNames, name)
		}
	}

	entitiesJSON, _ := json.Marshal(entityNames)
	prompt := fmt.Sprintf(relationshipExtractionPrompt, string(entitiesJSON), chunk.Content)

	resp, err := b.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("relationship extraction llm chat: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing relationship extraction result: %w", err)
	}

	var result relationshipResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("unmarshalling relationship extraction result: %w", err)
	}

	return result.Relationships, nil
}

// extractClaims calls the LLM with the known entities and asks it to find
// fact-like claims about them (orig §4.3 step 5).
func (b *Builder) extractClaims(ctx context.Context, chunk store.Chunk, entities []ExtractedEntity) ([]ExtractedClaim, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	entityNames := make([]string, 0, len(entities))
	for _, e := range entities {
		name := strings.TrimSpace(strings.ToLower(e.Name))
		if name != "" {
			entityNames = append(entityNames, name)
		}
	}
	entitiesJSON, _ := json.Marshal(entityNames)
	prompt := fmt.Sprintf(claimExtractionPrompt, string(entitiesJSON), chunk.Content)

	resp, err := b.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("claim extraction llm chat: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing claim extraction result: %w", err)
	}

	var result claimResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("unmarshalling claim extraction result: %w", err)
	}
	return result.Claims, nil
}

// shouldContinueGleaning asks the model whether a prior pass likely missed
// entities or relationships (orig §4.3's gleaning loop continuation check).
func (b *Builder) shouldContinueGleaning(ctx context.Context, chunk store.Chunk) bool {
	resp, err := b.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: chunk.Content},
			{Role: "assistant", Content: "Extraction complete."},
			{Role: "user", Content: gleaningContinuationPrompt},
		},
		Temperature: 0.0,
	})
	if err != nil {
		return false
	}
	ans := strings.ToUpper(strings.TrimSpace(resp.Content))
	return ans == "Y" || ans == "YES"
}

// processChunk orchestrates the extraction pipeline for a single chunk:
// entities and relationships, repeated across gleaning passes until
// maxGleanings is reached or the model reports nothing more to extract, then
// claims, extracted once over the merged entities; it then persists the
// merged, within-chunk-deduplicated result.
func (b *Builder) processChunk(ctx context.Context, chunk store.Chunk, chunkID int64) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	seenEntities := make(map[string]bool)
	seenRelationships := make(map[string]bool)
	var entities []ExtractedEntity
	var relationships []ExtractedRelationship

	for pass := 0; pass <= b.maxGleanings; pass++ {
		var passEntities []ExtractedEntity
		var err error
		if err = withRetry(ctx, b.retryMax, b.retryBase, func() error {
			passEntities, err = b.extractEntities(ctx, chunk)
			return err
		}); err != nil {
			if pass == 0 {
				return fmt.Errorf("step 1 (entities): %w", err)
			}
			break // gleaning pass failures are non-fatal once we have a base result
		}

		newCount := 0
		for _, e := range passEntities {
			key := strings.ToLower(strings.TrimSpace(e.Name)) + "|" + strings.ToLower(strings.TrimSpace(e.Type))
			if strings.TrimSpace(e.Name) == "" || seenEntities[key] {
				continue
			}
			seenEntities[key] = true
			entities = append(entities, e)
			newCount++
		}

		var passRelationships []ExtractedRelationship
		if err := withRetry(ctx, b.retryMax, b.retryBase, func() error {
			passRelationships, err = b.extractRelationships(ctx, chunk, entities)
			return err
		}); err != nil {
			slog.Warn("graph: relationship extraction failed, persisting entities only",
				"chunk_id", chunkID, "error", err)
		} else {
			for _, r := range passRelationships {
				key := strings.ToLower(r.Source) + "|" + strings.ToLower(r.Target) + "|" + strings.ToLower(r.RelationType)
				if seenRelationships[key] {
					continue
				}
				seenRelationships[key] = true
				relationships = append(relationships, r)
				newCount++
			}
		}

		if pass == b.maxGleanings || newCount == 0 {
			break
		}
		if !b.shouldContinueGleaning(ctx, chunk) {
			break
		}
	}

	claims, err := b.extractClaims(ctx, chunk, entities)
	if err != nil {
		slog.Warn("graph: claim extraction failed, persisting entities/relationships only",
			"chunk_id", chunkID, "error", err)
		claims = nil
	}

	result := ExtractionResult{
		Entities:      entities,
		Relationships: relationships,
		Claims:        claims,
	}

	// Build a map from entity name to its stored ID so relationships and
	// claims can reference the correct rows.
	entityIDMap := make(map[string]int64, len(result.Entities))

	for _, e := range result.Entities {
		name := strings.TrimSpace(strings.ToLower(e.Name))
		if name == "" {
			continue
		}
		eType := strings.TrimSpace(strings.ToLower(e.Type))
		if eType == "" {
			eType = EntityConcept
		}

		id, err := b.store.UpsertEntityResolved(ctx, store.Entity{
			Name:        name,
			EntityType:  eType,
			Description: e.Description,
		}, 1.0)
		if err != nil {
			slog.Warn("graph: entity upsert failed, skipping",
				"entity", name, "chunk", chunkID, "error", err)
			continue
		}
		if err := b.store.LinkEntityChunk(ctx, id, chunkID); err != nil {
			slog.Warn("graph: entity-chunk link failed", "entity", name, "chunk", chunkID, "error", err)
		}
		entityIDMap[name] = id
	}

	resolveEntity := func(name string) (int64, bool) {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			return 0, false
		}
		if id, ok := entityIDMap[name]; ok {
			return id, true
		}
		found, err := b.store.GetEntitiesByNames(ctx, []string{name})
		if err != nil || len(found) == 0 {
			return 0, false
		}
		return found[0].ID, true
	}

	for _, r := range result.Relationships {
		srcID, ok := resolveEntity(r.Source)
		if !ok {
			continue
		}
		tgtID, ok := resolveEntity(r.Target)
		if !ok {
			continue
		}
		relType := strings.TrimSpace(strings.ToLower(r.RelationType))
		if !ValidRelationType(relType) {
			slog.Warn("graph: rejecting relationship with invalid relation_type",
				"relation_type", r.RelationType, "chunk", chunkID)
			continue
		}

		weight := r.Weight
		if weight <= 0 {
			weight = 1.0
		}

		chunkIDPtr := &chunkID
		if _, err := b.store.InsertRelationship(ctx, store.Relationship{
			SourceEntityID: srcID,
			TargetEntityID: tgtID,
			RelationType:   relType,
			Weight:         weight,
			Description:    r.Description,
			SourceChunkID:  chunkIDPtr,
		}); err != nil {
			slog.Warn("graph: relationship insert failed, skipping",
				"source", r.Source, "target", r.Target, "error", err)
			continue
		}
	}

	for _, c := range result.Claims {
		subjectID, ok := resolveEntity(c.Subject)
		if !ok {
			continue
		}
		var objectID int64
		if strings.ToUpper(strings.TrimSpace(c.Object)) != "NONE" && c.Object != "" {
			if id, ok := resolveEntity(c.Object); ok {
				objectID = id
			}
		}

		claim := store.Claim{
			Subject:     c.Subject,
			Object:      c.Object,
			ClaimType:   c.ClaimType,
			Status:      c.Status,
			Description: c.Description,
			StartDate:   c.StartDate,
			EndDate:     c.EndDate,
			SourceText:  c.SourceText,
		}
		if claim.Status == "" {
			claim.Status = "SUSPECTED"
		}
		if _, err := b.store.CreateClaim(ctx, claim, subjectID, objectID, chunkID); err != nil {
			slog.Warn("graph: claim insert failed, skipping", "subject", c.Subject, "error", err)
		}
	}

	return nil
}
