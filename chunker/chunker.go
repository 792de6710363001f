package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/brunobiangulo/graphtog/parser"
	"github.com/brunobiangulo/graphtog/store"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens int // Maximum estimated tokens per chunk.
	Overlap   int // Token overlap between consecutive child chunks.
}

// Chunker converts parsed document sections into store-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 128
	}
	return &Chunker{cfg: cfg}
}

// Chunk converts parsed sections into store chunks with hierarchical
// relationships.  It returns a flat slice where parent-child
// relationships are tracked via ParentChunkID.  The returned chunks use
// position indices as temporary IDs; real database IDs are assigned on
// insert.
func (c *Chunker) Chunk(sections []parser.Section) []store.Chunk {
	var chunks []store.Chunk
	pos := 0
	for _, sec := range sections {
		c.processSection(sec, nil, &chunks, &pos, -1, nil)
	}
	return chunks
}

// ChunkWithSectionMap converts parsed sections into store chunks and returns
// a parallel slice mapping each chunk index to its originating top-level
// section index. This enables callers to associate per-section data (e.g.
// images) with the correct chunk IDs after insertion.
func (c *Chunker) ChunkWithSectionMap(sections []parser.Section) ([]store.Chunk, []int) {
	var chunks []store.Chunk
	var sectionMap []int
	pos := 0
	for i, sec := range sections {
		c.processSection(sec, nil, &chunks, &pos, i, &sectionMap)
	}
	return chunks, sectionMap
}

// processSection recursively converts a parser.Section (and its children)
// into one parent chunk plus zero or more child chunks.
// When sectionIdx >= 0 and sectionMap is non-nil, each chunk's originating
// top-level section index is recorded.
func (c *Chunker) processSection(sec parser.Section, parentPos *int64, chunks *[]store.Chunk, pos *int, sectionIdx int, sectionMap *[]int) {
	// --- parent chunk ---
	parentContent := buildParentContent(sec)
	parentMeta := marshalMetaWithNumbering(sec)
	parentHash := contentHash(parentContent)
	parentIndex := int64(*pos)

	parent := store.Chunk{
		ID:            parentIndex, // temporary, replaced on DB insert
		ParentChunkID: parentPos,
		Content:       parentContent,
		ChunkType:     chunkTypeFromSection(sec),
		Heading:       sec.Heading,
		PageNumber:    sec.PageNumber,
		PositionInDoc: *pos,
		TokenCount:    estimateTokens(parentContent),
		Metadata:      parentMeta,
		ContentHash:   parentHash,
	}
	*chunks = append(*chunks, parent)
	if sectionMap != nil {
		*sectionMap = append(*sectionMap, sectionIdx)
	}
	*pos++

	// --- child chunks from content ---
	if sec.Content != "" {
		fragments := c.splitContent(sec.Content)
		for _, frag := range fragments {
			childHash := contentHash(frag)
			fragType, fragMeta := classifyFragment(sec, frag)
			child := store.Chunk{
				ID:            int64(*pos),
				ParentChunkID: &parentIndex,
				Content:       frag,
				ChunkType:     fragType,
				Heading:       sec.Heading,
				PageNumber:    sec.PageNumber,
				PositionInDoc: *pos,
				TokenCount:    estimateTokens(frag),
				Metadata:      fragMeta,
				ContentHash:   childHash,
			}
			*chunks = append(*chunks, child)
			if sectionMap != nil {
				*sectionMap = append(*sectionMap, sectionIdx)
			}
			*pos++
		}
	}

	// --- recurse into child sections ---
	for _, child := range sec.Children {
		c.processSection(child, &parentIndex, chunks, pos, sectionIdx, sectionMap)
	}
}

// splitContent breaks a section's content into fragments. Tables are
// located with DetectTables/PreserveTableChunks and kept as atomic
// fragments so a table is never split across chunk boundaries; the
// surrounding prose is then run through splitProse.
func (c *Chunker) splitContent(text string) []string {
	var fragments []string
	for _, piece := range PreserveTableChunks(text) {
		if ContentType(piece) == "table" {
			fragments = append(fragments, strings.TrimSpace(piece))
			continue
		}
		fragments = append(fragments, c.splitProse(piece)...)
	}
	return fragments
}

// splitProse breaks a long prose fragment into pieces that each fit
// within MaxTokens. When the fragment contains numbered clauses (as
// contracts and standards documents do), it splits at clause
// boundaries via SplitByClauses and packs whole clauses into each
// fragment up to MaxTokens, so one fragment may hold several clauses;
// otherwise it falls back to blank-line paragraphs. Oversized
// pieces are further split at sentence boundaries, and oversized
// sentences are hard-split by word count. Consecutive
// fragments share an overlap of c.cfg.Overlap tokens worth of trailing
// text from the previous fragment.
func (c *Chunker) splitProse(text string) []string {
	if estimateTokens(text) <= c.cfg.MaxTokens {
		return []string{strings.TrimSpace(text)}
	}

	var paragraphs []string
	if len(DetectClauseBoundaries(text)) > 0 {
		paragraphs = SplitByClauses(text)
	} else {
		paragraphs = splitParagraphs(text)
	}
	var fragments []string
	var current strings.Builder
	currentTokens := 0
	overlapText := ""

	for _, para := range paragraphs {
		paraTokens := estimateTokens(para)

		// If a single paragraph exceeds MaxTokens, split it by sentences.
		if paraTokens > c.cfg.MaxTokens {
			// Flush current buffer first.
			if current.Len() > 0 {
				fragments = append(fragments, strings.TrimSpace(current.String()))
				overlapText = extractOverlap(current.String(), c.cfg.Overlap)
				current.Reset()
				currentTokens = 0
			}
			sentenceFragments := c.splitBySentences(para, overlapText)
			fragments = append(fragments, sentenceFragments...)
			if len(sentenceFragments) > 0 {
				overlapText = extractOverlap(sentenceFragments[len(sentenceFragments)-1], c.cfg.Overlap)
			}
			continue
		}

		// Would adding this paragraph exceed the limit?
		if currentTokens+paraTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlapText = extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			currentTokens = 0

			// Start the new fragment with overlap text.
			if overlapText != "" {
				current.WriteString(overlapText)
				current.WriteString("\n\n")
				currentTokens = estimateTokens(overlapText)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

// splitBySentences breaks a paragraph into fragments at sentence
// boundaries, respecting MaxTokens and prepending overlap from the
// previous fragment.
func (c *Chunker) splitBySentences(text string, initialOverlap string) []string {
	// A sentence longer than MaxTokens is hard-split into runs of words
	// that each fit within MaxTokens.
	var sentences []string
	maxWords := int(float64(c.cfg.MaxTokens) / 1.3)
	for _, s := range splitSentences(text) {
		words := strings.Fields(s)
		for maxWords > 0 && estimateTokens(s) > c.cfg.MaxTokens && len(words) > maxWords {
			sentences = append(sentences, strings.Join(words[:maxWords], " "))
			words = words[maxWords:]
			s = strings.Join(words, " ")
		}
		sentences = append(sentences, s)
	}
	var fragments []string
	var current strings.Builder
	currentTokens := 0

	if initialOverlap != "" {
		current.WriteString(initialOverlap)
		current.WriteString(" ")
		currentTokens = estimateTokens(initialOverlap)
	}

	for _, sent := range sentences {
		sentTokens := estimateTokens(sent)

		if currentTokens+sentTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlap := extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				current.WriteString(" ")
				currentTokens = estimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// estimateTokens approximates the token count of text using a simple
// word-based heuristic: tokens ~ words * 1.3.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// buildParentContent produces the parent chunk body: the heading
// followed by an abbreviated version of the section content (first
// 200 characters).
func buildParentContent(sec parser.Section) string {
	var b strings.Builder
	if sec.Heading != "" {
		b.WriteString(sec.Heading)
		b.WriteString("\n\n")
	}
	content := strings.TrimSpace(sec.Content)
	if len(content) > 200 {
		// Cut at the last space within the first 200 chars to avoid
		// splitting a word.
		idx := strings.LastIndex(content[:200], " ")
		if idx < 0 {
			idx = 200
		}
		content = content[:idx] + "..."
	}
	b.WriteString(content)
	return strings.TrimSpace(b.String())
}

// chunkTypeFromSection maps a section type to a chunk type string.
func chunkTypeFromSection(sec parser.Section) string {
	switch sec.Type {
	case "table":
		return "table"
	case "definition":
		return "definition"
	case "requirement":
		return "requirement"
	case "paragraph":
		return "paragraph"
	default:
		return "section"
	}
}

// childChunkType returns the default chunk type to assign to child
// fragments of a section, used as the baseline before classifyFragment
// refines it against the fragment's own content.
func childChunkType(sec parser.Section) string {
	switch sec.Type {
	case "table":
		return "table"
	case "definition":
		return "definition"
	case "requirement":
		return "requirement"
	default:
		return "paragraph"
	}
}

// classifyFragment determines a child chunk's type and metadata from
// its own content rather than only inheriting the parent section's
// type. Most parsers never set Section.Type to "definition" or
// "requirement" — that classification only becomes possible once the
// fragment text itself is inspected, which is what ContentType and the
// legal/engineering detectors below do. Detected definitions,
// requirements, cross-references, and standards references are
// recorded in the chunk's metadata so graph extraction and retrieval
// can use them without re-scanning the text.
func classifyFragment(sec parser.Section, frag string) (string, string) {
	meta := make(map[string]string, len(sec.Metadata))
	for k, v := range sec.Metadata {
		meta[k] = v
	}

	chunkType := childChunkType(sec)
	if sec.Type == "" || sec.Type == "section" || sec.Type == "paragraph" {
		chunkType = ContentType(frag)
	}

	if num, ok := ExtractClauseNumber(frag); ok {
		meta["clause_number"] = num
		meta["clause_depth"] = strconv.Itoa(ClauseDepth(num))
	}

	if defs := ExtractDefinitions(frag); len(defs) > 0 {
		chunkType = "definition"
		terms := make([]string, len(defs))
		for i, d := range defs {
			terms[i] = d.Term
		}
		meta["defined_terms"] = strings.Join(terms, "; ")
	}

	if IsRequirement(frag) && chunkType != "definition" {
		chunkType = "requirement"
		reqs := DetectRequirements(frag)
		if len(reqs) > 0 {
			meta["requirement_keyword"] = reqs[0].Keyword
			meta["requirement_level"] = reqs[0].Level
		}
	}

	if HasCrossReferences(frag) {
		refs := DetectCrossReferences(frag)
		targets := make([]string, len(refs))
		for i, ref := range refs {
			targets[i] = ref.Type + " " + ref.Target
		}
		meta["cross_references"] = strings.Join(targets, "; ")
	}

	if HasStandardsReference(frag) {
		stds := DetectStandardsReferences(frag)
		names := make([]string, len(stds))
		for i, s := range stds {
			names[i] = s.Standard
		}
		meta["standards_references"] = strings.Join(names, "; ")
	}

	return chunkType, marshalMeta(meta)
}

// splitParagraphs splits text on blank-line boundaries.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences is a simple sentence tokeniser.  It splits on
// period/question-mark/exclamation followed by whitespace or end of
// string, while trying not to split on abbreviations.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			// Look ahead: if next char is whitespace or end of string,
			// treat as sentence boundary (simple heuristic).
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// extractOverlap returns the trailing portion of text whose estimated
// token count is at most maxTokens.  It works at the word level.
func extractOverlap(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	// tokens ~ words * 1.3, so max words ~ maxTokens / 1.3
	maxWords := int(float64(maxTokens) / 1.3)
	if maxWords > len(words) {
		maxWords = len(words)
	}
	if maxWords == 0 {
		return ""
	}
	return strings.Join(words[len(words)-maxWords:], " ")
}

// contentHash returns the SHA-256 hex digest of text.
func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// marshalMetaWithNumbering serialises a section's metadata augmented
// with its hierarchical heading numbering, when its heading carries
// one (e.g. "1.2.3. Termination" in a contract or standard).
func marshalMetaWithNumbering(sec parser.Section) string {
	numbering, ok := DetectNumbering(sec.Heading)
	if !ok {
		return marshalMeta(sec.Metadata)
	}
	meta := make(map[string]string, len(sec.Metadata)+2)
	for k, v := range sec.Metadata {
		meta[k] = v
	}
	meta["heading_numbering"] = numbering
	meta["heading_level"] = strconv.Itoa(NumberingLevel(numbering))
	return marshalMeta(meta)
}

// marshalMeta serialises a metadata map to a JSON string.
// Returns "{}" for nil or empty maps.
func marshalMeta(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
