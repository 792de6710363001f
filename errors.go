package graphtog

import "errors"

var (
	// ErrDocumentNotFound is returned by Update when no document is stored
	// for the given path.
	ErrDocumentNotFound = errors.New("graphtog: document not found")

	// ErrDocumentExists marks an attempt to ingest a duplicate path. Ingest
	// does not return it: re-ingesting a path updates the existing document.
	ErrDocumentExists = errors.New("graphtog: document already exists")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("graphtog: unsupported document format")

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("graphtog: parsing failed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("graphtog: embedding generation failed")

	// The sentinels below, apart from ErrNoResults, are defined for
	// classifying failures with errors.Is; no package in this module
	// currently returns or wraps them.

	// ErrLLMUnavailable marks an unreachable LLM provider.
	ErrLLMUnavailable = errors.New("graphtog: LLM provider unavailable")

	// ErrLLMRequestFailed marks a failed LLM request.
	ErrLLMRequestFailed = errors.New("graphtog: LLM request failed")

	// ErrStoreClosed marks an operation on a closed store.
	ErrStoreClosed = errors.New("graphtog: store is closed")

	// ErrNoResults is returned when retrieval yields no matching chunks.
	ErrNoResults = errors.New("graphtog: no results found")

	// ErrLowConfidence marks an answer whose confidence is below threshold.
	ErrLowConfidence = errors.New("graphtog: answer confidence below threshold")

	// ErrInvalidConfig marks invalid configuration values.
	ErrInvalidConfig = errors.New("graphtog: invalid configuration")

	// ErrVisionRequired marks a document that requires vision processing
	// when no vision provider is configured.
	ErrVisionRequired = errors.New("graphtog: vision provider required for this document")

	// ErrExternalParserRequired marks a legacy format that needs an
	// external parsing service that is not configured.
	ErrExternalParserRequired = errors.New("graphtog: external parser required for legacy format")

	// Error taxonomy additions (orig spec §7), for wrapping with
	// fmt.Errorf("...: %w", ErrX) and classifying with errors.Is. Like the
	// sentinels above, none of them is returned or wrapped by this module.

	// ErrValidation marks bad input: unknown ids, malformed queries, invalid
	// enum values. Never retried.
	ErrValidation = errors.New("graphtog: validation error")

	// ErrTransientBackend marks an LLM/embedder/store failure (timeout, 5xx,
	// rate limit) that is eligible for exponential-backoff retry.
	ErrTransientBackend = errors.New("graphtog: transient backend error")

	// ErrConfiguration marks a missing API key or unknown model. Never
	// retried; surfaced immediately.
	ErrConfiguration = errors.New("graphtog: configuration error")

	// ErrParseFailure marks malformed LLM output. The offending record is
	// discarded; partial results from the same call are retained.
	ErrParseFailure = errors.New("graphtog: LLM output parse failure")

	// ErrNoEntitiesFound marks a query for which no candidate entities
	// match (status "no_entities_found").
	ErrNoEntitiesFound = errors.New("graphtog: no matching entities found")

	// ErrDelimiterCollision marks an extracted record field that contains
	// the configured tuple/record delimiter (orig §9).
	ErrDelimiterCollision = errors.New("graphtog: extracted field contains delimiter character")
)
