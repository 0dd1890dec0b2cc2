package types

import "errors"

// Sentinel errors recognized across the engine. Callers classify failures
// with errors.Is; wrapping sites add context with fmt.Errorf("...: %w", err).
var (
	// ErrNotFound means an id has no row. Surfaced with no side effect.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied means a request referenced a user_id that does not
	// own the row. Rejections do not reveal whether the row exists.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidation means a malformed entity or relation (missing name or
	// type, empty endpoint). The offending row is skipped and processing
	// continues.
	ErrValidation = errors.New("validation failed")

	// ErrUpstreamFailure means the LLM or embedder call failed. Extraction
	// degrades to an empty result, embedding to zero-vectors, alignment to
	// the neutral score.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrStorageBusy means a transient busy or read-only database state.
	// Writes retry once before reporting failure.
	ErrStorageBusy = errors.New("storage busy")

	// ErrSchemaDrift means an expected column or table was absent. The store
	// self-migrates by ALTER/CREATE and never drops existing columns.
	ErrSchemaDrift = errors.New("schema drift")

	// ErrDimensionMismatch means the vector index was opened with a different
	// dimension than its contents. The three collections are reset; this is
	// the only automatic destructive action in the engine.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCancelled means an ingestion job was cooperatively aborted between
	// batches. Partially written staging rows remain until ClearStaging.
	ErrCancelled = errors.New("cancellation requested")
)
