// Package resolver turns a free-text Swiss address query into a fully
// enriched building report: candidate search, scoring, registry hydration,
// cross-source enrichment and confidence assessment.
package resolver

// NoMatchError signals that no usable address candidate survived the
// search and hydration stages.
type NoMatchError struct {
	Message string
}

func (e *NoMatchError) Error() string { return e.Message }

// ValidationError signals invalid caller input, such as coordinates outside
// the Swiss coverage bounds.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
