package admission

import "context"

// Stage is a single step in the admission pipeline.
type Stage interface {
	// Name returns the stage name for logging.
	Name() string

	// Evaluate inspects the request context and may set a deny verdict,
	// halting the pipeline. Returning an error aborts the pipeline.
	Evaluate(ctx context.Context, rc *RequestContext) error
}
