package rules

import "context"

// Engine is the interface for signature evaluation backends.
type Engine interface {
	// Evaluate checks a request against the loaded signature set.
	Evaluate(ctx context.Context, input *EvalInput) (*EvalResult, error)

	// Reload reloads signatures from the source (file, remote, etc.).
	Reload(ctx context.Context) error
}
