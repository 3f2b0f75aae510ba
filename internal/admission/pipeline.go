package admission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgegate/edgegate/api"
)

// Pipeline executes admission stages in a fixed order, short-circuiting
// on the first deny: the denying stage's verdict is returned unchanged
// and later stages never run.
type Pipeline struct {
	stages []Stage
	logger *slog.Logger
}

// NewPipeline creates a pipeline over the given stages.
func NewPipeline(logger *slog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{
		stages: stages,
		logger: logger,
	}
}

// Evaluate runs the request through every stage until one denies. A nil
// error with an allow verdict means every stage allowed.
func (p *Pipeline) Evaluate(ctx context.Context, rc *RequestContext) (api.Verdict, error) {
	for _, s := range p.stages {
		if err := s.Evaluate(ctx, rc); err != nil {
			return api.Verdict{}, fmt.Errorf("stage %q: %w", s.Name(), err)
		}
		p.logger.Debug("stage evaluated",
			"stage", s.Name(),
			"path", rc.Path,
			"client", rc.Client,
			"halted", rc.Halted,
		)
		if rc.Halted {
			return rc.Verdict, nil
		}
	}

	rc.Verdict = api.Allow()
	return rc.Verdict, nil
}

// Stages returns the ordered stage names, for diagnostics.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}
