package admission

import (
	"context"
	"time"

	"github.com/edgegate/edgegate/api"
	"github.com/edgegate/edgegate/internal/routes"
)

// Session is the session provider's view of a validated credential.
type Session struct {
	Valid    bool
	Identity string
}

// SessionProvider validates a bearer credential. It is the pipeline's
// only collaborator expected to involve network latency.
type SessionProvider interface {
	ValidateSession(ctx context.Context, token string) (Session, error)
}

// AuthGate requires a valid session for protected routes. It runs last:
// validation costs network round trips, so it is never spent on requests
// an earlier stage would deny anyway.
type AuthGate struct {
	matcher  *routes.Matcher
	provider SessionProvider
	timeout  time.Duration
}

// NewAuthGate creates the authentication stage.
func NewAuthGate(matcher *routes.Matcher, provider SessionProvider, timeout time.Duration) *AuthGate {
	return &AuthGate{
		matcher:  matcher,
		provider: provider,
		timeout:  timeout,
	}
}

func (g *AuthGate) Name() string { return "auth" }

func (g *AuthGate) Evaluate(ctx context.Context, rc *RequestContext) error {
	if g.matcher.Classify(rc.Path) == routes.AccessPublic {
		return nil
	}

	if rc.Bearer == "" {
		rc.deny(g.Name(), api.ReasonUnauthenticated)
		return nil
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	// Provider failures surface as a deny; the pipeline never retries.
	sess, err := g.provider.ValidateSession(ctx, rc.Bearer)
	if err != nil {
		rc.deny(g.Name(), api.ReasonProviderUnavailable)
		return nil
	}
	if !sess.Valid {
		rc.deny(g.Name(), api.ReasonUnauthenticated)
		return nil
	}

	rc.Identity = sess.Identity
	return nil
}
