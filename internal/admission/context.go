package admission

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/edgegate/edgegate/api"
)

// RequestContext carries one request's facts through the admission
// pipeline. The request fields are fixed at construction; stages only
// write the verdict fields.
type RequestContext struct {
	// Method is the HTTP method.
	Method string

	// Path is the request path being admitted.
	Path string

	// Client is the client network address (IP without port).
	Client string

	// Header is the inbound header bag.
	Header http.Header

	// Bearer is the bearer credential, empty when absent.
	Bearer string

	// ContentLength is the declared request body size, -1 when unknown.
	ContentLength int64

	// StartTime records when the request entered the pipeline.
	StartTime time.Time

	// Verdict is set by the stage that halts the pipeline.
	Verdict api.Verdict

	// Identity is the principal reported by the session provider.
	Identity string

	// RetryAfter is a hint for rate-limited denials, zero otherwise.
	RetryAfter time.Duration

	// ShadowVerdict holds a deny the shield withheld in dry-run mode.
	ShadowVerdict *api.Verdict

	// Halted indicates the pipeline decided and later stages must not run.
	Halted bool
}

// NewRequestContext creates a context from bare request facts. Used by
// tests and the check command; live traffic goes through FromRequest.
func NewRequestContext(method, path, client string) *RequestContext {
	return &RequestContext{
		Method:        method,
		Path:          path,
		Client:        client,
		Header:        make(http.Header),
		ContentLength: -1,
		StartTime:     time.Now(),
	}
}

// FromRequest builds the admission context for an inbound HTTP request.
func FromRequest(r *http.Request, trustForwarded bool) *RequestContext {
	return &RequestContext{
		Method:        r.Method,
		Path:          r.URL.Path,
		Client:        clientAddr(r, trustForwarded),
		Header:        r.Header,
		Bearer:        bearerToken(r.Header),
		ContentLength: r.ContentLength,
		StartTime:     time.Now(),
	}
}

// UserAgent returns the request's User-Agent header.
func (rc *RequestContext) UserAgent() string {
	return rc.Header.Get("User-Agent")
}

func (rc *RequestContext) deny(stage, reason string) {
	rc.Verdict = api.Deny(stage, reason)
	rc.Halted = true
}

// Record converts the decided context into a decision record.
func (rc *RequestContext) Record() *api.DecisionRecord {
	rec := &api.DecisionRecord{
		Timestamp: rc.StartTime,
		Client:    rc.Client,
		Method:    rc.Method,
		Path:      rc.Path,
		Outcome:   rc.Verdict.Outcome,
		Stage:     rc.Verdict.Stage,
		Reason:    rc.Verdict.Reason,
		Duration:  time.Since(rc.StartTime),
	}
	if rec.Outcome == api.OutcomeAllow && rc.ShadowVerdict != nil {
		rec.DryRun = true
		rec.Stage = rc.ShadowVerdict.Stage
		rec.Reason = rc.ShadowVerdict.Reason
	}
	return rec
}

func clientAddr(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		// First hop of X-Forwarded-For is the originating client.
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			if first, _, found := strings.Cut(xff, ","); found || first != "" {
				return strings.TrimSpace(first)
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func bearerToken(h http.Header) string {
	auth := strings.TrimSpace(h.Get("Authorization"))
	if auth == "" {
		return ""
	}
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
