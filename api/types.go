package api

import "net/http"

// Outcome is the result of an admission stage or of the whole pipeline.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
)

// Verdict is the decision produced by a pipeline stage. A deny verdict
// always carries the stage that produced it and a machine-readable reason.
type Verdict struct {
	Outcome Outcome `json:"outcome"`
	Stage   string  `json:"stage,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Stable deny reasons. Automated clients key off these strings to tell
// abuse-blocking, rate-limiting, and auth-required responses apart.
const (
	ReasonQuotaExceeded       = "quota exceeded"
	ReasonQuotaUnavailable    = "quota unavailable"
	ReasonThrottled           = "request rate exceeded"
	ReasonUnauthenticated     = "unauthenticated"
	ReasonProviderUnavailable = "auth provider unavailable"
	ReasonShieldUnavailable   = "shield unavailable"
	ReasonBotUnavailable      = "bot classifier unavailable"
)

// Allow returns an allow verdict.
func Allow() Verdict {
	return Verdict{Outcome: OutcomeAllow}
}

// Deny returns a deny verdict attributed to the given stage.
func Deny(stage, reason string) Verdict {
	return Verdict{Outcome: OutcomeDeny, Stage: stage, Reason: reason}
}

// Denied reports whether the verdict is a deny.
func (v Verdict) Denied() bool { return v.Outcome == OutcomeDeny }

// DenyStatus maps a deny verdict to its HTTP status. Rate-related denials
// map to 429, authentication denials to 401, everything else to 403.
func DenyStatus(v Verdict) int {
	switch v.Reason {
	case ReasonQuotaExceeded, ReasonQuotaUnavailable, ReasonThrottled:
		return http.StatusTooManyRequests
	case ReasonUnauthenticated, ReasonProviderUnavailable:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}

// ErrorCode is the "error" field of the JSON body returned for a deny.
func ErrorCode(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusUnauthorized:
		return "unauthorized"
	default:
		return "forbidden"
	}
}

// DenyBody is the JSON body written for every denied request.
type DenyBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// CheckRequest is used by the CLI `check` command to dry-run a request.
type CheckRequest struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Client string            `json:"client,omitempty"`
	Bearer string            `json:"bearer,omitempty"`
	Header map[string]string `json:"header,omitempty"`
}

// CheckResponse is the result of a dry-run check.
type CheckResponse struct {
	Outcome Outcome `json:"outcome"`
	Stage   string  `json:"stage,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}
