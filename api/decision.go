package api

import "time"

// DecisionRecord is one admission verdict as persisted to the decision log.
type DecisionRecord struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Client    string        `json:"client,omitempty"`
	Method    string        `json:"method,omitempty"`
	Path      string        `json:"path,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Stage     string        `json:"stage,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	DryRun    bool          `json:"dry_run,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// QueryFilter defines criteria for querying decision records.
type QueryFilter struct {
	Since   time.Time `json:"since,omitempty"`
	Until   time.Time `json:"until,omitempty"`
	Stage   string    `json:"stage,omitempty"`
	Outcome Outcome   `json:"outcome,omitempty"`
	Client  string    `json:"client,omitempty"`
	Limit   int       `json:"limit,omitempty"`
	Offset  int       `json:"offset,omitempty"`
}

// DecisionStats provides summary counts over recorded decisions.
type DecisionStats struct {
	TotalRequests int            `json:"total_requests"`
	AllowCount    int            `json:"allow_count"`
	DenyCount     int            `json:"deny_count"`
	ByStage       map[string]int `json:"by_stage"`
	ByReason      map[string]int `json:"by_reason"`
}
