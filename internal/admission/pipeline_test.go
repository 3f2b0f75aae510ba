package admission

import (
	"context"
	"testing"
	"time"

	"github.com/edgegate/edgegate/api"
	"github.com/edgegate/edgegate/internal/quota"
)

func buildTestPipeline(t *testing.T, provider SessionProvider) *Built {
	t.Helper()
	return Build(PipelineConfig{
		Shield:          testShieldConfig(),
		SignatureEngine: shieldSignatures(t),
		BotPolicy:       FailClosed,
		BotAllowList:    []string{"search_engine"},
		Limiter:         quota.NewBucketStore(),
		QuotaPolicy:     FailClosed,
		Scopes: []ScopeBinding{{
			Name:     "interview-quota",
			Patterns: []string{"/api/interviews*"},
			Config:   quota.Config{Capacity: 2, RefillRate: 2, Interval: time.Hour, RequestCost: 1},
		}},
		Routes:          testRoutes(t),
		Provider:        provider,
		ProviderTimeout: time.Second,
		Logger:          testLogger(),
	})
}

func browserRequest(method, path string) *RequestContext {
	rc := NewRequestContext(method, path, "198.51.100.7")
	rc.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh) Safari/605.1")
	return rc
}

func TestPipeline_AllowFlowsThroughAllStages(t *testing.T) {
	provider := &fakeProvider{session: Session{Valid: true, Identity: "user_1"}}
	built := buildTestPipeline(t, provider)

	rc := browserRequest("GET", "/api/interviews")
	rc.Bearer = "token"
	verdict, err := built.Pipeline.Evaluate(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Denied() {
		t.Fatalf("expected allow, denied at %q: %q", verdict.Stage, verdict.Reason)
	}
	if provider.calls != 1 {
		t.Errorf("expected one provider call, got %d", provider.calls)
	}
}

func TestPipeline_ShieldDenyShortCircuits(t *testing.T) {
	provider := &fakeProvider{session: Session{Valid: true}}
	built := buildTestPipeline(t, provider)

	rc := browserRequest("GET", "/api/../etc/passwd")
	rc.Bearer = "token"
	verdict, err := built.Pipeline.Evaluate(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	if !verdict.Denied() || verdict.Stage != "shield" {
		t.Fatalf("expected shield deny, got %+v", verdict)
	}
	// Short-circuit: the session provider must never be consulted.
	if provider.calls != 0 {
		t.Errorf("denied request reached the auth gate, provider calls = %d", provider.calls)
	}
}

func TestPipeline_BotDenyBeforeQuota(t *testing.T) {
	provider := &fakeProvider{session: Session{Valid: true}}
	built := buildTestPipeline(t, provider)

	// A scripted client hammers the interview route; the bot stage denies
	// before any quota tokens are spent.
	rc := NewRequestContext("GET", "/api/interviews", "203.0.113.9")
	rc.Header.Set("User-Agent", "python-requests/2.32")
	rc.Bearer = "token"
	verdict, _ := built.Pipeline.Evaluate(context.Background(), rc)
	if verdict.Stage != "bot" {
		t.Fatalf("expected bot deny, got %+v", verdict)
	}

	// Quota remains untouched for that client.
	for i := 0; i < 2; i++ {
		human := browserRequest("GET", "/api/interviews")
		human.Client = "203.0.113.9"
		human.Bearer = "token"
		verdict, _ = built.Pipeline.Evaluate(context.Background(), human)
		if verdict.Denied() {
			t.Fatalf("request %d should still have quota, got %+v", i+1, verdict)
		}
	}
}

func TestPipeline_AllowedBotPassesWhereScriptDenied(t *testing.T) {
	provider := &fakeProvider{session: Session{Valid: true}}
	built := buildTestPipeline(t, provider)

	crawler := NewRequestContext("GET", "/pricing", "66.249.66.1")
	crawler.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1)")
	verdict, _ := built.Pipeline.Evaluate(context.Background(), crawler)
	if verdict.Denied() {
		t.Fatalf("allow-listed crawler should pass, got %+v", verdict)
	}

	script := NewRequestContext("GET", "/pricing", "66.249.66.1")
	script.Header.Set("User-Agent", "curl/8.5.0")
	verdict, _ = built.Pipeline.Evaluate(context.Background(), script)
	if !verdict.Denied() || verdict.Stage != "bot" {
		t.Fatalf("unlisted automation with identical traffic shape should be denied, got %+v", verdict)
	}
}

func TestPipeline_QuotaDenyShortCircuitsAuth(t *testing.T) {
	provider := &fakeProvider{session: Session{Valid: true}}
	built := buildTestPipeline(t, provider)

	for i := 0; i < 2; i++ {
		rc := browserRequest("GET", "/api/interviews")
		rc.Bearer = "token"
		built.Pipeline.Evaluate(context.Background(), rc)
	}
	calls := provider.calls

	rc := browserRequest("GET", "/api/interviews")
	rc.Bearer = "token"
	verdict, _ := built.Pipeline.Evaluate(context.Background(), rc)
	if !verdict.Denied() || verdict.Stage != "interview-quota" {
		t.Fatalf("expected quota deny, got %+v", verdict)
	}
	if provider.calls != calls {
		t.Error("quota-denied request must not reach the auth gate")
	}

	// Consumed tokens are final: the denied attempt does not refund the
	// earlier successful consumes.
	rc = browserRequest("GET", "/api/interviews")
	rc.Bearer = "token"
	verdict, _ = built.Pipeline.Evaluate(context.Background(), rc)
	if !verdict.Denied() {
		t.Error("bucket should remain exhausted")
	}
}

func TestPipeline_StageOrder(t *testing.T) {
	built := buildTestPipeline(t, &fakeProvider{})
	want := []string{"shield", "bot", "quota", "auth"}
	got := built.Pipeline.Stages()
	if len(got) != len(want) {
		t.Fatalf("expected %d stages, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestPipeline_ThrottleStageFirstWhenEnabled(t *testing.T) {
	built := Build(PipelineConfig{
		Shield:        testShieldConfig(),
		BotPolicy:     FailClosed,
		ThrottleRPS:   1,
		ThrottleBurst: 2,
		Limiter:       quota.NewBucketStore(),
		QuotaPolicy:   FailClosed,
		Routes:        testRoutes(t),
		Logger:        testLogger(),
	})

	got := built.Pipeline.Stages()
	if got[0] != "throttle" {
		t.Fatalf("throttle should run first, got %v", got)
	}

	// Burst of 2, third immediate request is smoothed away.
	var verdict api.Verdict
	for i := 0; i < 3; i++ {
		rc := browserRequest("GET", "/pricing")
		verdict, _ = built.Pipeline.Evaluate(context.Background(), rc)
	}
	if !verdict.Denied() || verdict.Reason != api.ReasonThrottled {
		t.Fatalf("expected throttled deny, got %+v", verdict)
	}
}
