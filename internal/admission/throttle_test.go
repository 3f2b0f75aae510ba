package admission

import (
	"context"
	"testing"
	"time"

	"github.com/edgegate/edgegate/api"
)

func TestThrottle_BurstThenDeny(t *testing.T) {
	th := NewThrottle(1, 3, testLogger())

	for i := 0; i < 3; i++ {
		rc := NewRequestContext("GET", "/pricing", "10.0.0.1")
		if err := th.Evaluate(context.Background(), rc); err != nil {
			t.Fatal(err)
		}
		if rc.Halted {
			t.Fatalf("request %d within burst should pass", i+1)
		}
	}

	rc := NewRequestContext("GET", "/pricing", "10.0.0.1")
	if err := th.Evaluate(context.Background(), rc); err != nil {
		t.Fatal(err)
	}
	if !rc.Halted {
		t.Fatal("request past the burst should be denied")
	}
	if rc.Verdict.Reason != api.ReasonThrottled {
		t.Errorf("unexpected reason %q", rc.Verdict.Reason)
	}
	if rc.RetryAfter <= 0 {
		t.Error("throttled requests should carry a retry hint")
	}
}

func TestThrottle_ClientsIndependent(t *testing.T) {
	th := NewThrottle(1, 1, testLogger())

	a := NewRequestContext("GET", "/pricing", "10.0.0.1")
	th.Evaluate(context.Background(), a)
	a = NewRequestContext("GET", "/pricing", "10.0.0.1")
	th.Evaluate(context.Background(), a)
	if !a.Halted {
		t.Fatal("second immediate request from same client should be denied")
	}

	b := NewRequestContext("GET", "/pricing", "10.0.0.2")
	th.Evaluate(context.Background(), b)
	if b.Halted {
		t.Error("a different client has its own limiter")
	}
}

func TestThrottle_CleanupEvictsIdleClients(t *testing.T) {
	th := NewThrottle(1, 1, testLogger())
	th.idleTTL = time.Millisecond

	rc := NewRequestContext("GET", "/pricing", "10.0.0.1")
	th.Evaluate(context.Background(), rc)

	time.Sleep(5 * time.Millisecond)
	th.Cleanup()

	th.mu.Lock()
	n := len(th.clients)
	th.mu.Unlock()
	if n != 0 {
		t.Errorf("expected idle client evicted, %d remain", n)
	}
}
