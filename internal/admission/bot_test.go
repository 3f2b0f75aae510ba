package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/edgegate/edgegate/api"
)

// staticClassifier returns a fixed classification.
type staticClassifier struct {
	result Classification
	err    error
}

func (c staticClassifier) Classify(context.Context, *RequestContext) (Classification, error) {
	return c.result, c.err
}

func TestBot_HumanPasses(t *testing.T) {
	s := NewBotStage(staticClassifier{result: Classification{Category: "human"}}, FailClosed, nil, testLogger())

	rc := NewRequestContext("GET", "/", "10.0.0.1")
	if err := s.Evaluate(context.Background(), rc); err != nil {
		t.Fatal(err)
	}
	if rc.Halted {
		t.Error("human traffic should pass")
	}
}

func TestBot_AllowListedAutomationPasses(t *testing.T) {
	cl := staticClassifier{result: Classification{Category: "search_engine", Automated: true}}
	s := NewBotStage(cl, FailClosed, []string{"search_engine", "preview_fetcher"}, testLogger())

	rc := NewRequestContext("GET", "/", "66.249.66.1")
	s.Evaluate(context.Background(), rc)
	if rc.Halted {
		t.Error("allow-listed automation should pass")
	}
}

func TestBot_UnlistedAutomationDenied(t *testing.T) {
	// Identical traffic shape, category not on the allow-list.
	cl := staticClassifier{result: Classification{Category: "scraper", Automated: true}}
	s := NewBotStage(cl, FailClosed, []string{"search_engine"}, testLogger())

	rc := NewRequestContext("GET", "/", "203.0.113.9")
	s.Evaluate(context.Background(), rc)
	if !rc.Halted {
		t.Fatal("unlisted automation should be denied")
	}
	if rc.Verdict.Stage != "bot" {
		t.Errorf("expected stage bot, got %q", rc.Verdict.Stage)
	}
	if rc.Verdict.Reason != "abusive automation: scraper" {
		t.Errorf("unexpected reason %q", rc.Verdict.Reason)
	}
}

func TestBot_UpdateAllowTakesEffect(t *testing.T) {
	cl := staticClassifier{result: Classification{Category: "scraper", Automated: true}}
	s := NewBotStage(cl, FailClosed, nil, testLogger())

	rc := NewRequestContext("GET", "/", "203.0.113.9")
	s.Evaluate(context.Background(), rc)
	if !rc.Halted {
		t.Fatal("expected deny before allow-list update")
	}

	s.UpdateAllow([]string{"scraper"})

	rc = NewRequestContext("GET", "/", "203.0.113.9")
	s.Evaluate(context.Background(), rc)
	if rc.Halted {
		t.Error("expected pass after allow-list update")
	}
}

func TestBot_ClassifierFailureClosed(t *testing.T) {
	s := NewBotStage(staticClassifier{err: errors.New("backend down")}, FailClosed, nil, testLogger())

	rc := NewRequestContext("GET", "/", "10.0.0.1")
	s.Evaluate(context.Background(), rc)
	if !rc.Halted || rc.Verdict.Reason != api.ReasonBotUnavailable {
		t.Errorf("fail-closed should deny, got halted=%v reason=%q", rc.Halted, rc.Verdict.Reason)
	}
}

func TestBot_ClassifierFailureOpen(t *testing.T) {
	s := NewBotStage(staticClassifier{err: errors.New("backend down")}, FailOpen, nil, testLogger())

	rc := NewRequestContext("GET", "/", "10.0.0.1")
	s.Evaluate(context.Background(), rc)
	if rc.Halted {
		t.Error("fail-open should let the request continue")
	}
}

func TestHeuristicClassifier(t *testing.T) {
	cases := []struct {
		ua        string
		category  string
		automated bool
	}{
		{"Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/128.0", "human", false},
		{"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", "search_engine", true},
		{"Slackbot-LinkExpanding 1.0", "preview_fetcher", true},
		{"curl/8.5.0", "script", true},
		{"python-requests/2.32", "script", true},
		{"Mozilla/5.0 HeadlessChrome/120.0", "headless", true},
		{"", "unknown", true},
	}

	for _, c := range cases {
		rc := NewRequestContext("GET", "/", "10.0.0.1")
		if c.ua != "" {
			rc.Header.Set("User-Agent", c.ua)
		}
		got, err := (HeuristicClassifier{}).Classify(context.Background(), rc)
		if err != nil {
			t.Fatal(err)
		}
		if got.Category != c.category || got.Automated != c.automated {
			t.Errorf("Classify(%q) = %+v, want category %q automated %v", c.ua, got, c.category, c.automated)
		}
	}
}
