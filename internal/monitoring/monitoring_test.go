package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"funding-arb/internal/types"
)

type fakeHub struct {
	mu    sync.Mutex
	count int
	last  interface{}
}

func (h *fakeHub) BroadcastNotification(notification interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.last = notification
}

func TestSendNoopsWithoutWebhookURL(t *testing.T) {
	hub := &fakeHub{}
	n := NewNotifier("", hub, nil)
	n.Send(context.Background(), StateTransitionEvent(types.RiskNormal, types.RiskReduce, 0.12))

	if hub.count != 1 {
		t.Fatalf("expected hub broadcast even without webhook, got %d", hub.count)
	}
}

func TestSendPostsToWebhook(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hub := &fakeHub{}
	n := NewNotifier(srv.URL+"/alert", hub, nil)
	n.Send(context.Background(), EmergencyFlattenEvent(types.FlattenResult{Success: true}))

	if gotPath != "/alert" {
		t.Fatalf("expected webhook POST to /alert, got %q", gotPath)
	}
	if hub.count != 1 {
		t.Fatalf("expected one hub broadcast, got %d", hub.count)
	}
}

func TestSendSwallowsWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hub := &fakeHub{}
	n := NewNotifier(srv.URL, hub, nil)
	// Must not panic or block; failure is swallowed.
	n.Send(context.Background(), ZombiePairEvent("p1"))
}

func TestDetectEquityDrop(t *testing.T) {
	if !DetectEquityDrop(1000, 940, 0.05) {
		t.Error("expected 6% drop to exceed 5% threshold")
	}
	if DetectEquityDrop(1000, 960, 0.05) {
		t.Error("expected 4% drop to stay under 5% threshold")
	}
	if DetectEquityDrop(0, 100, 0.05) {
		t.Error("expected no anomaly when prior equity is zero")
	}
}

func TestDetectFailureRatio(t *testing.T) {
	ratio, anomalous := DetectFailureRatio(3, 10, 0.20)
	if !anomalous {
		t.Errorf("expected 30%% failure ratio to exceed 20%% threshold, got %.2f", ratio)
	}
	if _, anomalous := DetectFailureRatio(0, 0, 0.20); anomalous {
		t.Error("expected no anomaly with zero attempts")
	}
}

func TestStateTransitionEventLevels(t *testing.T) {
	if ev := StateTransitionEvent(types.RiskNormal, types.RiskHaltNew, 0.16); ev.Level != LevelAlert {
		t.Errorf("expected HALT_NEW transition to be alert level, got %s", ev.Level)
	}
	if ev := StateTransitionEvent(types.RiskReduce, types.RiskNormal, 0.05); ev.Level != LevelInfo {
		t.Errorf("expected recovery-to-NORMAL transition to be info level, got %s", ev.Level)
	}
}

func TestRecordCycleDoesNotPanic(t *testing.T) {
	result := types.CycleResult{
		CycleID: 1, Candidates: 3, Intents: 2, Executed: 1, Blocked: 1, Rebalanced: 0,
		StatusBefore: types.RiskNormal, StatusAfter: types.RiskNormal,
	}
	risk := types.RiskState{Equity: 1000, DrawdownPct: 0.02, Status: types.RiskNormal}
	RecordCycle(result, risk, 1, 0, 1.5)
	RecordCycleSkipped()
}
