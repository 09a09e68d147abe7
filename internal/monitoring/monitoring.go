// Package monitoring posts best-effort alerts on state transitions,
// emergency flattens and portfolio anomalies, and exports the
// cycle-level Prometheus metrics the orchestrator updates once per pass.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"funding-arb/internal/types"
)

// AlertEvent is the structured payload posted to the webhook and
// broadcast over the WebSocket hub.
type AlertEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context"`
}

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelAlert   = "alert"
)

// Hub is the subset of the WebSocket hub a notifier needs; satisfied
// by *websocket.Hub without importing it, keeping this package free
// to be used from contexts that don't run a dashboard.
type Hub interface {
	BroadcastNotification(notification interface{})
}

// Notifier posts AlertEvents to a configured webhook, best-effort, and
// mirrors them onto a connected WebSocket hub for operator dashboards.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	hub        Hub
	logger     Logger
}

// Logger is the minimal surface this package needs from the shared
// zap wrapper, kept narrow so tests can supply a no-op stub.
type Logger interface {
	Warnf(template string, args ...interface{})
}

func NewNotifier(webhookURL string, hub Hub, logger Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		hub:        hub,
		logger:     logger,
	}
}

// Send posts the event to the webhook (no-op if unconfigured) and
// broadcasts it over the hub (no-op if unconfigured). Webhook failures
// are logged, never returned: monitoring never blocks a cycle.
func (n *Notifier) Send(ctx context.Context, event AlertEvent) {
	if n.hub != nil {
		n.hub.BroadcastNotification(event)
	}
	if n.webhookURL == "" {
		return
	}
	if err := n.post(ctx, event); err != nil && n.logger != nil {
		n.logger.Warnf("monitoring: webhook post failed: %v", err)
	}
}

func (n *Notifier) post(ctx context.Context, event AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding alert event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// StateTransitionEvent builds the alert for a RiskState change.
func StateTransitionEvent(from, to types.RiskStatus, drawdownPct float64) AlertEvent {
	return AlertEvent{
		Timestamp: time.Now().UTC(),
		Level:     transitionLevel(to),
		Title:     "risk state transition",
		Message:   fmt.Sprintf("%s -> %s (drawdown %.2f%%)", from, to, drawdownPct*100),
		Context: map[string]string{
			"from":         string(from),
			"to":           string(to),
			"drawdown_pct": fmt.Sprintf("%.4f", drawdownPct),
		},
	}
}

func transitionLevel(to types.RiskStatus) string {
	switch to {
	case types.RiskHaltNew:
		return LevelAlert
	case types.RiskReduce:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// EmergencyFlattenEvent builds the alert for a flatten sweep.
func EmergencyFlattenEvent(result types.FlattenResult) AlertEvent {
	return AlertEvent{
		Timestamp: time.Now().UTC(),
		Level:     LevelAlert,
		Title:     "emergency flatten executed",
		Message:   fmt.Sprintf("closed %d pairs, %d failures", len(result.ClosedPairs), len(result.Failures)),
		Context: map[string]string{
			"closed":   fmt.Sprintf("%d", len(result.ClosedPairs)),
			"failures": fmt.Sprintf("%d", len(result.Failures)),
		},
	}
}

// ZombiePairEvent builds the alert for a pair marked ZOMBIE.
func ZombiePairEvent(pairID string) AlertEvent {
	return AlertEvent{
		Timestamp: time.Now().UTC(),
		Level:     LevelAlert,
		Title:     "pair marked zombie",
		Message:   fmt.Sprintf("pair %s requires manual intervention", pairID),
		Context:   map[string]string{"pair_id": pairID},
	}
}

// EquityDropEvent builds the anomaly alert for a one-cycle equity drop
// exceeding the configured threshold.
func EquityDropEvent(prevEquity, currEquity, thresholdPct float64) AlertEvent {
	dropPct := (prevEquity - currEquity) / prevEquity
	return AlertEvent{
		Timestamp: time.Now().UTC(),
		Level:     LevelAlert,
		Title:     "equity drop anomaly",
		Message:   fmt.Sprintf("equity dropped %.2f%% in one cycle (threshold %.2f%%)", dropPct*100, thresholdPct*100),
		Context: map[string]string{
			"prev_equity": fmt.Sprintf("%.2f", prevEquity),
			"curr_equity": fmt.Sprintf("%.2f", currEquity),
			"drop_pct":    fmt.Sprintf("%.4f", dropPct),
		},
	}
}

// ExecutionFailureRatioEvent builds the anomaly alert for a cycle's
// leg-submission failure ratio exceeding the configured threshold.
func ExecutionFailureRatioEvent(failed, attempted int, ratio, thresholdPct float64) AlertEvent {
	return AlertEvent{
		Timestamp: time.Now().UTC(),
		Level:     LevelAlert,
		Title:     "execution failure ratio anomaly",
		Message:   fmt.Sprintf("%d/%d intents failed (%.1f%%, threshold %.1f%%)", failed, attempted, ratio*100, thresholdPct*100),
		Context: map[string]string{
			"failed":    fmt.Sprintf("%d", failed),
			"attempted": fmt.Sprintf("%d", attempted),
			"ratio":     fmt.Sprintf("%.4f", ratio),
		},
	}
}

// CycleSkippedEvent builds the alert for repeated consecutive skips.
func CycleSkippedEvent(consecutive int) AlertEvent {
	return AlertEvent{
		Timestamp: time.Now().UTC(),
		Level:     LevelWarning,
		Title:     "repeated cycle skips",
		Message:   fmt.Sprintf("%d consecutive cycles skipped", consecutive),
		Context:   map[string]string{"consecutive": fmt.Sprintf("%d", consecutive)},
	}
}

// DetectEquityDrop reports whether the one-cycle equity drop exceeds
// the configured anomaly threshold.
func DetectEquityDrop(prevEquity, currEquity, thresholdPct float64) bool {
	if prevEquity <= 0 {
		return false
	}
	drop := (prevEquity - currEquity) / prevEquity
	return drop > thresholdPct
}

// DetectFailureRatio reports whether the cycle's execution failure
// ratio exceeds the configured anomaly threshold.
func DetectFailureRatio(failed, attempted int, thresholdPct float64) (float64, bool) {
	if attempted == 0 {
		return 0, false
	}
	ratio := float64(failed) / float64(attempted)
	return ratio, ratio > thresholdPct
}
