package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate    AlertType = "run_failure_rate"
	AlertRunBlockRate      AlertType = "run_block_rate"
	AlertFalsePositiveRate AlertType = "false_positive_rate"
)

// defaultMinRuns is the smallest finished run count rates are judged on.
const defaultMinRuns = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Rates are only judged once MinRuns runs have finished in the window.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	minRuns := a.cfg.MinRuns
	if minRuns <= 0 {
		minRuns = defaultMinRuns
	}
	finished := snap.Finished()
	if finished < minRuns {
		return nil
	}

	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BlockRateThreshold > 0 && snap.BlockRate > a.cfg.BlockRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunBlockRate,
			Severity: "critical",
			Message: fmt.Sprintf(
				"%d of %d runs blocked by critical anomalies in last %dh (%.1f%%, threshold %.1f%%); %d investigations open",
				snap.RunsBlocked, finished, snap.LookbackHours,
				snap.BlockRate*100, a.cfg.BlockRateThreshold*100, snap.OpenInvestigations,
			),
			Details: map[string]any{
				"block_rate":          snap.BlockRate,
				"threshold":           a.cfg.BlockRateThreshold,
				"blocked":             snap.RunsBlocked,
				"open_investigations": snap.OpenInvestigations,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FalsePositiveRateThreshold > 0 && snap.QualityReports > 0 &&
		snap.MeanFalsePositiveRate > a.cfg.FalsePositiveRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFalsePositiveRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Mean false-positive rate %.1f%% exceeds threshold %.1f%% over %d runs",
				snap.MeanFalsePositiveRate*100, a.cfg.FalsePositiveRateThreshold*100, snap.QualityReports,
			),
			Details: map[string]any{
				"false_positive_rate": snap.MeanFalsePositiveRate,
				"threshold":           a.cfg.FalsePositiveRateThreshold,
				"runs":                snap.QualityReports,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
