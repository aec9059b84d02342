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

	"github.com/sells-group/muni-enrich/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertGeocodeFailureRate AlertType = "geocode_failure_rate"
	AlertIndexCoverage      AlertType = "index_coverage"
	AlertRunAborted         AlertType = "run_aborted"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a RunSnapshot against configured thresholds
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
func (a *Alerter) Evaluate(snap *RunSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.Aborted {
		alerts = append(alerts, Alert{
			Type:     AlertRunAborted,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run %s aborted after %d entities (last: %s): %s",
				snap.RunID, snap.Entities, snap.LastEntity, snap.AbortCause,
			),
			Details: map[string]any{
				"emitted":     snap.Entities,
				"last_entity": snap.LastEntity,
			},
			Timestamp: now,
		})
	}

	if snap.Entities > 0 && snap.GeocodeFailRate > a.cfg.GeocodeFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertGeocodeFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Geocode failure rate %.1f%% exceeds threshold %.1f%% (%d of %d entities)",
				snap.GeocodeFailRate*100, a.cfg.GeocodeFailureThreshold*100,
				snap.GeocodeFailed, snap.Entities,
			),
			Details: map[string]any{
				"failure_rate": snap.GeocodeFailRate,
				"threshold":    a.cfg.GeocodeFailureThreshold,
				"failed":       snap.GeocodeFailed,
			},
			Timestamp: now,
		})
	}

	if snap.Entities > 0 && snap.IndexMissingRate > a.cfg.IndexMissingThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertIndexCoverage,
			Severity: "low",
			Message: fmt.Sprintf(
				"%d of %d entities have no index value (%.1f%%, threshold %.1f%%)",
				snap.IndexMissing, snap.Entities,
				snap.IndexMissingRate*100, a.cfg.IndexMissingThreshold*100,
			),
			Details: map[string]any{
				"missing_rate": snap.IndexMissingRate,
				"threshold":    a.cfg.IndexMissingThreshold,
				"missing":      snap.IndexMissing,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts logs every alert and delivers it to the configured webhook URL,
// if any. Returns the number of alerts successfully posted.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	for _, alert := range alerts {
		zap.L().Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
		)
	}
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
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
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
