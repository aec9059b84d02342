package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/muni-enrich/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		GeocodeFailureThreshold: 0.05,
		IndexMissingThreshold:   0.10,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &RunSnapshot{
		Entities:         100,
		OK:               98,
		GeocodeFailed:    2,
		GeocodeFailRate:  0.02,
		IndexMissing:     3,
		IndexMissingRate: 0.03,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_GeocodeFailureRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &RunSnapshot{
		Entities:        20,
		GeocodeFailed:   8,
		GeocodeFailRate: 0.4,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertGeocodeFailureRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_IndexCoverage(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &RunSnapshot{
		Entities:         10,
		IndexMissing:     5,
		IndexMissingRate: 0.5,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertIndexCoverage, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "5 of 10")
}

func TestAlerter_Evaluate_Aborted(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &RunSnapshot{
		RunID:      "run-1",
		Entities:   12,
		Aborted:    true,
		AbortCause: "circuit breaker is open",
		LastEntity: "Andaraí",
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunAborted, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "Andaraí")
}

func TestAlerter_Evaluate_EmptyRun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Empty(t, a.Evaluate(&RunSnapshot{}))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertGeocodeFailureRate, Severity: "medium", Message: "test alert 1"},
		{Type: AlertRunAborted, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertGeocodeFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunAborted, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}
