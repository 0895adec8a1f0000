package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/training-stats/internal/config"
	"github.com/sells-group/training-stats/internal/metrics"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertMalformedRows         AlertType = "malformed_rows"
	AlertKeyCollisions         AlertType = "key_collisions"
	AlertEstimationUnavailable AlertType = "estimation_unavailable"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a HealthReport against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	metrics *metrics.Metrics

	attempts int
	backoff  time.Duration
}

// NewAlerter creates a new Alerter with the given monitoring config. m may be nil.
func NewAlerter(cfg config.MonitoringConfig, m *metrics.Metrics) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: m,

		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
}

// minRowsForRatio keeps tiny uploads from tripping the malformed-ratio alert.
const minRowsForRatio = 10

// Evaluate checks the report against thresholds and returns any alerts.
func (a *Alerter) Evaluate(rep *HealthReport) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if rep.Rows >= minRowsForRatio && a.cfg.MalformedRatioThreshold > 0 && rep.MalformedRatio > a.cfg.MalformedRatioThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertMalformedRows,
			Severity: "high",
			Message: fmt.Sprintf(
				"Malformed row ratio %.1f%% exceeds threshold %.1f%% (%d of %d rows)",
				rep.MalformedRatio*100, a.cfg.MalformedRatioThreshold*100,
				rep.MalformedRows, rep.Rows,
			),
			Details: map[string]any{
				"malformed_ratio": rep.MalformedRatio,
				"threshold":       a.cfg.MalformedRatioThreshold,
				"malformed_rows":  rep.MalformedRows,
				"date_invalid":    rep.DateInvalid,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CollisionThreshold > 0 && len(rep.Collisions) >= a.cfg.CollisionThreshold {
		top := make([]string, 0, 5)
		for i, c := range rep.Collisions {
			if i == 5 {
				break
			}
			top = append(top, c.CourseName)
		}
		alerts = append(alerts, Alert{
			Type:     AlertKeyCollisions,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d course names without a course ID span several institutions (threshold %d)",
				len(rep.Collisions), a.cfg.CollisionThreshold,
			),
			Details: map[string]any{
				"collisions": len(rep.Collisions),
				"threshold":  a.cfg.CollisionThreshold,
				"top":        top,
			},
			Timestamp: now,
		})
	}

	if a.cfg.EstimationUnavailableThreshold > 0 && rep.EstimationUnavailable >= a.cfg.EstimationUnavailableThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEstimationUnavailable,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d records had no completion rate at any level and were adjusted with rate 0",
				rep.EstimationUnavailable,
			),
			Details: map[string]any{
				"records":   rep.EstimationUnavailable,
				"threshold": a.cfg.EstimationUnavailableThreshold,
			},
			Timestamp: now,
		})
	}

	if a.metrics != nil {
		for _, al := range alerts {
			a.metrics.AlertsTriggered.WithLabelValues(string(al.Type)).Inc()
		}
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
		if err := a.deliver(ctx, alert); err != nil {
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

// retryableError marks a webhook failure worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// retryableStatus reports HTTP statuses that indicate a transient receiver
// problem.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// deliver sends one alert, retrying transient failures with exponential
// backoff. Context cancellation stops the retries.
func (a *Alerter) deliver(ctx context.Context, alert Alert) error {
	delay := a.backoff
	var err error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		err = a.sendWebhook(ctx, alert)
		var re *retryableError
		if err == nil || !errors.As(err, &re) || attempt == a.attempts {
			return err
		}
		zap.L().Warn("monitoring: retrying webhook",
			zap.String("type", string(alert.Type)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
	}
	return err
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
		if ctx.Err() != nil {
			return eris.Wrap(err, "monitoring: webhook request")
		}
		return &retryableError{err: eris.Wrap(err, "monitoring: webhook request")}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if retryableStatus(resp.StatusCode) {
			return &retryableError{err: err}
		}
		return err
	}
	return nil
}
