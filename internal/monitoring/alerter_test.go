package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/training-stats/internal/config"
	"github.com/sells-group/training-stats/internal/metrics"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		MalformedRatioThreshold:        0.2,
		CollisionThreshold:             2,
		EstimationUnavailableThreshold: 1,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds(), nil)

	rep := &HealthReport{
		Rows:           100,
		MalformedRows:  5,
		MalformedRatio: 0.05,
		Collisions:     []Collision{{CourseName: "자바"}},
	}

	alerts := a.Evaluate(rep)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_MalformedRows(t *testing.T) {
	a := NewAlerter(thresholds(), nil)

	rep := &HealthReport{
		Rows:           20,
		MalformedRows:  8,
		MalformedRatio: 0.4, // 8/20 = 40%
	}

	alerts := a.Evaluate(rep)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertMalformedRows, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumRowsRequired(t *testing.T) {
	a := NewAlerter(thresholds(), nil)

	rep := &HealthReport{Rows: 4, MalformedRows: 4, MalformedRatio: 1}
	assert.Empty(t, a.Evaluate(rep))
}

func TestAlerter_Evaluate_KeyCollisions(t *testing.T) {
	a := NewAlerter(thresholds(), nil)

	rep := &HealthReport{
		Rows: 5,
		Collisions: []Collision{
			{CourseName: "자바 웹개발", Records: 3},
			{CourseName: "파이썬 기초", Records: 2},
		},
	}

	alerts := a.Evaluate(rep)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertKeyCollisions, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2 course names")
	assert.Equal(t, []string{"자바 웹개발", "파이썬 기초"}, alerts[0].Details["top"])
}

func TestAlerter_Evaluate_EstimationUnavailable(t *testing.T) {
	a := NewAlerter(thresholds(), nil)

	alerts := a.Evaluate(&HealthReport{EstimationUnavailable: 3})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertEstimationUnavailable, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "3 records")
}

func TestAlerter_Evaluate_MultipleAlertsCounted(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	a := NewAlerter(thresholds(), m)

	rep := &HealthReport{
		Rows:                  50,
		MalformedRows:         25,
		MalformedRatio:        0.5,
		Collisions:            []Collision{{CourseName: "a"}, {CourseName: "b"}, {CourseName: "c"}},
		EstimationUnavailable: 1,
	}

	alerts := a.Evaluate(rep)
	assert.Len(t, alerts, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTriggered.WithLabelValues(string(AlertKeyCollisions))))
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{}, nil)

	rep := &HealthReport{
		Rows:                  100,
		MalformedRatio:        0.9,
		Collisions:            []Collision{{CourseName: "a"}},
		EstimationUnavailable: 10,
	}
	assert.Empty(t, a.Evaluate(rep))
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
	}, nil)

	alerts := []Alert{
		{Type: AlertMalformedRows, Severity: "high", Message: "test alert 1"},
		{Type: AlertKeyCollisions, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	}, nil)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertMalformedRows, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	}, nil)

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	}, nil)
	a.backoff = time.Millisecond

	alerts := []Alert{
		{Type: AlertMalformedRows, Message: "test"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAlerter_SendAlerts_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, nil)
	a.backoff = time.Millisecond

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertKeyCollisions, Message: "test"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_SendAlerts_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, nil)
	a.backoff = time.Millisecond

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertKeyCollisions, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, retryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 404, 422} {
		assert.False(t, retryableStatus(code), code)
	}
}
