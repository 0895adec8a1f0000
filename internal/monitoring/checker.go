package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/training-stats/internal/config"
	"github.com/sells-group/training-stats/internal/pipeline"
)

// DatasetSource provides the dataset currently being served, or nil when
// nothing has been loaded yet.
type DatasetSource interface {
	Dataset() *pipeline.Dataset
}

// Checker runs periodic data-quality checks in the background. Each dataset
// is evaluated once; alerts are not repeated until a new dataset is built.
type Checker struct {
	source  DatasetSource
	alerter *Alerter
	cfg     config.MonitoringConfig

	lastBuilt time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(source DatasetSource, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		source:  source,
		alerter: alerter,
		cfg:     cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check evaluates the current dataset if it has not been evaluated yet and
// returns the alerts raised.
func (c *Checker) check(ctx context.Context, log *zap.Logger) []Alert {
	ds := c.source.Dataset()
	if ds == nil {
		log.Debug("monitoring: no dataset loaded")
		return nil
	}
	if ds.BuiltAt.Equal(c.lastBuilt) {
		return nil
	}
	c.lastBuilt = ds.BuiltAt

	alerts := c.alerter.Evaluate(BuildHealthReport(ds))
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
