package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on a timer and posts alerts for every
// threshold the lookback window crosses.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

func (c *Checker) interval() time.Duration {
	if d := time.Duration(c.cfg.CheckIntervalSecs) * time.Second; d > 0 {
		return d
	}
	return defaultCheckInterval
}

// Run checks once immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	every := c.interval()
	c.log.Info("monitoring: watching runs",
		zap.Duration("interval", every),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.CheckOnce(ctx)
		}
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: watch stopped")
			return
		case <-ticker.C:
		}
	}
}

// CheckOnce takes a snapshot of the lookback window and sends the alerts it
// triggers. The snapshot is nil when the store could not be read.
func (c *Checker) CheckOnce(ctx context.Context) (*MetricsSnapshot, []Alert) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: collect run metrics", zap.Error(err))
		return nil, nil
	}

	alerts := c.alerter.Evaluate(snap)
	fields := []zap.Field{
		zap.Int("runs", snap.RunsTotal),
		zap.Float64("block_rate", snap.BlockRate),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Float64("mean_false_positive_rate", snap.MeanFalsePositiveRate),
	}
	if len(alerts) == 0 {
		c.log.Debug("monitoring: runs healthy", fields...)
		return snap, nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Warn("monitoring: alerts raised", append(fields,
		zap.Int("alerts", len(alerts)),
		zap.Int("sent", sent),
	)...)
	return snap, alerts
}
