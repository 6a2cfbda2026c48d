package expiry

import (
	"context"
	"time"

	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	obsmetrics "github.com/smallbiznis/attribution/internal/observability/metrics"
	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Store      trackingdomain.Store
	Log        *zap.Logger
	Clock      clock.Clock
	Policy     *config.TrackingConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics          `optional:"true"`
	Config     Config                       `optional:"true"`
}

// Worker removes clicks older than the session TTL.
type Worker struct {
	store      trackingdomain.Store
	log        *zap.Logger
	clock      clock.Clock
	policy     *config.TrackingConfigHolder
	obsMetrics *obsmetrics.Metrics
	cfg        Config
}

func NewWorker(p Params) *Worker {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Worker{
		store:      p.Store,
		log:        p.Log.Named("tracking.expiry"),
		clock:      clk,
		policy:     p.Policy,
		obsMetrics: p.ObsMetrics,
		cfg:        p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	timer := time.NewTimer(w.policy.Get().SweepInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("session expiry run failed", zap.Error(err))
		}
		timer.Reset(w.policy.Get().SweepInterval)
	}
}

// RunOnce applies the current policy once and reports how many clicks were removed.
// A zero TTL disables expiry.
func (w *Worker) RunOnce(parentCtx context.Context) (int, error) {
	policy := w.policy.Get()
	if policy.SessionTTL <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	cutoff := w.clock.Now().UTC().Add(-policy.SessionTTL)
	removed, err := w.store.ExpireClicks(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		w.obsMetrics.RecordSessionsExpired(ctx, removed)
		w.log.Info("expired sessions",
			zap.Int("removed", removed),
			zap.Time("cutoff", cutoff),
			zap.Duration("ttl", policy.SessionTTL),
		)
	}
	return removed, nil
}
