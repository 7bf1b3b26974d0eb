package janitor

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const DefaultInterval = time.Minute

// SessionSweeper clears sessions whose refresh expiry is at or before now.
type SessionSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// CampaignCloser closes funding campaigns whose end date is at or before now.
type CampaignCloser interface {
	CloseEnded(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	Interval time.Duration
	// SweepTimeout bounds each sweep call; zero means no bound.
	SweepTimeout time.Duration
	Now          func() time.Time
}

// TickResult reports one pass.
type TickResult struct {
	SessionsCleared int
	CampaignsClosed int
	Err             error
}

// Runner periodically expires sessions and closes ended campaigns. It never
// runs on the request path.
type Runner struct {
	log       *zap.Logger
	sessions  SessionSweeper
	campaigns CampaignCloser
	cfg       Config

	mCleared prometheus.Counter
	mClosed  prometheus.Counter
	mErr     *prometheus.CounterVec
	mTickDur prometheus.Histogram
}

// New builds a runner. campaigns may be nil when there is no campaign store.
// Metrics are registered on reg when it is non-nil.
func New(log *zap.Logger, sessions SessionSweeper, campaigns CampaignCloser, cfg Config, reg prometheus.Registerer) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	f := promauto.With(reg)
	return &Runner{
		log:       log.With(zap.String("component", "janitor")),
		sessions:  sessions,
		campaigns: campaigns,
		cfg:       cfg,
		mCleared: f.NewCounter(prometheus.CounterOpts{
			Name: "janitor_sessions_cleared_total", Help: "Expired refresh sessions cleared",
		}),
		mClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "janitor_campaigns_closed_total", Help: "Funding campaigns closed after their end date",
		}),
		mErr: f.NewCounterVec(prometheus.CounterOpts{
			Name: "janitor_errors_total", Help: "Failed sweeps by kind",
		}, []string{"sweep"}),
		mTickDur: f.NewHistogram(prometheus.HistogramOpts{
			Name: "janitor_tick_duration_seconds", Help: "Janitor tick duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Tick runs one pass. A failing sweep does not prevent the other one.
func (r *Runner) Tick(ctx context.Context) TickResult {
	start := time.Now()
	now := r.cfg.Now()
	var res TickResult

	if r.sessions != nil {
		n, err := r.sweep(ctx, now, r.sessions.SweepExpired)
		if err != nil {
			r.mErr.WithLabelValues("sessions").Inc()
			r.log.Warn("session sweep failed", zap.Error(err))
			res.Err = errors.Join(res.Err, err)
		}
		res.SessionsCleared = n
		r.mCleared.Add(float64(n))
	}

	if r.campaigns != nil {
		n, err := r.sweep(ctx, now, r.campaigns.CloseEnded)
		if err != nil {
			r.mErr.WithLabelValues("campaigns").Inc()
			r.log.Warn("campaign sweep failed", zap.Error(err))
			res.Err = errors.Join(res.Err, err)
		}
		res.CampaignsClosed = n
		r.mClosed.Add(float64(n))
	}

	if res.SessionsCleared > 0 || res.CampaignsClosed > 0 {
		r.log.Debug("janitor pass",
			zap.Int("sessions_cleared", res.SessionsCleared),
			zap.Int("campaigns_closed", res.CampaignsClosed),
		)
	}
	r.mTickDur.Observe(time.Since(start).Seconds())
	return res
}

func (r *Runner) sweep(ctx context.Context, now time.Time, fn func(context.Context, time.Time) (int, error)) (int, error) {
	if r.cfg.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SweepTimeout)
		defer cancel()
	}
	return fn(ctx, now)
}

// Run ticks immediately and then every Interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("janitor started", zap.Duration("interval", r.cfg.Interval))
	r.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}
