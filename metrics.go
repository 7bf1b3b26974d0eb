package crowdauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	logins    *prometheus.CounterVec
	decisions *prometheus.CounterVec
	logouts   *prometheus.CounterVec
	signups   *prometheus.CounterVec
	resets    *prometheus.CounterVec
	auditLost prometheus.CounterFunc
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &Metrics{
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdauth_logins_total", Help: "Login attempts by result",
		}, []string{"result"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdauth_auth_decisions_total", Help: "Request authentication outcomes by path and reason",
		}, []string{"outcome", "reason"}),
		logouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdauth_logouts_total", Help: "Logout attempts by result",
		}, []string{"result"}),
		signups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdauth_signups_total", Help: "Signup attempts by result",
		}, []string{"result"}),
		resets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdauth_password_resets_total", Help: "Password reset steps by result",
		}, []string{"step", "result"}),
	}
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) decision(outcome, reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) logout(result string) {
	if m == nil {
		return
	}
	m.logouts.WithLabelValues(result).Inc()
}

func (m *Metrics) signup(result string) {
	if m == nil {
		return
	}
	m.signups.WithLabelValues(result).Inc()
}

func (m *Metrics) passwordReset(step, result string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(step, result).Inc()
}

// registerAuditLoss exposes the dispatcher drop count.
func (m *Metrics) registerAuditLoss(reg prometheus.Registerer, dropped func() uint64) {
	if m == nil || reg == nil {
		return
	}
	m.auditLost = promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
		Name: "crowdauth_audit_dropped_total", Help: "Audit events dropped because the buffer was full",
	}, func() float64 { return float64(dropped()) })
}
