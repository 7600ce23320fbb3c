package rbac

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts mutation outcomes per operation and failure class.
type Metrics struct {
	decisions *prometheus.CounterVec
	grants    *prometheus.CounterVec
}

// NewMetrics registers the collectors against registerer, or the default
// registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grantkeeper_rbac_decisions_total",
		Help: "Grant mutation outcomes by operation and result.",
	}, []string{"op", "outcome"})
	grants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grantkeeper_rbac_grants_changed_total",
		Help: "Grants inserted or removed by committed mutations.",
	}, []string{"op"})
	registerer.MustRegister(decisions, grants)
	return &Metrics{decisions: decisions, grants: grants}
}

func (m *Metrics) observe(op Operation, changed int, err error) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(op.String(), outcome(err)).Inc()
	if err == nil && changed > 0 {
		m.grants.WithLabelValues(op.String()).Add(float64(changed))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, ErrAuthorizationDenied):
		return "denied"
	case errors.Is(err, ErrValidationFailed):
		return "invalid"
	case errors.Is(err, ErrConflictDuplicate):
		return "conflict"
	case errors.Is(err, ErrNotFoundState):
		return "not_found"
	}
	return "storage_failure"
}
