package tsncase

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors that count what case generation produced.
// A nil *Metrics records nothing.
type Metrics struct {
	Cases       *prometheus.CounterVec
	Admissions  *prometheus.CounterVec
	Violations  *prometheus.CounterVec
	GenDuration prometheus.Histogram
}

// CreateMetrics registers the collectors against reg, the global registry when reg is nil.
// Collectors already registered under the same names are reused.
func CreateMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	cases, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsncase_cases_total",
		Help: "Generated cases, labeled by result: pass, fail, or the generation error kind.",
	}, []string{"result"}), "tsncase_cases_total")
	if err != nil {
		return nil, err
	}
	admissions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsncase_admissions_total",
		Help: "Stream admission decisions, labeled by outcome.",
	}, []string{"outcome"}), "tsncase_admissions_total")
	if err != nil {
		return nil, err
	}
	violations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsncase_violations_total",
		Help: "Validation violations, labeled by check.",
	}, []string{"check"}), "tsncase_violations_total")
	if err != nil {
		return nil, err
	}
	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsncase_generation_seconds",
		Help:    "Time to generate and validate one case.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}), "tsncase_generation_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{Cases: cases, Admissions: admissions, Violations: violations, GenDuration: duration}, nil
}

// ObserveCase counts one generation attempt: its result, the admission outcome of every
// stream, the violations found, and how long it took
func (m *Metrics) ObserveCase(c *Case, vr *ValidationResult, genErr error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GenDuration.Observe(elapsed.Seconds())

	switch {
	case genErr != nil:
		m.Cases.WithLabelValues(ErrorKind(genErr)).Inc()
	case vr != nil && vr.Pass:
		m.Cases.WithLabelValues("pass").Inc()
	default:
		m.Cases.WithLabelValues("fail").Inc()
	}

	if c != nil {
		m.Admissions.WithLabelValues("admitted").Add(float64(len(c.Routes)))
		for _, failure := range c.Failures {
			m.Admissions.WithLabelValues(AdmissionKind(failure)).Inc()
		}
	}
	if vr != nil {
		for _, v := range vr.Violations {
			m.Violations.WithLabelValues(v.Check).Inc()
		}
	}
}

// ObserveValidation counts the violations of a case validated on its own
func (m *Metrics) ObserveValidation(vr *ValidationResult) {
	if m == nil || vr == nil {
		return
	}
	for _, v := range vr.Violations {
		m.Violations.WithLabelValues(v.Check).Inc()
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
