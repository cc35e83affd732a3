package modctx

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/modctx/installer"
)

// MetricsBeanName is the name of the metrics bean in the context
// infrastructure module.
const MetricsBeanName = "modctxMetrics"

// Metrics records bootstrap durations, installer runs and module statuses.
type Metrics struct {
	moduleDuration *prometheus.HistogramVec
	installerRuns  *prometheus.CounterVec
	modules        *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		moduleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_bootstrap_duration_seconds",
				Help:      "Time taken to bootstrap a module scope",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"module"},
		),
		installerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installer_runs_total",
				Help:      "Installers considered during bootstrap, by resulting action",
			},
			[]string{"module", "installer", "action"},
		),
		modules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "modules",
				Help:      "Modules of the context by bootstrap status",
			},
			[]string{"status"},
		),
	}

	if reg == nil {
		return m, nil
	}
	var err error
	if m.moduleDuration, err = register(reg, m.moduleDuration); err != nil {
		return nil, err
	}
	if m.installerRuns, err = register(reg, m.installerRuns); err != nil {
		return nil, err
	}
	if m.modules, err = register(reg, m.modules); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector registered by an
// earlier context.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("failed to register bootstrap metrics: %w", err)
	}
	return c, nil
}

// ObserveModule records how long a module took to bootstrap.
func (m *Metrics) ObserveModule(module string, d time.Duration) {
	if m == nil {
		return
	}
	m.moduleDuration.WithLabelValues(module).Observe(d.Seconds())
}

// InstallerResult counts one installer decision under its action. An
// executable installer whose version was already installed counts as
// "up-to-date".
func (m *Metrics) InstallerResult(_ installer.Phase, res installer.Result) {
	if m == nil {
		return
	}
	action := string(res.Action)
	if res.Action == installer.ActionExecute && !res.Ran {
		action = "up-to-date"
	}
	m.installerRuns.WithLabelValues(res.Module, res.Installer, action).Inc()
}

// UpdateStatuses sets the module gauge from info.
func (m *Metrics) UpdateStatuses(info *ContextInfo) {
	if m == nil || info == nil {
		return
	}
	counts := info.StatusCounts()
	for status := range moduleStatusNames {
		m.modules.WithLabelValues(status.String()).Set(float64(counts[status]))
	}
}
