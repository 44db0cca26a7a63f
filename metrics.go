package labmodular

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RegistryCollector implements prometheus.Collector over a Registry. It
// exposes:
//
//	<ns>_module_state{module,class,state}      1 for the current state of each module
//	<ns>_modules{state}                         number of modules per state
//	<ns>_transitions_total{state}               cumulative state entries
//	<ns>_exposures                              size of the exposure table
//
// Metrics are built on scrape from Snapshot.
type RegistryCollector struct {
	registry *Registry

	moduleStateDesc *prometheus.Desc
	modulesDesc     *prometheus.Desc
	transitionsDesc *prometheus.Desc
	exposuresDesc   *prometheus.Desc
}

var allStates = []State{StateUnloaded, StateDeactivated, StateActivated, StateBroken}

// NewRegistryCollector creates a collector for registry. namespace defaults
// to "labmodular".
func NewRegistryCollector(registry *Registry, namespace string) *RegistryCollector {
	if namespace == "" {
		namespace = "labmodular"
	}
	return &RegistryCollector{
		registry: registry,
		moduleStateDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_module_state", namespace),
			"Current lifecycle state of each module (1 for the active state)",
			[]string{"module", "class", "state"}, nil,
		),
		modulesDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_modules", namespace),
			"Number of registered modules per lifecycle state",
			[]string{"state"}, nil,
		),
		transitionsDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_transitions_total", namespace),
			"Lifecycle state entries (cumulative)",
			[]string{"state"}, nil,
		),
		exposuresDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_exposures", namespace),
			"Number of modules exposed to remote peers",
			nil, nil,
		),
	}
}

func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.moduleStateDesc
	ch <- c.modulesDesc
	ch <- c.transitionsDesc
	ch <- c.exposuresDesc
}

func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	counts := make(map[State]int, len(allStates))
	for _, info := range c.registry.Snapshot() {
		counts[info.State]++
		for _, s := range allStates {
			v := 0.0
			if s == info.State {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.moduleStateDesc, prometheus.GaugeValue, v, info.Name, info.Class, s.String())
		}
	}
	transitions := c.registry.TransitionCounts()
	for _, s := range allStates {
		ch <- prometheus.MustNewConstMetric(c.modulesDesc, prometheus.GaugeValue, float64(counts[s]), s.String())
		ch <- prometheus.MustNewConstMetric(c.transitionsDesc, prometheus.CounterValue, float64(transitions[s]), s.String())
	}
	ch <- prometheus.MustNewConstMetric(c.exposuresDesc, prometheus.GaugeValue, float64(len(c.registry.Exposures())))
}
