package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type phaseKey struct {
	phase  string
	result string
}

type sagaCollector struct {
	mu            sync.Mutex
	phases        map[phaseKey]uint64
	phaseDuration map[string]*histogram
	terminals     map[string]uint64
	compOK        uint64
	compFailed    uint64
}

var sagaMetrics = &sagaCollector{
	phases:        make(map[phaseKey]uint64),
	phaseDuration: make(map[string]*histogram),
	terminals:     make(map[string]uint64),
}

// ObservePhase records the outcome of a single phase attempt. The result
// label is one of success, retry, rollback or abort.
func ObservePhase(phase, result string, duration time.Duration) {
	sagaMetrics.mu.Lock()
	defer sagaMetrics.mu.Unlock()

	sagaMetrics.phases[phaseKey{phase: phase, result: result}]++
	hist := sagaMetrics.phaseDuration[phase]
	if hist == nil {
		hist = newHistogram()
		sagaMetrics.phaseDuration[phase] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveTerminal records a task reaching a terminal phase.
func ObserveTerminal(phase string) {
	sagaMetrics.mu.Lock()
	defer sagaMetrics.mu.Unlock()
	sagaMetrics.terminals[phase]++
}

// AddCompensations records the result counts of a compensation sweep.
func AddCompensations(succeeded, failed int) {
	sagaMetrics.mu.Lock()
	defer sagaMetrics.mu.Unlock()
	if succeeded > 0 {
		sagaMetrics.compOK += uint64(succeeded)
	}
	if failed > 0 {
		sagaMetrics.compFailed += uint64(failed)
	}
}

func (c *sagaCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type phaseMetric struct {
		phaseKey
		value uint64
	}
	phases := make([]phaseMetric, 0, len(c.phases))
	for key, value := range c.phases {
		phases = append(phases, phaseMetric{phaseKey: key, value: value})
	}
	sort.Slice(phases, func(i, j int) bool {
		if phases[i].phase == phases[j].phase {
			return phases[i].result < phases[j].result
		}
		return phases[i].phase < phases[j].phase
	})

	durations := make([]string, 0, len(c.phaseDuration))
	for phase := range c.phaseDuration {
		durations = append(durations, phase)
	}
	sort.Strings(durations)

	terminals := make([]string, 0, len(c.terminals))
	for phase := range c.terminals {
		terminals = append(terminals, phase)
	}
	sort.Strings(terminals)

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP gigflow_saga_phase_attempts_total Total number of saga phase attempts by outcome.\n")
	builder.WriteString("# TYPE gigflow_saga_phase_attempts_total counter\n")
	for _, metric := range phases {
		builder.WriteString(fmt.Sprintf("gigflow_saga_phase_attempts_total{phase=\"%s\",result=\"%s\"} %d\n",
			escape(metric.phase), escape(metric.result), metric.value))
	}

	builder.WriteString("# HELP gigflow_saga_phase_duration_seconds Saga phase attempt duration in seconds.\n")
	builder.WriteString("# TYPE gigflow_saga_phase_duration_seconds histogram\n")
	for _, phase := range durations {
		hist := c.phaseDuration[phase]
		for idx, bound := range hist.buckets {
			builder.WriteString(fmt.Sprintf("gigflow_saga_phase_duration_seconds_bucket{phase=\"%s\",le=\"%s\"} %d\n",
				escape(phase), formatFloat(bound), hist.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("gigflow_saga_phase_duration_seconds_bucket{phase=\"%s\",le=\"+Inf\"} %d\n",
			escape(phase), hist.count))
		builder.WriteString(fmt.Sprintf("gigflow_saga_phase_duration_seconds_sum{phase=\"%s\"} %s\n",
			escape(phase), formatFloat(hist.sum)))
		builder.WriteString(fmt.Sprintf("gigflow_saga_phase_duration_seconds_count{phase=\"%s\"} %d\n",
			escape(phase), hist.count))
	}

	builder.WriteString("# HELP gigflow_saga_tasks_terminal_total Total number of tasks that reached a terminal phase.\n")
	builder.WriteString("# TYPE gigflow_saga_tasks_terminal_total counter\n")
	for _, phase := range terminals {
		builder.WriteString(fmt.Sprintf("gigflow_saga_tasks_terminal_total{phase=\"%s\"} %d\n",
			escape(phase), c.terminals[phase]))
	}

	builder.WriteString("# HELP gigflow_saga_compensations_total Total number of compensation actions by result.\n")
	builder.WriteString("# TYPE gigflow_saga_compensations_total counter\n")
	builder.WriteString(fmt.Sprintf("gigflow_saga_compensations_total{result=\"success\"} %d\n", c.compOK))
	builder.WriteString(fmt.Sprintf("gigflow_saga_compensations_total{result=\"failure\"} %d\n", c.compFailed))

	return builder.String()
}
