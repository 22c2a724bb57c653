// Package profiler records per-stage latencies of classification runs.
package profiler

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Profiler collects durations per named stage. It is safe for concurrent use.
type Profiler struct {
	mu    sync.Mutex
	times map[string][]time.Duration
	now   func() time.Time
}

// New creates an empty profiler
func New() *Profiler {
	return &Profiler{
		times: make(map[string][]time.Duration),
		now:   time.Now,
	}
}

// Time runs fn and records its duration under stage
func (p *Profiler) Time(stage string, fn func() error) error {
	start := p.now()
	err := fn()
	p.Record(stage, p.now().Sub(start))
	return err
}

// Record adds one measurement for stage
func (p *Profiler) Record(stage string, d time.Duration) {
	p.mu.Lock()
	p.times[stage] = append(p.times[stage], d)
	p.mu.Unlock()
}

// Stats summarizes the measurements of one stage
type Stats struct {
	Stage   string
	Count   int
	Total   time.Duration
	Average time.Duration
	Min     time.Duration
	Max     time.Duration
	P95     time.Duration
}

// Stats returns the summary for stage. Count is zero when nothing was recorded.
func (p *Profiler) Stats(stage string) Stats {
	p.mu.Lock()
	sorted := append([]time.Duration(nil), p.times[stage]...)
	p.mu.Unlock()

	if len(sorted) == 0 {
		return Stats{Stage: stage}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return Stats{
		Stage:   stage,
		Count:   len(sorted),
		Total:   total,
		Average: total / time.Duration(len(sorted)),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		P95:     sorted[(len(sorted)*95)/100],
	}
}

// All returns the summaries of every stage sorted by name
func (p *Profiler) All() []Stats {
	p.mu.Lock()
	stages := make([]string, 0, len(p.times))
	for stage := range p.times {
		stages = append(stages, stage)
	}
	p.mu.Unlock()

	sort.Strings(stages)
	all := make([]Stats, 0, len(stages))
	for _, stage := range stages {
		all = append(all, p.Stats(stage))
	}
	return all
}

// Report writes a timing table to w
func (p *Profiler) Report(w io.Writer) {
	all := p.All()
	if len(all) == 0 {
		fmt.Fprintln(w, "No timing data available")
		return
	}

	fmt.Fprintf(w, "⏱️  Timing Report\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "%-12s %6s %10s %10s %10s %10s\n", "Stage", "Count", "Total", "Avg", "Max", "P95")
	fmt.Fprintf(w, "───────────────────────────────────────────────────────────\n")
	for _, s := range all {
		fmt.Fprintf(w, "%-12s %6d %10s %10s %10s %10s\n",
			truncate(s.Stage, 12), s.Count,
			formatDuration(s.Total), formatDuration(s.Average),
			formatDuration(s.Max), formatDuration(s.P95))
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fμs", float64(d.Nanoseconds())/1e3)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	default:
		return fmt.Sprintf("%.3fs", d.Seconds())
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
