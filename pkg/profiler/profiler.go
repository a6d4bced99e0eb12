// Package profiler records wall-clock timings of named operations such as
// training stages and per-message predictions.
package profiler

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Profiler tracks execution times for different operations
type Profiler struct {
	mu    sync.RWMutex
	order []string
	times map[string][]time.Duration
}

// New creates a new profiler
func New() *Profiler {
	return &Profiler{times: make(map[string][]time.Duration)}
}

// Timer represents a timing operation
type Timer struct {
	profiler *Profiler
	name     string
	start    time.Time
}

// Start begins timing an operation
func (p *Profiler) Start(name string) *Timer {
	return &Timer{profiler: p, name: name, start: time.Now()}
}

// Stop completes the timing and records the duration
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	t.profiler.Record(t.name, d)
	return d
}

// Record manually records a timing
func (p *Profiler) Record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.times[name]; !ok {
		p.order = append(p.order, name)
	}
	p.times[name] = append(p.times[name], d)
}

// Stats contains timing statistics
type Stats struct {
	Name    string
	Count   int
	Total   time.Duration
	Average time.Duration
	Min     time.Duration
	Max     time.Duration
	Median  time.Duration
	P95     time.Duration
}

// Stats returns timing statistics for an operation
func (p *Profiler) Stats(name string) Stats {
	p.mu.RLock()
	sorted := append([]time.Duration(nil), p.times[name]...)
	p.mu.RUnlock()

	if len(sorted) == 0 {
		return Stats{Name: name}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return Stats{
		Name:    name,
		Count:   len(sorted),
		Total:   total,
		Average: total / time.Duration(len(sorted)),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Median:  sorted[len(sorted)/2],
		P95:     sorted[int(float64(len(sorted)-1)*0.95)],
	}
}

// All returns statistics for every operation in first-recorded order.
func (p *Profiler) All() []Stats {
	p.mu.RLock()
	names := append([]string(nil), p.order...)
	p.mu.RUnlock()

	out := make([]Stats, 0, len(names))
	for _, name := range names {
		out = append(out, p.Stats(name))
	}
	return out
}

// Totals maps each operation to its total duration.
func (p *Profiler) Totals() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, s := range p.All() {
		out[s.Name] = s.Total
	}
	return out
}

// Fprint writes a formatted timing table
func (p *Profiler) Fprint(w io.Writer) {
	stats := p.All()
	if len(stats) == 0 {
		fmt.Fprintln(w, "No timing data available")
		return
	}

	fmt.Fprintf(w, "%-20s %8s %10s %10s %10s %10s\n", "Operation", "Count", "Total", "Avg", "Max", "P95")
	for _, s := range stats {
		fmt.Fprintf(w, "%-20s %8d %10s %10s %10s %10s\n",
			truncate(s.Name, 20), s.Count,
			FormatDuration(s.Total), FormatDuration(s.Average),
			FormatDuration(s.Max), FormatDuration(s.P95))
	}
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1e3)
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
