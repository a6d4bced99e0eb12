package profiler

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestStats(t *testing.T) {
	p := New()
	for _, ms := range []int{5, 1, 3, 2, 4} {
		p.Record("predict", time.Duration(ms)*time.Millisecond)
	}

	s := p.Stats("predict")
	if s.Count != 5 {
		t.Fatalf("count = %d, want 5", s.Count)
	}
	if s.Total != 15*time.Millisecond || s.Average != 3*time.Millisecond {
		t.Errorf("total/avg = %v/%v", s.Total, s.Average)
	}
	if s.Min != time.Millisecond || s.Max != 5*time.Millisecond || s.Median != 3*time.Millisecond {
		t.Errorf("min/max/median = %v/%v/%v", s.Min, s.Max, s.Median)
	}

	if empty := p.Stats("unknown"); empty.Count != 0 {
		t.Errorf("expected empty stats, got %+v", empty)
	}
}

func TestAllKeepsRecordingOrder(t *testing.T) {
	p := New()
	p.Start("collect").Stop()
	p.Record("fit", time.Millisecond)
	p.Record("collect", time.Millisecond)

	all := p.All()
	if len(all) != 2 || all[0].Name != "collect" || all[1].Name != "fit" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if p.Totals()["fit"] != time.Millisecond {
		t.Errorf("totals = %v", p.Totals())
	}

	var buf bytes.Buffer
	p.Fprint(&buf)
	if !strings.Contains(buf.String(), "collect") || !strings.Contains(buf.String(), "fit") {
		t.Errorf("report missing operations:\n%s", buf.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		500 * time.Nanosecond:   "500ns",
		1500 * time.Nanosecond:  "1.5µs",
		2500 * time.Microsecond: "2.50ms",
		1500 * time.Millisecond: "1.500s",
	}
	for d, want := range tests {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
