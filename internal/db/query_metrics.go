package db

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hookline/intake/internal/observability"
)

// recorderWindow bounds the retained samples per query name.
const recorderWindow = 512

type queryLatencySummary struct {
	Name  string
	Count int
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// latencyRecorder keeps a sliding window of statement durations per query.
type latencyRecorder struct {
	mu      sync.Mutex
	samples map[string][]time.Duration
}

func newLatencyRecorder() *latencyRecorder {
	return &latencyRecorder{samples: make(map[string][]time.Duration)}
}

func (r *latencyRecorder) record(name string, elapsed time.Duration) {
	if r == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "unknown"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	window := append(r.samples[name], elapsed)
	if overflow := len(window) - recorderWindow; overflow > 0 {
		window = window[overflow:]
	}
	r.samples[name] = window
}

func (r *latencyRecorder) summaries() []queryLatencySummary {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]queryLatencySummary, 0, len(r.samples))
	for name, window := range r.samples {
		if len(window) == 0 {
			continue
		}
		sorted := make([]time.Duration, len(window))
		copy(sorted, window)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		out = append(out, queryLatencySummary{
			Name:  name,
			Count: len(sorted),
			P50:   percentileOf(sorted, 0.50),
			P95:   percentileOf(sorted, 0.95),
			Max:   sorted[len(sorted)-1],
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].P95 == out[j].P95 {
			return out[i].Name < out[j].Name
		}
		return out[i].P95 > out[j].P95
	})
	return out
}

// percentileOf reads the nearest-rank percentile from an ascending window.
func percentileOf(sorted []time.Duration, ratio float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*ratio)]
}

// QueryLatencyStats returns the current per-query latency distribution,
// slowest p95 first.
func (c *Database) QueryLatencyStats() []queryLatencySummary {
	if c == nil || c.tracker == nil {
		return nil
	}
	return c.tracker.summaries()
}

// timedDBTX traces and times every statement that passes through it.
type timedDBTX struct {
	inner    DBTX
	recorder *latencyRecorder
}

func newTimedDBTX(inner DBTX, recorder *latencyRecorder) DBTX {
	if recorder == nil {
		return inner
	}
	return &timedDBTX{inner: inner, recorder: recorder}
}

// observe opens a span for one statement and returns the completion hook.
func (d *timedDBTX) observe(ctx context.Context, query, operation string) (context.Context, func(error)) {
	name := queryName(query)
	ctx, span := observability.StartDBSpan(ctx, name, operation)
	start := time.Now()
	return ctx, func(err error) {
		d.recorder.record(name, time.Since(start))
		span.RecordError(err)
		span.End()
	}
}

func (d *timedDBTX) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, done := d.observe(ctx, query, "exec")
	result, err := d.inner.ExecContext(ctx, query, args...)
	done(err)
	return result, err
}

func (d *timedDBTX) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	ctx, done := d.observe(ctx, query, "prepare")
	stmt, err := d.inner.PrepareContext(ctx, query)
	done(err)
	return stmt, err
}

func (d *timedDBTX) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx, done := d.observe(ctx, query, "query")
	rows, err := d.inner.QueryContext(ctx, query, args...)
	done(err)
	return rows, err
}

func (d *timedDBTX) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx, done := d.observe(ctx, query, "query_row")
	row := d.inner.QueryRowContext(ctx, query, args...)
	done(nil)
	return row
}

// queryName extracts the statement name from its "-- name:" header.
func queryName(query string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(query), "\n")
	rest, ok := strings.CutPrefix(strings.TrimSpace(first), "-- name:")
	if !ok {
		return "unknown"
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}
