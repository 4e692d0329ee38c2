package diagnostics

import (
	"math"
	"time"

	"github.com/g960059/riskdesk/internal/model"
)

type rollingLog[T any] struct {
	limit int
	items []T
}

func newRollingLog[T any](limit int) *rollingLog[T] {
	return &rollingLog[T]{limit: limit, items: make([]T, 0, limit)}
}

// push appends v, evicting the oldest entry once the log is full.
func (l *rollingLog[T]) push(v T) {
	if len(l.items) >= l.limit {
		copy(l.items, l.items[1:])
		l.items = l.items[:len(l.items)-1]
	}
	l.items = append(l.items, v)
}

func (l *rollingLog[T]) snapshot() []T {
	return append([]T(nil), l.items...)
}

func (l *rollingLog[T]) len() int {
	return len(l.items)
}

type perfSample struct {
	duration  time.Duration
	succeeded bool
	at        time.Time
}

// RecordPerformanceSample appends one timing to the operation's window.
func (c *Classifier) RecordPerformanceSample(operation string, duration time.Duration, succeeded bool) {
	if operation == "" {
		return
	}
	if duration < 0 {
		duration = 0
	}
	c.mu.Lock()
	window, ok := c.perf[operation]
	if !ok {
		window = newRollingLog[perfSample](MaxLogEntries)
		c.perf[operation] = window
	}
	window.push(perfSample{duration: duration, succeeded: succeeded, at: c.now().UTC()})
	c.mu.Unlock()

	c.metrics.observeDuration(operation, duration, succeeded)
}

func (c *Classifier) GetPerformanceSummary() map[string]model.OperationSummary {
	c.mu.Lock()
	windows := make(map[string][]perfSample, len(c.perf))
	for op, w := range c.perf {
		windows[op] = w.snapshot()
	}
	c.mu.Unlock()

	out := make(map[string]model.OperationSummary, len(windows))
	for op, samples := range windows {
		out[op] = summarize(samples)
	}
	return out
}

func summarize(samples []perfSample) model.OperationSummary {
	if len(samples) == 0 {
		return model.OperationSummary{}
	}
	var (
		total     float64
		succeeded int
		minMs     = math.MaxFloat64
		maxMs     float64
	)
	for _, s := range samples {
		ms := float64(s.duration) / float64(time.Millisecond)
		total += ms
		if ms < minMs {
			minMs = ms
		}
		if ms > maxMs {
			maxMs = ms
		}
		if s.succeeded {
			succeeded++
		}
	}
	n := float64(len(samples))
	return model.OperationSummary{
		Count:              len(samples),
		SuccessRatePercent: round2(float64(succeeded) / n * 100),
		AvgDurationMs:      round2(total / n),
		MinDurationMs:      round2(minMs),
		MaxDurationMs:      round2(maxMs),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
