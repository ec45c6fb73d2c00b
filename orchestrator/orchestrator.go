// Package orchestrator implements the loading strategy orchestrator (C8):
// it runs a batched load plan sequentially, fully in parallel, or with
// bounded concurrency, wrapping each plugin load with a circuit breaker
// and a per-plugin timeout. Concurrency control follows the reference
// stack's logging and state-tracking idiom (see orchestration.Coordinator)
// and uses golang.org/x/sync/errgroup for bounded fan-out.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/pluginhost/circuitbreaker"
)

// Strategy selects how batches are scheduled.
type Strategy string

const (
	Sequential      Strategy = "sequential"
	Parallel        Strategy = "parallel"
	BoundedParallel Strategy = "bounded-parallel"
	Auto            Strategy = "auto"
)

// LoadFunc loads a single named plugin. A non-nil error counts as a
// failure for circuit-breaker and sample-recording purposes.
type LoadFunc func(ctx context.Context, name string) error

// Config parameterizes a run.
type Config struct {
	Strategy Strategy
	// Concurrency bounds BoundedParallel and Auto; ignored by Sequential
	// and Parallel. Zero means min(8, batchSize) is computed per batch.
	Concurrency int
	// PerPluginTimeout bounds a single plugin's load. Defaults to 30s.
	PerPluginTimeout time.Duration
	Breakers         *circuitbreaker.Registry
	Logger           *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PerPluginTimeout <= 0 {
		c.PerPluginTimeout = 30 * time.Second
	}
	if c.Breakers == nil {
		c.Breakers = circuitbreaker.NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Outcome records one plugin's result within a run.
type Outcome struct {
	Name      string
	Err       error
	TimedOut  bool
	CircuitOpen bool
	Duration  time.Duration
}

// Sample is the performance sample recorded once per Run.
type Sample struct {
	TotalLoadTimeMs  int64
	PluginsAttempted int
	PluginsLoaded    int
	ConcurrencyLevel int
	FailureRate      float64
}

// Result is the full output of a Run.
type Result struct {
	Outcomes []Outcome
	Sample   Sample
}

// Run executes batches in order; batch k does not begin until every
// plugin in batches 0..k-1 has reached a terminal outcome. All strategies
// emit identical Outcome/Sample data; only scheduling differs.
func Run(ctx context.Context, batches [][]string, load LoadFunc, cfg Config) Result {
	cfg = cfg.withDefaults()
	start := time.Now()

	var outcomes []Outcome
	loaded := 0

	for _, batch := range batches {
		var batchOutcomes []Outcome
		switch resolveStrategy(cfg.Strategy, len(batch)) {
		case Sequential:
			batchOutcomes = runSequential(ctx, batch, load, cfg)
		case Parallel:
			batchOutcomes = runBounded(ctx, batch, load, cfg, len(batch))
		default: // BoundedParallel, Auto
			n := cfg.Concurrency
			if n <= 0 {
				n = min(8, len(batch))
			}
			batchOutcomes = runBounded(ctx, batch, load, cfg, n)
		}
		for _, o := range batchOutcomes {
			if o.Err == nil {
				loaded++
			}
		}
		outcomes = append(outcomes, batchOutcomes...)
	}

	attempted := len(outcomes)
	var failureRate float64
	if attempted > 0 {
		failureRate = float64(attempted-loaded) / float64(attempted)
	}

	return Result{
		Outcomes: outcomes,
		Sample: Sample{
			TotalLoadTimeMs:  time.Since(start).Milliseconds(),
			PluginsAttempted: attempted,
			PluginsLoaded:    loaded,
			ConcurrencyLevel: concurrencyLevel(cfg, batches),
			FailureRate:      failureRate,
		},
	}
}

func resolveStrategy(s Strategy, batchSize int) Strategy {
	if s == "" || s == Auto {
		return BoundedParallel
	}
	return s
}

func concurrencyLevel(cfg Config, batches [][]string) int {
	if cfg.Strategy == Sequential {
		return 1
	}
	max := 0
	for _, b := range batches {
		n := len(b)
		if cfg.Strategy == BoundedParallel || cfg.Strategy == Auto || cfg.Strategy == "" {
			if cfg.Concurrency > 0 {
				n = cfg.Concurrency
			} else {
				n = min(8, len(b))
			}
		}
		if n > max {
			max = n
		}
	}
	return max
}

func runSequential(ctx context.Context, batch []string, load LoadFunc, cfg Config) []Outcome {
	outcomes := make([]Outcome, 0, len(batch))
	for _, name := range batch {
		outcomes = append(outcomes, loadOne(ctx, name, load, cfg))
	}
	return outcomes
}

// runBounded loads batch with up to concurrency loads in flight at once,
// using errgroup to fan out and wait. A single plugin's failure never
// cancels the others -- loadOne already isolates errors into Outcome, so
// the group function itself never returns an error.
func runBounded(ctx context.Context, batch []string, load LoadFunc, cfg Config, concurrency int) []Outcome {
	if concurrency <= 0 {
		concurrency = 1
	}
	outcomes := make([]Outcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, concurrency)

	for i, name := range batch {
		i, name := i, name
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			outcomes[i] = loadOne(gctx, name, load, cfg)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func loadOne(ctx context.Context, name string, load LoadFunc, cfg Config) Outcome {
	start := time.Now()
	breaker := cfg.Breakers.GetOrCreate(circuitbreaker.Config{Name: name})

	loadCtx, cancel := context.WithTimeout(ctx, cfg.PerPluginTimeout)
	defer cancel()

	err := breaker.Execute(loadCtx, func(c context.Context) error {
		return load(c, name)
	})

	out := Outcome{Name: name, Duration: time.Since(start)}
	switch {
	case err == circuitbreaker.ErrOpen:
		out.CircuitOpen = true
		out.Err = err
		cfg.Logger.Warn("plugin load skipped, circuit open", "plugin", name)
	case loadCtx.Err() == context.DeadlineExceeded:
		out.TimedOut = true
		out.Err = fmt.Errorf("orchestrator: plugin %q timed out after %s", name, cfg.PerPluginTimeout)
		cfg.Logger.Error("plugin load timed out", "plugin", name, "timeout", cfg.PerPluginTimeout)
	case err != nil:
		out.Err = err
		cfg.Logger.Error("plugin load failed", "plugin", name, "error", err)
	default:
		cfg.Logger.Info("plugin loaded", "plugin", name, "duration", out.Duration)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
