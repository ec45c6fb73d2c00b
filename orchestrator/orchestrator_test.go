package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoCodeAlone/pluginhost/circuitbreaker"
)

func TestSequentialRunsOneAtATime(t *testing.T) {
	var inFlight, maxInFlight int32
	load := func(ctx context.Context, name string) error {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxInFlight) {
			atomic.StoreInt32(&maxInFlight, n)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}

	res := Run(context.Background(), [][]string{{"a", "b", "c"}}, load, Config{Strategy: Sequential})
	if maxInFlight != 1 {
		t.Fatalf("expected sequential to run one at a time, max in-flight = %d", maxInFlight)
	}
	if res.Sample.PluginsLoaded != 3 {
		t.Fatalf("expected 3 loaded, got %d", res.Sample.PluginsLoaded)
	}
}

func TestBoundedParallelRespectsLimit(t *testing.T) {
	var inFlight, maxInFlight int32
	load := func(ctx context.Context, name string) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}

	res := Run(context.Background(), [][]string{{"a", "b", "c", "d", "e", "f"}}, load, Config{
		Strategy: BoundedParallel, Concurrency: 2,
	})
	if maxInFlight > 2 {
		t.Fatalf("expected at most 2 concurrent loads, observed %d", maxInFlight)
	}
	if res.Sample.PluginsAttempted != 6 {
		t.Fatalf("expected 6 attempted, got %d", res.Sample.PluginsAttempted)
	}
}

func TestAutoSelectsMinOf8AndBatchSize(t *testing.T) {
	batch := make([]string, 20)
	for i := range batch {
		batch[i] = "p"
	}
	res := Run(context.Background(), [][]string{batch}, func(ctx context.Context, name string) error { return nil }, Config{Strategy: Auto})
	if res.Sample.ConcurrencyLevel != 8 {
		t.Fatalf("expected auto concurrency min(8, batchSize)=8, got %d", res.Sample.ConcurrencyLevel)
	}
}

func TestTimeoutReportedAsFailure(t *testing.T) {
	load := func(ctx context.Context, name string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	res := Run(context.Background(), [][]string{{"slow"}}, load, Config{
		Strategy: Sequential, PerPluginTimeout: 5 * time.Millisecond,
	})
	if len(res.Outcomes) != 1 || !res.Outcomes[0].TimedOut {
		t.Fatalf("expected a timeout outcome, got %+v", res.Outcomes)
	}
	if res.Sample.FailureRate != 1 {
		t.Fatalf("expected failure rate 1, got %f", res.Sample.FailureRate)
	}
}

func TestCircuitOpenSkipsFurtherAttempts(t *testing.T) {
	calls := 0
	load := func(ctx context.Context, name string) error {
		calls++
		return errors.New("boom")
	}
	cfg := Config{Strategy: Sequential}
	cfg = cfg.withDefaults()
	cfg.Breakers.GetOrCreate(circuitbreaker.Config{Name: "flaky", FailureThreshold: 5})

	// Drive the circuit open first.
	for i := 0; i < 10; i++ {
		Run(context.Background(), [][]string{{"flaky"}}, load, cfg)
	}

	before := calls
	Run(context.Background(), [][]string{{"flaky"}}, load, cfg)
	if calls != before {
		t.Fatalf("expected open circuit to skip the load function entirely, calls went from %d to %d", before, calls)
	}
}

func TestBatchesRunInOrder(t *testing.T) {
	var order []string
	load := func(ctx context.Context, name string) error {
		order = append(order, name)
		return nil
	}
	Run(context.Background(), [][]string{{"auth"}, {"orders"}}, load, Config{Strategy: Sequential})
	if len(order) != 2 || order[0] != "auth" || order[1] != "orders" {
		t.Fatalf("order = %v, want [auth orders]", order)
	}
}
