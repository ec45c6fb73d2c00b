package depgraph

import (
	"reflect"
	"testing"
)

func TestHappyPathBatches(t *testing.T) {
	res := Build([]Node{
		{Name: "auth", Dependencies: nil},
		{Name: "orders", Dependencies: []string{"auth"}},
	})

	if len(res.Cycles) != 0 || len(res.Unsatisfied) != 0 {
		t.Fatalf("unexpected cycles=%v unsatisfied=%v", res.Cycles, res.Unsatisfied)
	}
	want := [][]string{{"auth"}, {"orders"}}
	if !reflect.DeepEqual(res.Batches, want) {
		t.Fatalf("batches = %v, want %v", res.Batches, want)
	}
}

func TestCycleExcludesBothFromOrder(t *testing.T) {
	res := Build([]Node{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"a"}},
	})

	if len(res.Cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %v", res.Cycles)
	}
	if len(res.Order) != 0 {
		t.Fatalf("expected empty order for an all-cyclic graph, got %v", res.Order)
	}
}

func TestUnsatisfiedDependencyCascades(t *testing.T) {
	res := Build([]Node{
		{Name: "core", Dependencies: []string{"missing"}},
		{Name: "cache", Dependencies: []string{"core"}},
		{Name: "api", Dependencies: []string{"cache"}},
	})

	want := []string{"api", "cache", "core"}
	if !reflect.DeepEqual(res.Unsatisfied, want) {
		t.Fatalf("unsatisfied = %v, want %v", res.Unsatisfied, want)
	}
	if len(res.Order) != 0 {
		t.Fatalf("expected no plugin to load, got order=%v", res.Order)
	}
}

func TestBatchIndependence(t *testing.T) {
	res := Build([]Node{
		{Name: "a", Dependencies: nil},
		{Name: "b", Dependencies: nil},
		{Name: "c", Dependencies: []string{"a", "b"}},
	})

	for _, batch := range res.Batches {
		for _, p := range batch {
			for _, q := range batch {
				if p == q {
					continue
				}
				for _, dep := range res.Graph.Outgoing[p] {
					if dep == q {
						t.Fatalf("batch %v contains dependency edge %s -> %s", batch, p, q)
					}
				}
			}
		}
	}
}

func TestLoadOrderTieBreak(t *testing.T) {
	res := Build([]Node{
		{Name: "z", Dependencies: nil, LoadOrder: 1},
		{Name: "a", Dependencies: nil, LoadOrder: 1},
		{Name: "m", Dependencies: nil, LoadOrder: 0},
	})

	want := []string{"m", "a", "z"}
	if !reflect.DeepEqual(res.Batches[0], want) {
		t.Fatalf("batch 0 = %v, want %v (loadOrder then name tie-break)", res.Batches[0], want)
	}
}

func TestCriticalDownstreamClosure(t *testing.T) {
	res := Build([]Node{
		{Name: "core", Dependencies: nil, Critical: true},
		{Name: "cache", Dependencies: []string{"core"}},
		{Name: "api", Dependencies: []string{"cache"}},
		{Name: "unrelated", Dependencies: nil},
	})

	downstream := res.Graph.CriticalDownstream("core")
	want := []string{"api", "cache", "core"}
	if !reflect.DeepEqual(downstream, want) {
		t.Fatalf("CriticalDownstream(core) = %v, want %v", downstream, want)
	}
}

func TestReverseOrder(t *testing.T) {
	got := ReverseOrder([]string{"a", "b", "c"})
	want := []string{"c", "b", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReverseOrder = %v, want %v", got, want)
	}
}
