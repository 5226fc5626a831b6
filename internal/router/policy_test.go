package router

import (
	"testing"

	"github.com/kari-ai/kari-core/internal/domain"
)

func spec(name string, bucket domain.PriorityBucket) *domain.ProviderSpec {
	return &domain.ProviderSpec{Name: name, Bucket: bucket}
}

func names(specs []*domain.ProviderSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrder_PriorityLadder(t *testing.T) {
	specs := []*domain.ProviderSpec{
		spec("zeta", domain.BucketLocal),
		spec("alpha", domain.BucketRemote),
		spec("beta", domain.BucketRemote),
		spec("gamma", domain.BucketFallback),
	}

	got := names(order(PolicyPriority, specs, newRotor()))
	want := []string{"zeta", "alpha", "beta", "gamma"}
	if !equal(got, want) {
		t.Errorf("priority order = %v, want %v", got, want)
	}
}

func TestOrder_RoundRobinRotation(t *testing.T) {
	specs := []*domain.ProviderSpec{
		spec("a", domain.BucketRemote),
		spec("b", domain.BucketRemote),
		spec("c", domain.BucketRemote),
	}
	rot := newRotor()

	first := names(order(PolicyRoundRobin, specs, rot))
	second := names(order(PolicyRoundRobin, specs, rot))
	third := names(order(PolicyRoundRobin, specs, rot))
	fourth := names(order(PolicyRoundRobin, specs, rot))

	if !equal(first, []string{"a", "b", "c"}) {
		t.Errorf("first rotation = %v", first)
	}
	if !equal(second, []string{"b", "c", "a"}) {
		t.Errorf("second rotation = %v", second)
	}
	if !equal(third, []string{"c", "a", "b"}) {
		t.Errorf("third rotation = %v", third)
	}
	if !equal(fourth, first) {
		t.Errorf("rotation must wrap, got %v", fourth)
	}
}

func TestOrder_HybridRotatesWithinBuckets(t *testing.T) {
	specs := []*domain.ProviderSpec{
		spec("r1", domain.BucketRemote),
		spec("r2", domain.BucketRemote),
		spec("l1", domain.BucketLocal),
	}
	rot := newRotor()

	first := names(order(PolicyHybrid, specs, rot))
	second := names(order(PolicyHybrid, specs, rot))

	// The local bucket always leads; the remote pair rotates behind it.
	if !equal(first, []string{"l1", "r1", "r2"}) {
		t.Errorf("first hybrid order = %v", first)
	}
	if !equal(second, []string{"l1", "r2", "r1"}) {
		t.Errorf("second hybrid order = %v", second)
	}
}

func TestOrder_Empty(t *testing.T) {
	if got := order(PolicyPriority, nil, newRotor()); got != nil {
		t.Errorf("expected nil for no candidates, got %v", got)
	}
}

func TestValidPolicy(t *testing.T) {
	for _, p := range []string{"priority", "round_robin", "hybrid"} {
		if !ValidPolicy(p) {
			t.Errorf("%s should be valid", p)
		}
	}
	if ValidPolicy("random") {
		t.Error("random is not a policy")
	}
}
