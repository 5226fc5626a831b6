package router

import (
	"sort"
	"sync"

	"github.com/kari-ai/kari-core/internal/domain"
)

// Policy is the rule governing provider ordering.
type Policy string

const (
	PolicyPriority   Policy = "priority"
	PolicyRoundRobin Policy = "round_robin"
	PolicyHybrid     Policy = "hybrid"
)

func ValidPolicy(p string) bool {
	switch Policy(p) {
	case PolicyPriority, PolicyRoundRobin, PolicyHybrid:
		return true
	}
	return false
}

var bucketRank = func() map[domain.PriorityBucket]int {
	m := make(map[domain.PriorityBucket]int, len(domain.BucketOrder))
	for i, b := range domain.BucketOrder {
		m[b] = i
	}
	return m
}()

// rotor holds the rotation counters round-robin and hybrid ordering use.
type rotor struct {
	mu      sync.Mutex
	flat    int
	buckets map[domain.PriorityBucket]int
}

func newRotor() *rotor {
	return &rotor{buckets: make(map[domain.PriorityBucket]int)}
}

func (r *rotor) nextFlat() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.flat
	r.flat++
	return n
}

func (r *rotor) nextBucket(b domain.PriorityBucket) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.buckets[b]
	r.buckets[b] = n + 1
	return n
}

// order arranges the candidate specs per the policy.
//
// Priority walks the local-first ladder with alphabetical ties.
// RoundRobin rotates the flattened list. Hybrid rotates within each
// priority bucket while preserving bucket order across buckets.
func order(policy Policy, specs []*domain.ProviderSpec, rot *rotor) []*domain.ProviderSpec {
	if len(specs) == 0 {
		return nil
	}

	ladder := make([]*domain.ProviderSpec, len(specs))
	copy(ladder, specs)
	sort.Slice(ladder, func(i, j int) bool {
		ri, rj := bucketRank[ladder[i].Bucket], bucketRank[ladder[j].Bucket]
		if ri != rj {
			return ri < rj
		}
		return ladder[i].Name < ladder[j].Name
	})

	switch policy {
	case PolicyRoundRobin:
		return rotate(ladder, rot.nextFlat())

	case PolicyHybrid:
		var out []*domain.ProviderSpec
		for _, bucket := range domain.BucketOrder {
			var group []*domain.ProviderSpec
			for _, s := range ladder {
				if s.Bucket == bucket {
					group = append(group, s)
				}
			}
			if len(group) == 0 {
				continue
			}
			out = append(out, rotate(group, rot.nextBucket(bucket))...)
		}
		return out

	default: // PolicyPriority
		return ladder
	}
}

func rotate(specs []*domain.ProviderSpec, n int) []*domain.ProviderSpec {
	if len(specs) == 0 {
		return specs
	}
	offset := n % len(specs)
	out := make([]*domain.ProviderSpec, 0, len(specs))
	out = append(out, specs[offset:]...)
	out = append(out, specs[:offset]...)
	return out
}
