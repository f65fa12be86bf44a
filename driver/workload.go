// Package driver generates synthetic workloads against an overlay.Overlay
// and aggregates the hop counts each operation reports, grounded on
// experiments/workload.py's WorkloadGenerator and experiments/runner.py's
// ExperimentResult.
package driver

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"

	"github.com/overlaylab/coreham/hash"
	"github.com/overlaylab/coreham/idspace"
)

// OperationType names the kind of Operation a WorkloadGenerator emits,
// mirroring experiments/workload.py's OperationType enum.
type OperationType string

const (
	OpLookup OperationType = "lookup"
	OpInsert OperationType = "insert"
	OpDelete OperationType = "delete"
	OpUpdate OperationType = "update"
	OpJoin   OperationType = "join"
	OpLeave  OperationType = "leave"
)

// Operation is a single workload step, per experiments/workload.py's
// Operation class.
type Operation struct {
	Type   OperationType
	Key    string
	Value  any
	NodeID idspace.NodeID
}

// OperationMix maps an OperationType to its selection probability.
// DefaultMix matches experiments/workload.py's documented default: 40%
// lookup, 20% insert, 10% delete, 10% update, 10% join, 10% leave.
var DefaultMix = map[OperationType]float64{
	OpLookup: 0.4,
	OpInsert: 0.2,
	OpDelete: 0.1,
	OpUpdate: 0.1,
	OpJoin:   0.1,
	OpLeave:  0.1,
}

// WorkloadGenerator produces reproducible Operation sequences from a
// seeded PRNG, per experiments/workload.py's WorkloadGenerator(seed).
type WorkloadGenerator struct {
	rng          *rand.Rand
	nextJoinNode idspace.NodeID
}

// NewWorkloadGenerator seeds a generator for deterministic, repeatable
// workloads across Chord/Pastry comparison runs.
func NewWorkloadGenerator(seed int64) *WorkloadGenerator {
	return &WorkloadGenerator{rng: rand.New(rand.NewSource(seed)), nextJoinNode: 10000}
}

// GenerateMixed produces numOps operations drawn from keys according to
// mix (nil selects DefaultMix), per generate_mixed_workload.
func (g *WorkloadGenerator) GenerateMixed(numOps int, keys []string, mix map[OperationType]float64) []Operation {
	if mix == nil {
		mix = DefaultMix
	}
	normalized := normalizeMix(mix)
	inserted := make(map[string]struct{})

	ops := make([]Operation, 0, numOps)
	for i := 0; i < numOps; i++ {
		switch pickOp(g.rng, normalized) {
		case OpLookup:
			key := keys[g.rng.Intn(len(keys))]
			ops = append(ops, Operation{Type: OpLookup, Key: key})
		case OpInsert:
			key := keys[g.rng.Intn(len(keys))]
			value := fmt.Sprintf("value_%d", g.rng.Intn(10000)+1)
			inserted[key] = struct{}{}
			ops = append(ops, Operation{Type: OpInsert, Key: key, Value: value})
		case OpDelete:
			key := pickInsertedOrRandom(g.rng, inserted, keys)
			delete(inserted, key)
			ops = append(ops, Operation{Type: OpDelete, Key: key})
		case OpUpdate:
			key := keys[g.rng.Intn(len(keys))]
			value := fmt.Sprintf("updated_value_%d", g.rng.Intn(10000)+1)
			ops = append(ops, Operation{Type: OpUpdate, Key: key, Value: value})
		case OpJoin:
			ops = append(ops, Operation{Type: OpJoin, NodeID: g.nextJoinNode})
			g.nextJoinNode++
		case OpLeave:
			ops = append(ops, Operation{Type: OpLeave, NodeID: idspace.NodeID(g.rng.Intn(1000))})
		}
	}
	return ops
}

// GenerateLookups produces numLookups lookup-only operations, per
// generate_lookup_workload.
func (g *WorkloadGenerator) GenerateLookups(numLookups int, keys []string) []Operation {
	ops := make([]Operation, 0, numLookups)
	for i := 0; i < numLookups; i++ {
		ops = append(ops, Operation{Type: OpLookup, Key: keys[g.rng.Intn(len(keys))]})
	}
	return ops
}

// GenerateInserts produces one insert operation per (key, value) pair,
// per generate_insert_workload.
func (g *WorkloadGenerator) GenerateInserts(items []KeyValue) []Operation {
	ops := make([]Operation, 0, len(items))
	for _, kv := range items {
		ops = append(ops, Operation{Type: OpInsert, Key: kv.Key, Value: kv.Value})
	}
	return ops
}

// KeyValue is an explicit (key, value) pair for GenerateInserts.
type KeyValue struct {
	Key   string
	Value any
}

// GenerateChurn interleaves numJoins join operations (assigning fresh
// ids past the highest of existingNodes) with numLeaves leave
// operations drawn from existingNodes, per generate_node_churn_workload.
// existingNodes is mutated as leave targets are chosen, matching the
// Python reference's in-place removal.
func (g *WorkloadGenerator) GenerateChurn(numJoins, numLeaves int, existingNodes *[]idspace.NodeID) []Operation {
	next := idspace.NodeID(1000)
	if len(*existingNodes) > 0 {
		next = maxID(*existingNodes) + 1
	}

	rounds := numJoins
	if numLeaves > rounds {
		rounds = numLeaves
	}

	var ops []Operation
	for i := 0; i < rounds; i++ {
		if i < numJoins {
			ops = append(ops, Operation{Type: OpJoin, NodeID: next})
			next++
		}
		if i < numLeaves && len(*existingNodes) > 0 {
			idx := g.rng.Intn(len(*existingNodes))
			target := (*existingNodes)[idx]
			*existingNodes = append((*existingNodes)[:idx], (*existingNodes)[idx+1:]...)
			ops = append(ops, Operation{Type: OpLeave, NodeID: target})
		}
	}
	return ops
}

// DefaultNodeID computes the deterministic node id spec.md §9's open
// question on driver-supplied ids resolves to: HashFn applied to a
// positional label, rather than evenly-spaced synthetic ids.
func DefaultNodeID(bits uint, index int) idspace.NodeID {
	return hash.ID(bits, hash.Normalize("node-"+strconv.Itoa(index)))
}

func normalizeMix(mix map[OperationType]float64) map[OperationType]float64 {
	var total float64
	for _, p := range mix {
		total += p
	}
	out := make(map[OperationType]float64, len(mix))
	for k, v := range mix {
		out[k] = v / total
	}
	return out
}

// order is fixed so pickOp's cumulative scan is deterministic across
// runs for a given seed, regardless of Go's randomized map iteration.
var mixOrder = []OperationType{OpLookup, OpInsert, OpDelete, OpUpdate, OpJoin, OpLeave}

func pickOp(rng *rand.Rand, normalized map[OperationType]float64) OperationType {
	roll := rng.Float64()
	var cumulative float64
	for _, ot := range mixOrder {
		p, ok := normalized[ot]
		if !ok {
			continue
		}
		cumulative += p
		if roll <= cumulative {
			return ot
		}
	}
	return OpLookup
}

func pickInsertedOrRandom(rng *rand.Rand, inserted map[string]struct{}, keys []string) string {
	if len(inserted) == 0 {
		return keys[rng.Intn(len(keys))]
	}
	candidates := make([]string, 0, len(inserted))
	for k := range inserted {
		candidates = append(candidates, k)
	}
	sort.Strings(candidates) // map iteration order is random; keep picks seed-deterministic
	return candidates[rng.Intn(len(candidates))]
}

func maxID(ids []idspace.NodeID) idspace.NodeID {
	best := ids[0]
	for _, id := range ids[1:] {
		if id > best {
			best = id
		}
	}
	return best
}
