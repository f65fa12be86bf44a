package driver

import (
	"context"

	"github.com/rs/xid"

	"github.com/overlaylab/coreham/idspace"
	"github.com/overlaylab/coreham/logging"
	"github.com/overlaylab/coreham/overlay"
)

var log = logging.Component("driver")

// Result accumulates hop measurements for one (protocol, operation)
// pair, per experiments/runner.py's ExperimentResult.
type Result struct {
	Protocol overlay.Protocol
	Op       OperationType
	NumNodes int
	NumItems int
	hops     []int
}

// Add records one operation's hop count.
func (r *Result) Add(hops int) {
	r.hops = append(r.hops, hops)
}

// Stats is the avg/min/max/total_ops summary, per
// ExperimentResult.get_stats.
type Stats struct {
	AvgHops  float64
	MinHops  int
	MaxHops  int
	TotalOps int
}

// Stats computes r's summary. Returns a zero Stats if no measurement
// was ever added.
func (r *Result) Stats() Stats {
	if len(r.hops) == 0 {
		return Stats{}
	}
	sum, min, max := 0, r.hops[0], r.hops[0]
	for _, h := range r.hops {
		sum += h
		if h < min {
			min = h
		}
		if h > max {
			max = h
		}
	}
	return Stats{
		AvgHops:  float64(sum) / float64(len(r.hops)),
		MinHops:  min,
		MaxHops:  max,
		TotalOps: len(r.hops),
	}
}

// CompletedOp is the record handed to OnCompleted for one finished
// operation: the same fields the aggregation hook receives, plus the
// xid.ID correlation identifier minted for that operation, per
// SPEC_FULL.md §6. It exists alongside Observer, not in place of it —
// ObserverFunc's five-parameter signature is untouched.
type CompletedOp struct {
	Protocol      overlay.ProtocolTag
	Operation     overlay.OperationTag
	Hops          int
	NumNodes      int
	NumItems      int
	CorrelationID xid.ID
}

// Runner drives a WorkloadGenerator's operations against an
// overlay.Overlay, collecting per-operation Results and, if set,
// notifying Observer and OnCompleted per operation; only OnCompleted
// receives the per-operation correlation id.
type Runner struct {
	Protocol overlay.Protocol
	Overlay  overlay.Overlay
	From     idspace.NodeID
	NumItems int
	Observer overlay.ObserverFunc

	// OnCompleted, if set, receives a CompletedOp for every successful
	// operation, carrying the same correlation id that was logged at
	// debug level — for a collaborator-supplied CSV writer or HTTP
	// layer that needs to join the stream back to a workload trace.
	OnCompleted func(CompletedOp)

	results map[OperationType]*Result
}

// NewRunner creates a Runner over o, issuing operations from `from`.
func NewRunner(protocol overlay.Protocol, o overlay.Overlay, from idspace.NodeID, numItems int) *Runner {
	return &Runner{Protocol: protocol, Overlay: o, From: from, NumItems: numItems, results: make(map[OperationType]*Result)}
}

// Run executes ops in order against r.Overlay, routing data operations
// from r.From. Join/Leave use the operation's own NodeID. Every
// successful operation's hop count is recorded under its OperationType
// and, if r.Observer is set, reported via the aggregation hook; if
// r.OnCompleted is set, it receives the same fields plus a fresh
// per-operation correlation id. A failed operation is logged and
// skipped: it is neither recorded nor reported.
func (r *Runner) Run(ctx context.Context, ops []Operation) error {
	for _, op := range ops {
		hops, err := r.runOne(ctx, op)
		if err != nil {
			log.Warn().Str("op", string(op.Type)).Str("key", op.Key).Err(err).Msg("operation failed")
			continue
		}

		result := r.resultFor(op.Type)
		result.Add(hops)

		if r.Observer != nil || r.OnCompleted != nil {
			corr := xid.New()
			nNodes := len(r.Overlay.Nodes())
			log.Debug().Str("correlation_id", corr.String()).Str("op", string(op.Type)).Int("hops", hops).Msg("op observed")
			if r.Observer != nil {
				r.Observer(r.Protocol, string(op.Type), hops, nNodes, r.NumItems)
			}
			if r.OnCompleted != nil {
				r.OnCompleted(CompletedOp{
					Protocol:      r.Protocol,
					Operation:     string(op.Type),
					Hops:          hops,
					NumNodes:      nNodes,
					NumItems:      r.NumItems,
					CorrelationID: corr,
				})
			}
		}
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, op Operation) (int, error) {
	switch op.Type {
	case OpLookup:
		_, _, hops, _, err := r.Overlay.Lookup(ctx, r.From, op.Key)
		return hops, err
	case OpInsert:
		_, hops, err := r.Overlay.Insert(ctx, r.From, op.Key, op.Value)
		return hops, err
	case OpDelete:
		_, hops, err := r.Overlay.Delete(ctx, r.From, op.Key)
		return hops, err
	case OpUpdate:
		_, hops, err := r.Overlay.Update(ctx, r.From, op.Key, op.Value)
		return hops, err
	case OpJoin:
		return r.Overlay.Join(ctx, op.NodeID)
	case OpLeave:
		return r.Overlay.Leave(ctx, op.NodeID)
	default:
		return 0, nil
	}
}

func (r *Runner) resultFor(op OperationType) *Result {
	res, ok := r.results[op]
	if !ok {
		res = &Result{Protocol: r.Protocol, Op: op, NumNodes: len(r.Overlay.Nodes()), NumItems: r.NumItems}
		r.results[op] = res
	}
	return res
}

// Results returns every OperationType with at least one recorded
// measurement.
func (r *Runner) Results() map[OperationType]*Result {
	return r.results
}
