// Package overlay exposes Chord and Pastry behind one uniform
// interface, per spec.md §9's capability-set re-architecture note:
// "Overlay = Chord(ChordState) | Pastry(PastryState)", modeled here as
// a Go interface both concrete overlays satisfy structurally, never via
// embedding one inside the other.
package overlay

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/overlaylab/coreham/chord"
	"github.com/overlaylab/coreham/idspace"
	"github.com/overlaylab/coreham/network"
	"github.com/overlaylab/coreham/pastry"
)

// Overlay is the OperationAPI surface spec.md §4.6 describes: topology
// construction, hop-counted key resolution, data operations, and
// membership changes, common to both protocols.
type Overlay interface {
	Nodes() []idspace.NodeID
	Build(ctx context.Context, nodeIDs []idspace.NodeID) error
	Owner(ctx context.Context, from idspace.NodeID, key string) (idspace.NodeID, int, error)
	Insert(ctx context.Context, from idspace.NodeID, key string, value any) (idspace.NodeID, int, error)
	Lookup(ctx context.Context, from idspace.NodeID, key string) (value any, owner idspace.NodeID, hops int, found bool, err error)
	Delete(ctx context.Context, from idspace.NodeID, key string) (idspace.NodeID, int, error)
	Update(ctx context.Context, from idspace.NodeID, key string, value any) (idspace.NodeID, int, error)
	Join(ctx context.Context, newID idspace.NodeID) (int, error)
	Leave(ctx context.Context, id idspace.NodeID) (int, error)
}

// Protocol tags which concrete overlay an observer callback describes,
// per spec.md §9's tagged-variant Overlay type. ProtocolTag is the
// same type under the name spec.md §6's aggregation hook signature
// uses.
type Protocol string

type ProtocolTag = Protocol

const (
	Chord  Protocol = "chord"
	Pastry Protocol = "pastry"
)

// OperationTag names the operation an aggregation hook call or Result
// describes ("lookup", "insert", "delete", "update", "join", "leave"),
// per spec.md §6. It is a plain string alias, not a distinct defined
// type, so driver's own OperationType values pass through the hook
// without a conversion and without overlay depending on driver.
type OperationTag = string

// ErrUnknownProtocol is returned by New for a Protocol value other than
// Chord or Pastry.
var ErrUnknownProtocol = xerrors.New("overlay: unknown protocol")

// New builds an Overlay for the requested protocol, bound to net. Only
// the config matching the requested protocol is consulted.
func New(protocol Protocol, chordCfg chord.Config, pastryCfg pastry.Config, net *network.Network) (Overlay, error) {
	switch protocol {
	case Chord:
		return chord.New(chordCfg, net)
	case Pastry:
		return pastry.New(pastryCfg, net)
	default:
		return nil, xerrors.Errorf("protocol %q: %w", protocol, ErrUnknownProtocol)
	}
}

// Record is a flat field dict keyed by field name, the shape
// dht/data_loader.py's Movie.to_dict() produces for each catalog row.
type Record map[string]any

// Build constructs o's topology from nodeIDs, then inserts every record
// under its keyField value, routed from the first live node, per
// spec.md §4.6's Build(nodeIDs, records, keyField). Returns the number
// of hops spent across all inserts, for callers that want a build-time
// hop total alongside the per-operation API.
func Build(ctx context.Context, o Overlay, nodeIDs []idspace.NodeID, records []Record, keyField string) (int, error) {
	if err := o.Build(ctx, nodeIDs); err != nil {
		return 0, err
	}
	nodes := o.Nodes()
	if len(nodes) == 0 {
		return 0, xerrors.New("overlay: build produced no live nodes")
	}
	from := nodes[0]

	totalHops := 0
	for _, rec := range records {
		key, ok := rec[keyField].(string)
		if !ok {
			return totalHops, xerrors.Errorf("overlay: record missing string field %q", keyField)
		}
		_, hops, err := o.Insert(ctx, from, key, rec)
		if err != nil {
			return totalHops, xerrors.Errorf("overlay: seed insert %q: %w", key, err)
		}
		totalHops += hops
	}
	return totalHops, nil
}

// ObserverFunc is the aggregation hook signature spec.md §4.6/§6 names:
// (protocol_tag, operation_tag, hops, n_nodes, n_items).
type ObserverFunc func(protocol ProtocolTag, operation OperationTag, hops, nNodes, nItems int)
