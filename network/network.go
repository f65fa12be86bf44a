// Package network implements the in-process, hop-counted message
// delivery fabric the overlays route through. Grounded on
// dht/network.py's NetworkSimulator (register/send/reset/get_stats)
// and the endpoint-lookup-then-call shape of peer/impl/route.go's
// nextHop/send.
package network

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/overlaylab/coreham/idspace"
	"github.com/overlaylab/coreham/logging"
)

var log = logging.Component("network")

// Endpoint handles a request addressed to a node and returns a response.
type Endpoint func(ctx context.Context, req any) (any, error)

// Network is a process-wide registry of node endpoints with synchronous,
// hop-counted delivery.
type Network struct {
	mu        sync.Mutex
	endpoints map[idspace.NodeID]Endpoint
}

// New creates an empty Network.
func New() *Network {
	return &Network{endpoints: make(map[idspace.NodeID]Endpoint)}
}

// Register binds a local callable to an id, replacing any prior binding.
func (n *Network) Register(id idspace.NodeID, ep Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[id] = ep
	log.Debug().Uint64("node", id).Msg("endpoint registered")
}

// Unregister removes the endpoint bound to id, if any.
func (n *Network) Unregister(id idspace.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, id)
	log.Debug().Uint64("node", id).Msg("endpoint unregistered")
}

// Send delivers req from `from` to `to`, incrementing the ambient hop
// counter attached to ctx by BeginOp. Delivery itself runs outside the
// registry lock, so an endpoint handler may call back into Send without
// deadlocking.
func (n *Network) Send(ctx context.Context, from, to idspace.NodeID, req any) (any, error) {
	return n.send(ctx, from, to, req, true)
}

// SendSilent delivers req like Send but does not increment the hop
// counter. Grounded on dht/network.py's send(msg, count_hop=False),
// which the reference overlays use for the terminal data-operation
// message to a resolved owner: the routing hops to find that owner are
// counted, but the final local LocalIndex access is not, per spec.md's
// glossary definition of Hop.
func (n *Network) SendSilent(ctx context.Context, from, to idspace.NodeID, req any) (any, error) {
	return n.send(ctx, from, to, req, false)
}

func (n *Network) send(ctx context.Context, from, to idspace.NodeID, req any, countHop bool) (any, error) {
	n.mu.Lock()
	ep, ok := n.endpoints[to]
	n.mu.Unlock()
	if !ok {
		return nil, ErrUnknownPeer
	}

	if countHop {
		addHop(ctx)
	}
	log.Debug().Uint64("from", from).Uint64("to", to).Bool("counted", countHop).Msg("send")
	return ep(ctx, req)
}

// hopCounter carries the ambient per-operation hop count through ctx.
type hopCounter struct {
	count int64
}

type hopKey struct{}

// BeginOp returns a child context carrying a fresh hop counter, scoped
// to a single logical operation (spec.md §4.3/§9: "thread-local ambient
// counter entered/exited via scoped acquisition").
func BeginOp(ctx context.Context) context.Context {
	return context.WithValue(ctx, hopKey{}, &hopCounter{})
}

// EndOp reads the hop count accumulated on ctx since the matching
// BeginOp. Returns 0 if ctx carries no counter.
func EndOp(ctx context.Context) int {
	c, ok := ctx.Value(hopKey{}).(*hopCounter)
	if !ok {
		return 0
	}
	return int(atomic.LoadInt64(&c.count))
}

func addHop(ctx context.Context) {
	c, ok := ctx.Value(hopKey{}).(*hopCounter)
	if !ok {
		return
	}
	atomic.AddInt64(&c.count, 1)
}
