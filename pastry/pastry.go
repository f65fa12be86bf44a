// Package pastry implements the PastryOverlay component: base-2^b
// prefix routing via a leaf set and a routing matrix, numerically-
// closest ownership, and a cycle-guarded routing fallback.
//
// Grounded on dht/pastry.py (PastryNode/Pastry, _route_handler's
// visited-set cycle guard and rare-case fallback) for exact semantics,
// and on other_examples/project-iris-iris__table.go's `table` struct
// (leaves []*big.Int; routes [][]*big.Int) for the Go-idiomatic routing
// matrix shape.
package pastry

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/xerrors"

	"github.com/overlaylab/coreham/hash"
	"github.com/overlaylab/coreham/idspace"
	"github.com/overlaylab/coreham/localindex"
	"github.com/overlaylab/coreham/logging"
	"github.com/overlaylab/coreham/network"
)

var log = logging.Component("pastry")

// Config carries the overlay's identifier-space, digit-width and tree
// parameters. Defaults match spec.md §6.
type Config struct {
	Bits         uint // m, identifier bit-width. 8 <= Bits <= 64.
	BaseBits     uint // b, routing digit width in bits, 1 <= BaseBits <= Bits.
	LeafSetSize  int  // L, must be even and >= 2: L/2 below, L/2 above.
	BranchFactor int  // t, B+ tree branching factor, >= 3.

	// HashFunc overrides the default SHA-1-based HashFn, so tests can
	// inject the literal id assignments used by spec.md §8's scenarios.
	HashFunc func(normalized string) idspace.NodeID
}

func (c *Config) setDefaults() {
	if c.Bits == 0 {
		c.Bits = 16
	}
	if c.BaseBits == 0 {
		c.BaseBits = 4
	}
	if c.LeafSetSize == 0 {
		c.LeafSetSize = 8
	}
	if c.BranchFactor == 0 {
		c.BranchFactor = 4
	}
	if c.HashFunc == nil {
		bits := c.Bits
		c.HashFunc = func(normalized string) idspace.NodeID { return hash.ID(bits, normalized) }
	}
}

func (c Config) validate() error {
	if c.Bits < hash.MinBits || c.Bits > hash.MaxBits {
		return xerrors.Errorf("bits out of range [%d,%d]: %w", hash.MinBits, hash.MaxBits, ErrInvalidConfig)
	}
	if c.BaseBits < 1 || c.BaseBits > c.Bits {
		return xerrors.Errorf("base bits must be in [1,bits]: %w", ErrInvalidConfig)
	}
	if c.LeafSetSize < 2 || c.LeafSetSize%2 != 0 {
		return xerrors.Errorf("leaf set size must be even and >= 2: %w", ErrInvalidConfig)
	}
	if c.BranchFactor < 3 {
		return xerrors.Errorf("branch factor must be >= 3: %w", ErrInvalidConfig)
	}
	return nil
}

func (c Config) rows() int { return int((c.Bits + c.BaseBits - 1) / c.BaseBits) }
func (c Config) cols() int { return 1 << c.BaseBits }

type nodeState struct {
	id      idspace.NodeID
	leafSet []idspace.NodeID   // sorted ascending, excludes id, length <= LeafSetSize
	table   []map[int]idspace.NodeID
	index   *localindex.Index
}

// Overlay is a live Pastry network.
type Overlay struct {
	mu    sync.RWMutex
	cfg   Config
	net   *network.Network
	nodes map[idspace.NodeID]*nodeState
	order []idspace.NodeID
}

// New creates an empty Pastry overlay bound to net.
func New(cfg Config, net *network.Network) (*Overlay, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Overlay{cfg: cfg, net: net, nodes: make(map[idspace.NodeID]*nodeState)}, nil
}

// Nodes returns the current live node ids, sorted.
func (o *Overlay) Nodes() []idspace.NodeID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]idspace.NodeID, len(o.order))
	copy(out, o.order)
	return out
}

// Build creates every node's leaf set and routing matrix from a sorted
// node set, per spec.md §4.5.
func (o *Overlay) Build(ctx context.Context, nodeIDs []idspace.NodeID) error {
	if len(nodeIDs) == 0 {
		return ErrEmptyNodeSet
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	sorted := dedupSorted(nodeIDs)
	o.nodes = make(map[idspace.NodeID]*nodeState, len(sorted))
	for _, id := range sorted {
		idx, err := localindex.New(o.cfg.BranchFactor)
		if err != nil {
			return err
		}
		o.nodes[id] = &nodeState{id: id, index: idx}
		o.net.Register(id, o.makeRouteEndpoint(id))
	}
	o.order = sorted
	o.rebuildRouting()

	log.Info().Int("nodes", len(sorted)).Uint("bits", o.cfg.Bits).Msg("pastry network built")
	return nil
}

// rebuildRouting recomputes every live node's leaf set and routing
// matrix from o.order, per §9's "global rebuild is an acceptable
// simplification".
func (o *Overlay) rebuildRouting() {
	n := len(o.order)
	half := o.cfg.LeafSetSize / 2

	for i, id := range o.order {
		ns := o.nodes[id]
		ns.leafSet = o.leafSetFor(i, n, half)
		ns.table = o.tableFor(id)
	}
}

// leafSetFor collects up to half predecessors and half successors of
// o.order[i] circularly, deduplicated and excluding the node itself,
// matching dht/pastry.py's leaf set construction.
func (o *Overlay) leafSetFor(i, n, half int) []idspace.NodeID {
	if n <= 1 {
		return nil
	}
	seen := map[idspace.NodeID]struct{}{o.order[i]: {}}
	var out []idspace.NodeID
	for k := 1; k <= half && len(seen) < n; k++ {
		below := o.order[(i-k+n)%n]
		if _, ok := seen[below]; !ok {
			seen[below] = struct{}{}
			out = append(out, below)
		}
	}
	for k := 1; k <= half && len(seen) < n; k++ {
		above := o.order[(i+k)%n]
		if _, ok := seen[above]; !ok {
			seen[above] = struct{}{}
			out = append(out, above)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// tableFor builds id's routing matrix: table[r][c] is some live peer
// sharing an r-digit prefix with id and differing at digit r with value
// c, per dht/pastry.py's _build_routing_table.
func (o *Overlay) tableFor(id idspace.NodeID) []map[int]idspace.NodeID {
	rows := o.cfg.rows()
	table := make([]map[int]idspace.NodeID, rows)
	for r := range table {
		table[r] = make(map[int]idspace.NodeID)
	}
	for _, peer := range o.order {
		if peer == id {
			continue
		}
		r := o.sharedPrefixLen(id, peer)
		if r >= rows {
			continue
		}
		c := o.digit(peer, r)
		table[r][c] = peer
	}
	return table
}

// digit returns the base-2^BaseBits digit at position row (0 = most
// significant digit) of id.
func (o *Overlay) digit(id idspace.NodeID, row int) int {
	shift := uint(o.cfg.rows()-1-row) * o.cfg.BaseBits
	mask := uint64(o.cfg.cols() - 1)
	return int((id >> shift) & mask)
}

// sharedPrefixLen returns the number of leading digits a and b agree on.
func (o *Overlay) sharedPrefixLen(a, b idspace.NodeID) int {
	rows := o.cfg.rows()
	for r := 0; r < rows; r++ {
		if o.digit(a, r) != o.digit(b, r) {
			return r
		}
	}
	return rows
}

// findOwnerRequest/findOwnerResponse are the routing RPC exchanged over
// the Network while resolving a key's owner. Visited carries the ids
// already traversed this operation, the cycle guard grounded on
// dht/pastry.py's _route_handler visited set.
type findOwnerRequest struct {
	Target  idspace.NodeID
	Visited []idspace.NodeID
}

type findOwnerResponse struct {
	Owner idspace.NodeID
}

type dataOpRequest struct {
	Op    string
	Key   string
	Value any
}

type dataOpResponse struct {
	Value any
	Found bool
}

func containsID(list []idspace.NodeID, id idspace.NodeID) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// makeRouteEndpoint returns the Network endpoint installed for id.
func (o *Overlay) makeRouteEndpoint(id idspace.NodeID) network.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		switch freq := req.(type) {
		case findOwnerRequest:
			o.mu.RLock()
			ns, live := o.nodes[id]
			n := len(o.order)
			o.mu.RUnlock()
			if !live {
				return nil, ErrUnknownNode
			}
			if n == 1 {
				return findOwnerResponse{Owner: id}, nil
			}
			return o.routeStep(ctx, ns, freq)

		case dataOpRequest:
			o.mu.RLock()
			ns, live := o.nodes[id]
			o.mu.RUnlock()
			if !live {
				return nil, ErrUnknownNode
			}
			return applyDataOp(ns.index, freq)

		default:
			return nil, xerrors.Errorf("pastry: unexpected request type %T", req)
		}
	}
}

// routeStep applies one hop of Pastry's routing rule at ns: terminate if
// target falls within ns's local vicinity (leaf set + self), else
// forward via the routing matrix, else fall back to a linear scan of
// every known candidate, per dht/pastry.py's _route_handler.
func (o *Overlay) routeStep(ctx context.Context, ns *nodeState, req findOwnerRequest) (any, error) {
	vicinity := append(append([]idspace.NodeID{}, ns.leafSet...), ns.id)
	if o.coversVicinity(ns, req.Target) {
		return findOwnerResponse{Owner: idspace.ClosestTo(req.Target, vicinity, o.cfg.Bits)}, nil
	}

	visited := append(append([]idspace.NodeID{}, req.Visited...), ns.id)

	r := o.sharedPrefixLen(ns.id, req.Target)
	if r < len(ns.table) {
		c := o.digit(req.Target, r)
		if next, ok := ns.table[r][c]; ok && next != ns.id && !containsID(req.Visited, next) {
			return o.net.Send(ctx, ns.id, next, findOwnerRequest{Target: req.Target, Visited: visited})
		}
	}

	if next, found := o.rareCaseFallback(ns, req.Target, visited); found {
		return o.net.Send(ctx, ns.id, next, findOwnerRequest{Target: req.Target, Visited: visited})
	}

	return findOwnerResponse{Owner: ns.id}, nil
}

// coversVicinity reports whether target falls between ns's numerically
// smallest and largest leaf (inclusive), the simplified "local" test
// dht/pastry.py applies before consulting the routing matrix.
func (o *Overlay) coversVicinity(ns *nodeState, target idspace.NodeID) bool {
	if len(ns.leafSet) == 0 {
		return true
	}
	lo, hi := ns.leafSet[0], ns.leafSet[len(ns.leafSet)-1]
	if ns.id < lo {
		lo = ns.id
	}
	if ns.id > hi {
		hi = ns.id
	}
	return target >= lo && target <= hi
}

// rareCaseFallback scans ns's leaf set and routing matrix for any
// unvisited candidate strictly closer to target than ns itself, per
// dht/pastry.py's rare-case linear scan.
func (o *Overlay) rareCaseFallback(ns *nodeState, target idspace.NodeID, visited []idspace.NodeID) (idspace.NodeID, bool) {
	selfDist := idspace.CircularDistance(target, ns.id, o.cfg.Bits)
	var best idspace.NodeID
	bestDist := selfDist
	found := false

	consider := func(cand idspace.NodeID) {
		if cand == ns.id || containsID(visited, cand) {
			return
		}
		d := idspace.CircularDistance(target, cand, o.cfg.Bits)
		if d < bestDist {
			bestDist = d
			best = cand
			found = true
		}
	}
	for _, cand := range ns.leafSet {
		consider(cand)
	}
	for _, row := range ns.table {
		for _, cand := range row {
			consider(cand)
		}
	}
	return best, found
}

// applyDataOp dispatches a resolved data operation to idx.
func applyDataOp(idx *localindex.Index, req dataOpRequest) (dataOpResponse, error) {
	switch req.Op {
	case "insert":
		idx.Insert(req.Key, req.Value)
		return dataOpResponse{Found: true}, nil
	case "lookup":
		v, ok := idx.Lookup(req.Key)
		return dataOpResponse{Value: v, Found: ok}, nil
	case "delete":
		ok := idx.Delete(req.Key)
		return dataOpResponse{Found: ok}, nil
	case "update":
		ok := idx.Update(req.Key, req.Value)
		return dataOpResponse{Found: ok}, nil
	default:
		return dataOpResponse{}, xerrors.Errorf("pastry: unknown data op %q", req.Op)
	}
}

// Owner resolves the node responsible for key, starting routing from
// `from`, and returns the owner id and the number of hops spent routing.
func (o *Overlay) Owner(ctx context.Context, from idspace.NodeID, key string) (idspace.NodeID, int, error) {
	o.mu.RLock()
	bits := o.cfg.Bits
	hashFn := o.cfg.HashFunc
	_, fromLive := o.nodes[from]
	empty := len(o.order) == 0
	o.mu.RUnlock()
	if empty {
		return 0, 0, ErrEmptyNodeSet
	}
	if !fromLive {
		return 0, 0, ErrUnknownNode
	}

	target := idspace.Mod(hashFn(key), bits)
	ctx = network.BeginOp(ctx)
	resp, err := o.net.Send(ctx, from, from, findOwnerRequest{Target: target})
	if err != nil {
		return 0, network.EndOp(ctx), routeErr("resolve owner", err)
	}
	return resp.(findOwnerResponse).Owner, network.EndOp(ctx), nil
}

// Insert stores value under key, routed from the node `from`.
func (o *Overlay) Insert(ctx context.Context, from idspace.NodeID, key string, value any) (idspace.NodeID, int, error) {
	return o.dataOp(ctx, from, "insert", key, value)
}

// Lookup retrieves the value stored under key, routed from `from`.
func (o *Overlay) Lookup(ctx context.Context, from idspace.NodeID, key string) (any, idspace.NodeID, int, bool, error) {
	owner, hops, value, found, err := o.dataOpFull(ctx, from, "lookup", key, nil)
	return value, owner, hops, found, err
}

// Delete removes key, routed from `from`.
func (o *Overlay) Delete(ctx context.Context, from idspace.NodeID, key string) (idspace.NodeID, int, error) {
	return o.dataOp(ctx, from, "delete", key, nil)
}

// Update replaces the value stored under key, routed from `from`.
func (o *Overlay) Update(ctx context.Context, from idspace.NodeID, key string, value any) (idspace.NodeID, int, error) {
	return o.dataOp(ctx, from, "update", key, value)
}

func (o *Overlay) dataOp(ctx context.Context, from idspace.NodeID, op, key string, value any) (idspace.NodeID, int, error) {
	owner, hops, _, _, err := o.dataOpFull(ctx, from, op, key, value)
	return owner, hops, err
}

func (o *Overlay) dataOpFull(ctx context.Context, from idspace.NodeID, op, key string, value any) (idspace.NodeID, int, any, bool, error) {
	o.mu.RLock()
	bits := o.cfg.Bits
	hashFn := o.cfg.HashFunc
	_, fromLive := o.nodes[from]
	empty := len(o.order) == 0
	o.mu.RUnlock()
	if empty {
		return 0, 0, nil, false, ErrEmptyNodeSet
	}
	if !fromLive {
		return 0, 0, nil, false, ErrUnknownNode
	}

	target := idspace.Mod(hashFn(key), bits)
	ctx = network.BeginOp(ctx)
	resp, err := o.net.Send(ctx, from, from, findOwnerRequest{Target: target})
	if err != nil {
		return 0, network.EndOp(ctx), nil, false, routeErr("resolve owner", err)
	}
	owner := resp.(findOwnerResponse).Owner

	raw, err := o.net.SendSilent(ctx, from, owner, dataOpRequest{Op: op, Key: key, Value: value})
	hops := network.EndOp(ctx)
	if err != nil {
		return owner, hops, nil, false, xerrors.Errorf("pastry: apply %s: %w", op, err)
	}
	dresp := raw.(dataOpResponse)
	return owner, hops, dresp.Value, dresp.Found, nil
}

// routeErr translates a routing-step failure into the spec's named
// UnreachableOwner failure when the underlying cause was an unknown
// peer, per spec.md §4.6/§7; any other error is wrapped as-is.
func routeErr(step string, err error) error {
	if xerrors.Is(err, network.ErrUnknownPeer) {
		return xerrors.Errorf("pastry: %s: %w", step, ErrUnreachableOwner)
	}
	return xerrors.Errorf("pastry: %s: %w", step, err)
}

// Join admits newID, rebuilds routing state globally, then reconciles
// LocalIndex ownership: any entry across the whole network whose
// numerically closest live node is now newID migrates to it, per
// spec.md §4.5's redistribution rule. Before any of that, it routes a
// findOwnerRequest through the Network from an arbitrary seed to
// locate newID's owner, per §4.4 step 1/§4.6 ("hops counted"); the
// returned hop count is that locate step's cost. The locate step runs
// before the exclusive lock is taken, since the route endpoints it
// passes through take the read lock.
func (o *Overlay) Join(ctx context.Context, newID idspace.NodeID) (int, error) {
	o.mu.RLock()
	_, exists := o.nodes[newID]
	hadPeers := len(o.order) > 0
	var seed idspace.NodeID
	if hadPeers {
		seed = o.order[0]
	}
	o.mu.RUnlock()
	if exists {
		return 0, ErrDuplicateID
	}

	hops := 0
	if hadPeers {
		opCtx := network.BeginOp(ctx)
		_, err := o.net.Send(opCtx, seed, seed, findOwnerRequest{Target: newID})
		hops = network.EndOp(opCtx)
		if err != nil {
			return hops, routeErr("locate owner", err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.nodes[newID]; exists {
		return hops, ErrDuplicateID
	}

	idx, err := localindex.New(o.cfg.BranchFactor)
	if err != nil {
		return hops, err
	}

	o.nodes[newID] = &nodeState{id: newID, index: idx}
	o.order = dedupSorted(append(o.order, newID))
	o.net.Register(newID, o.makeRouteEndpoint(newID))
	o.rebuildRouting()
	o.reconcileOwnership(newID)

	log.Info().Uint64("node", newID).Int("nodes", len(o.order)).Int("hops", hops).Msg("node joined")
	return hops, nil
}

// Leave removes id, redistributing its entries by the same numerically-
// closest rule against the post-removal node set, then rebuilds routing
// state globally.
func (o *Overlay) Leave(ctx context.Context, id idspace.NodeID) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	leaving, exists := o.nodes[id]
	if !exists {
		return 0, ErrUnknownNode
	}
	if len(o.order) == 1 {
		return 0, ErrEmptyOverlayForbidden
	}

	delete(o.nodes, id)
	filtered := make([]idspace.NodeID, 0, len(o.order)-1)
	for _, nid := range o.order {
		if nid != id {
			filtered = append(filtered, nid)
		}
	}
	o.order = filtered
	o.net.Unregister(id)
	o.rebuildRouting()

	moved := 0
	for _, e := range leaving.index.Scan() {
		target := idspace.Mod(o.cfg.HashFunc(e.Key), o.cfg.Bits)
		newOwner := idspace.ClosestTo(target, o.order, o.cfg.Bits)
		dst := o.nodes[newOwner].index
		for _, v := range e.Values {
			dst.Insert(e.Key, v)
		}
		moved++
	}

	log.Info().Uint64("node", id).Int("nodes", len(o.order)).Int("keysMoved", moved).Msg("node left")
	return 0, nil
}

// reconcileOwnership migrates every LocalIndex entry in the network
// whose numerically closest live node is now arrived, grounded on
// dht/pastry.py's join()'s key-rebalance pass.
func (o *Overlay) reconcileOwnership(arrived idspace.NodeID) {
	dst := o.nodes[arrived].index
	moved := 0
	for _, id := range o.order {
		if id == arrived {
			continue
		}
		src := o.nodes[id]
		for _, e := range src.index.Scan() {
			target := idspace.Mod(o.cfg.HashFunc(e.Key), o.cfg.Bits)
			if idspace.ClosestTo(target, o.order, o.cfg.Bits) != arrived {
				continue
			}
			src.index.Delete(e.Key)
			for _, v := range e.Values {
				dst.Insert(e.Key, v)
			}
			moved++
		}
	}
	log.Debug().Uint64("node", arrived).Int("keysMoved", moved).Msg("keys transferred on join")
}

func dedupSorted(ids []idspace.NodeID) []idspace.NodeID {
	seen := make(map[idspace.NodeID]struct{}, len(ids))
	out := make([]idspace.NodeID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
