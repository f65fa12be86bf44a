package pastry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaylab/coreham/idspace"
	"github.com/overlaylab/coreham/network"
	"github.com/overlaylab/coreham/pastry"
)

func literalHash(table map[string]idspace.NodeID) func(string) idspace.NodeID {
	return func(s string) idspace.NodeID { return table[s] }
}

func newNetwork(t *testing.T, bits uint, ids []idspace.NodeID, hashes map[string]idspace.NodeID) (*pastry.Overlay, *network.Network) {
	net := network.New()
	o, err := pastry.New(pastry.Config{Bits: bits, HashFunc: literalHash(hashes)}, net)
	require.NoError(t, err)
	require.NoError(t, o.Build(context.Background(), ids))
	return o, net
}

func Test_Pastry_New_RejectsOddLeafSetSize(t *testing.T) {
	_, err := pastry.New(pastry.Config{Bits: 16, LeafSetSize: 3}, network.New())
	require.ErrorIs(t, err, pastry.ErrInvalidConfig)
}

func Test_Pastry_Build_RejectsEmptySet(t *testing.T) {
	o, err := pastry.New(pastry.Config{Bits: 16}, network.New())
	require.NoError(t, err)
	require.ErrorIs(t, o.Build(context.Background(), nil), pastry.ErrEmptyNodeSet)
}

func Test_Pastry_Owner_SingleNodeOwnsEverything(t *testing.T) {
	o, _ := newNetwork(t, 16, []idspace.NodeID{42}, map[string]idspace.NodeID{"alpha": 9999})
	owner, hops, err := o.Owner(context.Background(), 42, "alpha")
	require.NoError(t, err)
	require.Equal(t, idspace.NodeID(42), owner)
	require.Equal(t, 1, hops)
}

func Test_Pastry_Owner_PicksNumericallyClosest(t *testing.T) {
	o, _ := newNetwork(t, 16,
		[]idspace.NodeID{100, 20000, 40000, 60000},
		map[string]idspace.NodeID{"alpha": 12345})
	owner, hops, err := o.Owner(context.Background(), 100, "alpha")
	require.NoError(t, err)
	require.Equal(t, idspace.NodeID(20000), owner)
	require.GreaterOrEqual(t, hops, 1)
}

func Test_Pastry_Owner_PicksClosestNodeAboveKey(t *testing.T) {
	o, _ := newNetwork(t, 16,
		[]idspace.NodeID{100, 20000, 40000, 60000},
		map[string]idspace.NodeID{"bravo": 55000})
	owner, _, err := o.Owner(context.Background(), 40000, "bravo")
	require.NoError(t, err)
	require.Equal(t, idspace.NodeID(60000), owner)
}

func Test_Pastry_InsertLookup_RoundTrips(t *testing.T) {
	o, _ := newNetwork(t, 16,
		[]idspace.NodeID{100, 20000, 40000, 60000},
		map[string]idspace.NodeID{"alpha": 12345})

	owner, _, err := o.Insert(context.Background(), 100, "alpha", "movie-1")
	require.NoError(t, err)
	require.Equal(t, idspace.NodeID(20000), owner)

	value, lookupOwner, _, found, err := o.Lookup(context.Background(), 60000, "alpha")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, owner, lookupOwner)
	require.Equal(t, []any{"movie-1"}, value)
}

func Test_Pastry_Lookup_MissingKeyNotFound(t *testing.T) {
	o, _ := newNetwork(t, 16, []idspace.NodeID{100, 20000}, map[string]idspace.NodeID{"alpha": 12345})
	_, _, _, found, err := o.Lookup(context.Background(), 100, "alpha")
	require.NoError(t, err)
	require.False(t, found)
}

func Test_Pastry_Update_ReplacesValue(t *testing.T) {
	o, _ := newNetwork(t, 16, []idspace.NodeID{100, 20000}, map[string]idspace.NodeID{"alpha": 12345})
	_, _, err := o.Insert(context.Background(), 100, "alpha", "old")
	require.NoError(t, err)

	_, _, err = o.Update(context.Background(), 100, "alpha", "new")
	require.NoError(t, err)

	value, _, _, found, err := o.Lookup(context.Background(), 100, "alpha")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []any{"new"}, value)
}

func Test_Pastry_Delete_RemovesEntry(t *testing.T) {
	o, _ := newNetwork(t, 16, []idspace.NodeID{100, 20000}, map[string]idspace.NodeID{"alpha": 12345})
	_, _, err := o.Insert(context.Background(), 100, "alpha", "v")
	require.NoError(t, err)

	_, _, err = o.Delete(context.Background(), 100, "alpha")
	require.NoError(t, err)

	_, _, _, found, err := o.Lookup(context.Background(), 100, "alpha")
	require.NoError(t, err)
	require.False(t, found)
}

func Test_Pastry_Join_AddsNodeAndMigratesOwnedKeys(t *testing.T) {
	o, _ := newNetwork(t, 16,
		[]idspace.NodeID{100, 40000, 60000},
		map[string]idspace.NodeID{"alpha": 12345})

	ownerBefore, _, err := o.Insert(context.Background(), 100, "alpha", "v")
	require.NoError(t, err)

	joinHops, err := o.Join(context.Background(), 20000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, joinHops, 1)
	require.Equal(t, []idspace.NodeID{100, 20000, 40000, 60000}, o.Nodes())

	value, ownerAfter, _, found, err := o.Lookup(context.Background(), 60000, "alpha")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, idspace.NodeID(20000), ownerAfter)
	require.NotEqual(t, ownerBefore, ownerAfter)
	require.Equal(t, []any{"v"}, value)
}

func Test_Pastry_Join_RejectsDuplicateID(t *testing.T) {
	o, _ := newNetwork(t, 16, []idspace.NodeID{100, 200}, nil)
	_, err := o.Join(context.Background(), 100)
	require.ErrorIs(t, err, pastry.ErrDuplicateID)
}

func Test_Pastry_Leave_RedistributesByNumericProximity(t *testing.T) {
	o, _ := newNetwork(t, 16,
		[]idspace.NodeID{100, 20000, 40000, 60000},
		map[string]idspace.NodeID{"alpha": 12345})

	_, _, err := o.Insert(context.Background(), 100, "alpha", "v")
	require.NoError(t, err)

	leaveHops, err := o.Leave(context.Background(), 20000)
	require.NoError(t, err)
	require.Equal(t, 0, leaveHops)
	require.Equal(t, []idspace.NodeID{100, 40000, 60000}, o.Nodes())

	value, owner, _, found, err := o.Lookup(context.Background(), 60000, "alpha")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []any{"v"}, value)
	require.Contains(t, []idspace.NodeID{100, 40000, 60000}, owner)
}

func Test_Pastry_Leave_RejectsUnknownNode(t *testing.T) {
	o, _ := newNetwork(t, 16, []idspace.NodeID{100, 200}, nil)
	_, err := o.Leave(context.Background(), 999)
	require.ErrorIs(t, err, pastry.ErrUnknownNode)
}

func Test_Pastry_Leave_ForbidsEmptyingOverlay(t *testing.T) {
	o, _ := newNetwork(t, 16, []idspace.NodeID{100}, nil)
	_, err := o.Leave(context.Background(), 100)
	require.ErrorIs(t, err, pastry.ErrEmptyOverlayForbidden)
}
