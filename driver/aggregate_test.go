package driver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaylab/coreham/chord"
	"github.com/overlaylab/coreham/driver"
	"github.com/overlaylab/coreham/idspace"
	"github.com/overlaylab/coreham/network"
	"github.com/overlaylab/coreham/overlay"
)

func buildChordRing(t *testing.T) (*chord.Overlay, idspace.NodeID) {
	net := network.New()
	o, err := chord.New(chord.Config{Bits: 16}, net)
	require.NoError(t, err)
	nodes := []idspace.NodeID{100, 20000, 40000, 60000}
	require.NoError(t, o.Build(context.Background(), nodes))
	return o, nodes[0]
}

func Test_Runner_Run_RecordsHopsPerOperationType(t *testing.T) {
	o, from := buildChordRing(t)
	r := driver.NewRunner(overlay.Chord, o, from, 0)

	ops := []driver.Operation{
		{Type: driver.OpInsert, Key: "alpha", Value: "v"},
		{Type: driver.OpLookup, Key: "alpha"},
		{Type: driver.OpLookup, Key: "alpha"},
	}
	require.NoError(t, r.Run(context.Background(), ops))

	results := r.Results()
	require.Contains(t, results, driver.OpInsert)
	require.Contains(t, results, driver.OpLookup)
	require.Equal(t, 1, results[driver.OpInsert].Stats().TotalOps)
	require.Equal(t, 2, results[driver.OpLookup].Stats().TotalOps)
}

func Test_Runner_Run_InvokesObserverWithCorrectTags(t *testing.T) {
	o, from := buildChordRing(t)
	r := driver.NewRunner(overlay.Chord, o, from, 7)

	var seenProtocol overlay.Protocol
	var seenOp string
	var seenNodes, seenItems int
	r.Observer = func(protocol overlay.Protocol, operation string, hops, nNodes, nItems int) {
		seenProtocol, seenOp, seenNodes, seenItems = protocol, operation, nNodes, nItems
	}

	require.NoError(t, r.Run(context.Background(), []driver.Operation{{Type: driver.OpInsert, Key: "alpha", Value: "v"}}))

	require.Equal(t, overlay.Chord, seenProtocol)
	require.Equal(t, "insert", seenOp)
	require.Equal(t, 4, seenNodes)
	require.Equal(t, 7, seenItems)
}

func Test_Runner_Run_RecordsRealHopsForJoinAndLeave(t *testing.T) {
	o, from := buildChordRing(t)
	r := driver.NewRunner(overlay.Chord, o, from, 0)

	ops := []driver.Operation{
		{Type: driver.OpJoin, NodeID: 50000},
		{Type: driver.OpLeave, NodeID: 50000},
	}
	require.NoError(t, r.Run(context.Background(), ops))

	results := r.Results()
	require.Contains(t, results, driver.OpJoin)
	require.Contains(t, results, driver.OpLeave)

	joinStats := results[driver.OpJoin].Stats()
	require.Equal(t, 1, joinStats.TotalOps)
	require.GreaterOrEqual(t, joinStats.MinHops, 1)

	leaveStats := results[driver.OpLeave].Stats()
	require.Equal(t, 1, leaveStats.TotalOps)
	require.Equal(t, 0, leaveStats.MinHops)
	require.Equal(t, 0, leaveStats.MaxHops)
}

func Test_Runner_Run_InvokesOnCompletedWithCorrelationID(t *testing.T) {
	o, from := buildChordRing(t)
	r := driver.NewRunner(overlay.Chord, o, from, 3)

	var completed []driver.CompletedOp
	r.OnCompleted = func(op driver.CompletedOp) {
		completed = append(completed, op)
	}

	require.NoError(t, r.Run(context.Background(), []driver.Operation{{Type: driver.OpInsert, Key: "alpha", Value: "v"}}))

	require.Len(t, completed, 1)
	require.Equal(t, overlay.Chord, completed[0].Protocol)
	require.Equal(t, "insert", completed[0].Operation)
	require.Equal(t, 3, completed[0].NumItems)
	require.False(t, completed[0].CorrelationID.IsNil())
}

func Test_Result_Stats_ComputesAvgMinMax(t *testing.T) {
	res := &driver.Result{}
	res.Add(1)
	res.Add(3)
	res.Add(2)
	stats := res.Stats()
	require.Equal(t, 3, stats.TotalOps)
	require.Equal(t, 1, stats.MinHops)
	require.Equal(t, 3, stats.MaxHops)
	require.InDelta(t, 2.0, stats.AvgHops, 1e-9)
}

func Test_Result_Stats_ZeroWhenEmpty(t *testing.T) {
	res := &driver.Result{}
	require.Equal(t, driver.Stats{}, res.Stats())
}
