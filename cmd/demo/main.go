// Command demo builds a Chord ring and a Pastry network over the same
// fixed node set and catalog, runs one mixed workload against each, and
// prints their hop statistics one protocol after the other. It takes no flags: CLI
// parsing is an explicit Non-goal (spec.md §1), so this is a fixed
// demonstration binary, not a general-purpose tool.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/overlaylab/coreham/chord"
	"github.com/overlaylab/coreham/driver"
	"github.com/overlaylab/coreham/idspace"
	"github.com/overlaylab/coreham/logging"
	"github.com/overlaylab/coreham/network"
	"github.com/overlaylab/coreham/overlay"
	"github.com/overlaylab/coreham/pastry"
)

const (
	bits      = 16
	numNodes  = 12
	seed      = 42
	numOps    = 500
)

var catalog = []overlay.Record{
	{"title": "The Matrix", "year": 1999},
	{"title": "Inception", "year": 2010},
	{"title": "Arrival", "year": 2016},
	{"title": "Her", "year": 2013},
	{"title": "Parasite", "year": 2019},
	{"title": "Interstellar", "year": 2014},
}

func main() {
	log := logging.Component("demo")

	nodeIDs := make([]idspace.NodeID, numNodes)
	for i := range nodeIDs {
		nodeIDs[i] = driver.DefaultNodeID(bits, i)
	}
	keys := make([]string, len(catalog))
	for i, rec := range catalog {
		keys[i] = rec["title"].(string)
	}

	ctx := context.Background()

	chordOverlay, err := overlay.New(overlay.Chord, chord.Config{Bits: bits}, pastry.Config{}, network.New())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	pastryOverlay, err := overlay.New(overlay.Pastry, chord.Config{}, pastry.Config{Bits: bits}, network.New())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	for _, o := range []struct {
		tag overlay.Protocol
		ov  overlay.Overlay
	}{{overlay.Chord, chordOverlay}, {overlay.Pastry, pastryOverlay}} {
		log.Info().Str("protocol", string(o.tag)).Int("nodes", numNodes).Int("items", len(catalog)).Msg("building overlay")
		if _, err := overlay.Build(ctx, o.ov, nodeIDs, catalog, "title"); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	gen := driver.NewWorkloadGenerator(seed)
	ops := gen.GenerateMixed(numOps, keys, nil)

	for _, o := range []struct {
		tag overlay.Protocol
		ov  overlay.Overlay
	}{{overlay.Chord, chordOverlay}, {overlay.Pastry, pastryOverlay}} {
		runner := driver.NewRunner(o.tag, o.ov, o.ov.Nodes()[0], len(catalog))
		runner.Observer = func(protocol overlay.Protocol, operation string, hops, nNodes, nItems int) {
			log.Debug().Str("protocol", string(protocol)).Str("op", operation).Int("hops", hops).Msg("operation observed")
		}

		log.Info().Str("protocol", string(o.tag)).Int("ops", len(ops)).Msg("running workload")
		if err := runner.Run(ctx, ops); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		printStats(o.tag, runner.Results())
	}
}

func printStats(protocol overlay.Protocol, results map[driver.OperationType]*driver.Result) {
	fmt.Printf("\n%s:\n", protocol)
	ops := make([]driver.OperationType, 0, len(results))
	for op := range results {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

	for _, op := range ops {
		stats := results[op].Stats()
		fmt.Printf("  %-8s ops=%-4d avg_hops=%.2f min=%d max=%d\n",
			op, stats.TotalOps, stats.AvgHops, stats.MinHops, stats.MaxHops)
	}
}
