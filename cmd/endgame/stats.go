package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph and vector index statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	graph, vectors, err := openStores()
	if err != nil {
		return err
	}
	defer vectors.Close()
	defer graph.Close()

	gs, err := graph.GetStats(userID)
	if err != nil {
		return fmt.Errorf("failed to read graph stats: %w", err)
	}

	fmt.Printf("Graph for %s (%s)\n", userID, graph.Path())
	fmt.Printf("  nodes: %d\n", gs.TotalNodes)
	for _, t := range sortedKeys(gs.NodesByType) {
		fmt.Printf("    %-14s %d\n", t, gs.NodesByType[t])
	}
	fmt.Printf("  edges: %d\n", gs.TotalEdges)

	vs := vectors.GetStats()
	fmt.Printf("Vector index (%s)\n", vectors.Path())
	for _, k := range sortedKeys(vs) {
		fmt.Printf("  %-12s %v\n", k, vs[k])
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
