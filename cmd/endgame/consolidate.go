package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var consolidateThreshold float64

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge near-duplicate concepts",
	Long: `Sweeps the user's Concept nodes for semantic duplicates: names are
embedded, clustered by cosine similarity, and each cluster is put to the
model for a merge verdict. Approved groups fold into one node with
dossiers merged and edges redirected.`,
	RunE: runConsolidate,
}

func init() {
	consolidateCmd.Flags().Float64Var(&consolidateThreshold, "threshold", 0.85, "Cosine similarity needed to cluster two concept names")
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	rep, err := eng.memory.ConsolidateConcepts(ctx, userID, consolidateThreshold)
	if err != nil {
		return fmt.Errorf("consolidation failed: %w", err)
	}

	if rep.GroupsAnalyzed == 0 {
		fmt.Println("No concept clusters above the threshold.")
		return nil
	}
	fmt.Printf("Analyzed %d cluster(s), merged %d node(s).\n", rep.GroupsAnalyzed, rep.Merged)
	return nil
}
