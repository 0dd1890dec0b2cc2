package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Repair structural drift in the graph",
	Long: `Runs the self-healing pass: duplicate Vision and Self nodes are folded
into their singletons, the Self -> Vision OWNS edge is restored, and
orphaned Goals are re-attached under the vision. Content is merged,
never dropped.`,
	RunE: runHeal,
}

func runHeal(cmd *cobra.Command, args []string) error {
	graph, err := openGraph()
	if err != nil {
		return err
	}
	defer graph.Close()

	rep, err := graph.SelfHeal(userID)
	if err != nil {
		return fmt.Errorf("self-heal failed: %w", err)
	}

	total := rep.VisionsMerged + rep.SelvesMerged + rep.OrphanGoalsLinked +
		rep.StagingVisionsMerged + rep.StagingSelvesMerged
	if total == 0 {
		fmt.Println("Graph is already coherent; nothing to repair.")
		return nil
	}

	fmt.Printf("Self-heal for %s:\n", userID)
	fmt.Printf("  visions merged:          %d\n", rep.VisionsMerged)
	fmt.Printf("  selves merged:           %d\n", rep.SelvesMerged)
	fmt.Printf("  orphan goals linked:     %d\n", rep.OrphanGoalsLinked)
	fmt.Printf("  staging visions merged:  %d\n", rep.StagingVisionsMerged)
	fmt.Printf("  staging selves merged:   %d\n", rep.StagingSelvesMerged)
	return nil
}
