package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stagingCmd = &cobra.Command{
	Use:   "staging",
	Short: "Manage the staged extraction results",
	Long: `Ingested files land in a staging area first. These commands list,
promote, merge, or discard staged rows without the TUI; 'endgame review'
is the interactive equivalent.`,
}

var stagingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List staged nodes and edges",
	RunE:  runStagingList,
}

var stagingCommitCmd = &cobra.Command{
	Use:   "commit [node-id...]",
	Short: "Promote staged rows into the canonical graph",
	Long: `Without arguments every staged node is promoted, along with all staged
edges. With node ids only those nodes are promoted, plus the staged
edges whose endpoints are both in the subset.`,
	RunE: runStagingCommit,
}

var stagingMergeCmd = &cobra.Command{
	Use:   "merge [source-id] [target-id]",
	Short: "Fold one staged node into another",
	Long: `Merges the source node's content and attributes into the target and
redirects the staged edges. The source row is removed.`,
	Args: cobra.ExactArgs(2),
	RunE: runStagingMerge,
}

var stagingRejectCmd = &cobra.Command{
	Use:   "reject [node-id...]",
	Short: "Discard staged nodes and their edges",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStagingReject,
}

var stagingClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard everything in the staging area",
	RunE:  runStagingClear,
}

func init() {
	stagingCmd.AddCommand(stagingListCmd)
	stagingCmd.AddCommand(stagingCommitCmd)
	stagingCmd.AddCommand(stagingMergeCmd)
	stagingCmd.AddCommand(stagingRejectCmd)
	stagingCmd.AddCommand(stagingClearCmd)
}

func runStagingList(cmd *cobra.Command, args []string) error {
	graph, err := openGraph()
	if err != nil {
		return err
	}
	defer graph.Close()

	data, err := graph.GetStaging(userID)
	if err != nil {
		return fmt.Errorf("failed to load staging: %w", err)
	}
	if len(data.Nodes) == 0 && len(data.Links) == 0 {
		fmt.Println("Staging area is empty.")
		return nil
	}

	fmt.Printf("%d staged node(s):\n", len(data.Nodes))
	for _, n := range data.Nodes {
		line := fmt.Sprintf("  %-20s %-12s %s", n.ID, n.Type, n.Name)
		if n.SourceFile != "" {
			line += fmt.Sprintf("  (from %s)", n.SourceFile)
		}
		fmt.Println(line)
	}

	if len(data.Links) > 0 {
		fmt.Printf("%d staged edge(s):\n", len(data.Links))
		for _, e := range data.Links {
			fmt.Printf("  %s -%s-> %s\n", e.Source, e.Relation, e.Target)
		}
	}
	return nil
}

func runStagingCommit(cmd *cobra.Command, args []string) error {
	graph, err := openGraph()
	if err != nil {
		return err
	}
	defer graph.Close()

	promoted, err := graph.CommitStaging(userID, args)
	if err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	fmt.Printf("Promoted %d node(s) into the canonical graph.\n", promoted)
	return nil
}

func runStagingMerge(cmd *cobra.Command, args []string) error {
	graph, err := openGraph()
	if err != nil {
		return err
	}
	defer graph.Close()

	if !graph.MergeStaging(userID, args[0], args[1]) {
		return fmt.Errorf("merge of %s into %s failed; check both ids are staged", args[0], args[1])
	}
	fmt.Printf("Merged %s into %s.\n", args[0], args[1])
	return nil
}

func runStagingReject(cmd *cobra.Command, args []string) error {
	graph, err := openGraph()
	if err != nil {
		return err
	}
	defer graph.Close()

	rejected := 0
	for _, id := range args {
		if graph.DeleteStagingNode(userID, id) {
			rejected++
		} else {
			fmt.Printf("No staged node %s for %s.\n", id, userID)
		}
	}
	fmt.Printf("Rejected %d node(s).\n", rejected)
	return nil
}

func runStagingClear(cmd *cobra.Command, args []string) error {
	graph, err := openGraph()
	if err != nil {
		return err
	}
	defer graph.Close()

	if !graph.ClearStaging(userID) {
		return fmt.Errorf("failed to clear staging for %s", userID)
	}
	fmt.Println("Staging area cleared.")
	return nil
}
