package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	clearGraphOnly bool
	clearYes       bool
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Erase the user's stored memory",
	Long: `Deletes every row owned by the user: graph, staging, experiences, and
the energy history, plus all vector collections. With --graph-only just
the canonical nodes and edges go; staging, experiences and vectors stay.

This cannot be undone.`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearGraphOnly, "graph-only", false, "Only wipe canonical nodes and edges")
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes && !confirmClear() {
		fmt.Println("Aborted.")
		return nil
	}

	if clearGraphOnly {
		graph, err := openGraph()
		if err != nil {
			return err
		}
		defer graph.Close()

		if !graph.ClearGraphOnly(userID) {
			return fmt.Errorf("failed to clear graph for %s", userID)
		}
		fmt.Printf("Canonical graph cleared for %s.\n", userID)
		return nil
	}

	graph, vectors, err := openStores()
	if err != nil {
		return err
	}
	defer vectors.Close()
	defer graph.Close()

	if !graph.ClearAll(userID) {
		return fmt.Errorf("failed to clear graph data for %s", userID)
	}
	if err := vectors.ClearAll(); err != nil {
		return fmt.Errorf("graph cleared but vector wipe failed: %w", err)
	}
	fmt.Printf("All memory cleared for %s.\n", userID)
	return nil
}

// confirmClear asks for the user id back to guard against habit-typed
// confirmations.
func confirmClear() bool {
	scope := "ALL memory"
	if clearGraphOnly {
		scope = "the canonical graph"
	}
	fmt.Printf("This permanently erases %s for %s. Type the user id to confirm: ", scope, userID)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == userID
}
