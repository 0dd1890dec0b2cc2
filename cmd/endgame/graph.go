package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"endgame/internal/types"
)

var graphViewName string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect the knowledge graph",
}

var graphViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Dump a graph view as JSON",
	Long: `Views:
  global     everything except raw Logs
  strategic  the Self -> Vision -> Goal -> Project -> Task spine,
             ghost-filled so the hierarchy is always renderable
  people     Self plus Person and Organization nodes
  social     people plus the Concepts they touch
  staging    the pending extraction results`,
	RunE: runGraphView,
}

func init() {
	graphViewCmd.Flags().StringVar(&graphViewName, "view", string(types.ViewGlobal), "View to render (global|strategic|people|social|staging)")
	graphCmd.AddCommand(graphViewCmd)
}

func runGraphView(cmd *cobra.Command, args []string) error {
	graph, err := openGraph()
	if err != nil {
		return err
	}
	defer graph.Close()

	data, err := graph.GetGraphData(userID, types.ViewType(graphViewName))
	if err != nil {
		return fmt.Errorf("failed to load %s view: %w", graphViewName, err)
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode view: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
