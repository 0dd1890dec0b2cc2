package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"endgame/internal/memory"
)

var (
	visionDescription string
	visionMilestones  []string
)

var visionCmd = &cobra.Command{
	Use:   "vision",
	Short: "Manage the identity anchors (Self and Vision)",
}

var visionSetCmd = &cobra.Command{
	Use:   "set [title]",
	Short: "Set the vision statement and bootstrap the strategic spine",
	Long: `Creates or updates the Self node and the Vision singleton, links them
with an OWNS edge, and mints one Goal per --milestone under the vision.
Running it again updates the statement in place; nothing is deleted.

Example:
  endgame vision set "Ship the strategic engine" \
    --description "A second brain that argues back" \
    --milestone "Public beta" --milestone "First paying user"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVisionSet,
}

func init() {
	visionSetCmd.Flags().StringVarP(&visionDescription, "description", "d", "", "Longer vision statement")
	visionSetCmd.Flags().StringArrayVarP(&visionMilestones, "milestone", "m", nil, "Milestone goal under the vision (repeatable)")
	visionCmd.AddCommand(visionSetCmd)
}

func runVisionSet(cmd *cobra.Command, args []string) error {
	// The bootstrap writes graph rows only. No model stack is opened, so
	// this works before any API key is configured.
	graph, err := openGraph()
	if err != nil {
		return err
	}
	defer graph.Close()
	svc := memory.NewService(graph, nil, nil, nil, cfg.CoreKeywords)

	title := strings.Join(args, " ")
	logger.Info("Setting vision", zap.String("user", userID), zap.String("title", title))

	if err := svc.SyncUserToSelfNode(userID, title, visionDescription, visionMilestones); err != nil {
		return fmt.Errorf("failed to sync identity anchors: %w", err)
	}

	fmt.Printf("Vision for %s: %q\n", userID, title)
	if len(visionMilestones) > 0 {
		fmt.Printf("Linked %d milestone goal(s) under the vision.\n", len(visionMilestones))
	}
	return nil
}
