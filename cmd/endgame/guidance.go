package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var guidanceCmd = &cobra.Command{
	Use:   "guidance [situation]",
	Short: "Recall stored strategies for a situation",
	Long: `Searches the experience index for scenarios resembling the given
situation and prints the matching strategies, most similar first.

Example:
  endgame guidance "another day packed with back-to-back meetings"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGuidance,
}

func runGuidance(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	text := eng.evolution.GetGuidance(ctx, strings.Join(args, " "))
	if text == "" {
		fmt.Println("No stored strategies match this situation yet.")
		return nil
	}
	fmt.Println(text)
	return nil
}
