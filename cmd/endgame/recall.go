package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"endgame/internal/retrieval"
)

var recallConversationID string

var recallCmd = &cobra.Command{
	Use:   "recall [message]",
	Short: "Assemble the context a serving layer would see",
	Long: `Runs the full retrieval pass for the given message and prints the
context blob: system time, dated memory recall, structured graph or
concept recall, past strategies, and the vision alignment note.

Example:
  endgame recall "what should I focus on for the beta launch?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecall,
}

func init() {
	recallCmd.Flags().StringVar(&recallConversationID, "conversation", "", "Conversation id recorded with the retrieval")
}

func runRecall(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	asm := retrieval.NewAssembler(eng.graph, eng.vectors, eng.embedder, eng.extractor, eng.evolution, cfg.GraphSearchKeywords)
	blob, err := asm.BuildContext(ctx, userID, strings.Join(args, " "), recallConversationID)
	if err != nil {
		return fmt.Errorf("failed to assemble context: %w", err)
	}
	fmt.Println(blob)
	return nil
}
