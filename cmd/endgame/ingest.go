package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"endgame/internal/ingestion"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a file into the staging area",
	Long: `Copies the file into uploads/, chunks it, extracts entities and
relations with the configured model, and writes the results to the
staging area. The canonical graph is untouched until the staged rows
are committed.

Supported formats: plain text, markdown, HTML, PDF, and JSON chat
exports (ChatGPT conversation dumps are flattened to transcripts).`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	stored, err := ingestion.IntakeFile(cfg.DataRoot, userID, args[0])
	if err != nil {
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	logger.Info("Upload stored", zap.String("path", stored))

	report, err := eng.pipeline.IngestFile(ctx, userID, stored, func(percent int, message string) {
		fmt.Printf("\r[%3d%%] %-60s", percent, message)
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("Ingested %s (file id %s)\n", filepath.Base(stored), report.FileID)
	fmt.Printf("  chunks:           %d\n", report.Chunks)
	fmt.Printf("  extracted:        %d\n", report.Extracted)
	fmt.Printf("  skipped:          %d\n", report.Skipped)
	fmt.Printf("  staged nodes:     %d\n", report.StagedNodes)
	fmt.Printf("  staged edges:     %d\n", report.StagedEdges)
	fmt.Printf("  document vectors: %d\n", report.DocumentVectors)
	if report.StagedNodes > 0 {
		fmt.Println("Run 'endgame review' to approve the staged knowledge.")
	}
	return nil
}
