package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"endgame/internal/evolution"
)

var nightlyDate string

var nightlyCmd = &cobra.Command{
	Use:   "nightly",
	Short: "Run the nightly reflection cycle once",
	Long: `Reads the previous day's interaction logs, asks the reflector for up to
three lessons, turns each into an actionable strategy, and stores the
results as searchable experiences. The same cycle the in-process
scheduler runs at the configured hour.`,
	RunE: runNightly,
}

func init() {
	nightlyCmd.Flags().StringVar(&nightlyDate, "date", "", "Log date to reflect on (YYYY-MM-DD, default yesterday)")
}

func runNightly(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	logger.Info("Running nightly cycle", zap.String("user", userID), zap.String("date", nightlyDate))

	var rep *evolution.Report
	if nightlyDate == "" {
		rep, err = eng.evolution.RunNightlyCycle(ctx, userID)
	} else {
		rep, err = eng.evolution.RunCycleForDate(ctx, userID, nightlyDate)
	}
	if err != nil {
		return fmt.Errorf("nightly cycle failed: %w", err)
	}

	fmt.Printf("Reflection for %s:\n", rep.Date)
	fmt.Printf("  logs read:          %d\n", rep.Logs)
	fmt.Printf("  insights extracted: %d\n", rep.Insights)
	fmt.Printf("  strategies stored:  %d\n", rep.Experiences)
	return nil
}
