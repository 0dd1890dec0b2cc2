// Command endgame administers the strategic knowledge engine: identity
// bootstrap, file ingestion, staging review, graph inspection, and the
// maintenance cycles. All behavior lives in the internal packages; the CLI
// is routing and presentation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
