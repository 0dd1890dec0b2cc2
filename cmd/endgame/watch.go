package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"endgame/internal/ingestion"
)

var watchInboxDir string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch an inbox directory and auto-ingest dropped files",
	Long: `Watches the inbox for new files. A file that has stopped growing is
moved into uploads/ and ingested in the background for the configured
user. Files already sitting in the inbox are picked up on start.

Runs until interrupted. The inbox comes from --inbox or the watch_inbox
config key; the owner defaults to watch_user_id when --user is not set.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchInboxDir, "inbox", "", "Inbox directory (overrides watch_inbox)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	inbox := watchInboxDir
	if inbox == "" {
		inbox = cfg.WatchInbox
	}
	if inbox == "" {
		return fmt.Errorf("no inbox configured: pass --inbox or set watch_inbox")
	}

	owner := userID
	if cfg.WatchUserID != "" && !cmd.Flags().Changed("user") {
		owner = cfg.WatchUserID
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	watcher, err := ingestion.NewWatcher(eng.pipeline, cfg.DataRoot, owner, inbox)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	logger.Info("Watching inbox", zap.String("inbox", inbox), zap.String("user", owner))
	fmt.Printf("Watching %s for %s. Ctrl+C to stop.\n", inbox, owner)

	<-ctx.Done()
	watcher.Stop()

	stats := watcher.Stats()
	fmt.Printf("\nWatcher stopped: %d file(s) queued, %d job(s) started, %d error(s).\n",
		stats.FilesQueued, stats.JobsStarted, stats.Errors)
	if stats.LastFile != "" {
		fmt.Printf("Last file: %s\n", stats.LastFile)
	}
	return nil
}
