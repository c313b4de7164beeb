package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mapleportal/internal/bootstrap"
	"mapleportal/internal/config"
	"mapleportal/internal/platform/logger"
	"mapleportal/internal/rag"
)

var (
	ingestPath  string
	ingestReset bool
	ingestWatch bool
	clearYes    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load JSON and PDF guides into the vector store",
	Long: `Load every .json and .pdf file under the data directory into the vector store.

Examples:
  # Incremental load of RAG_DATA_PATH
  portalctl ingest

  # Rebuild the collection from scratch
  portalctl ingest --reset

  # Load, then keep following changes under ./data/rag
  portalctl ingest --path ./data/rag --watch`,
	RunE: runIngest,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics",
	RunE:  runStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every document in the collection",
	RunE:  runClear,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPath, "path", "", "data directory (default RAG_DATA_PATH)")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "clear the collection before loading")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "keep running and reindex files as they change")
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm deletion")
}

// openKnowledgeBase loads config and opens the embedder and vector store.
func openKnowledgeBase(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return bootstrap.NewKnowledgeBase(ctx, cfg, zl)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kb, err := openKnowledgeBase(ctx)
	if err != nil {
		return err
	}
	defer kb.Close()
	defer logger.Sync(kb.Logger)

	root := ingestPath
	if root == "" {
		root = kb.Config.RAG.DataPath
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("data directory %q not found", root)
	}

	result, err := kb.Ingestor.IngestDirectory(ctx, root, ingestReset)
	if err != nil {
		return err
	}
	if err := printJSON(cmd, result); err != nil {
		return err
	}
	if !ingestWatch {
		return nil
	}

	w, err := rag.NewWatcher(kb.Ingestor, root, 0, kb.Logger)
	if err != nil {
		return err
	}
	kb.Logger.Info("watching for changes", zap.String("root", root))
	return w.Run(ctx)
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	kb, err := openKnowledgeBase(ctx)
	if err != nil {
		return err
	}
	defer kb.Close()

	stats, err := kb.Vectors.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{
		"collection": kb.Config.Vector.Collection,
		"stats":      stats,
	})
}

func runClear(cmd *cobra.Command, _ []string) error {
	if !clearYes {
		return fmt.Errorf("refusing to clear the collection without --yes")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	kb, err := openKnowledgeBase(ctx)
	if err != nil {
		return err
	}
	defer kb.Close()

	if err := kb.Vectors.ClearCollection(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "collection %s cleared\n", kb.Config.Vector.Collection)
	return nil
}
