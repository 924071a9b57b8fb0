package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"legalrag/internal/knowledge"
)

var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Index knowledge documents from a directory",
	Long: `Walks a directory and indexes every supported document (.pdf, .docx,
.doc, .txt, .md) into the knowledge base. Byte-identical documents that are
already indexed are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		dir := resolvePath(a.cfg.Storage.KnowledgeDir)
		if len(args) == 1 {
			dir = args[0]
		}

		logger.Info("indexing knowledge directory", zap.String("dir", dir))
		result, err := a.indexer.BulkIndex(cmd.Context(), dir)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d documents (%d segments), %d skipped, %d failed\n",
			result.Indexed, result.Segments, result.Skipped, result.Failed)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and index documents as they change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		dir := resolvePath(a.cfg.Storage.KnowledgeDir)
		if len(args) == 1 {
			dir = args[0]
		}

		w, err := knowledge.NewWatcher(dir, a.indexer)
		if err != nil {
			return err
		}
		if err := w.Start(cmd.Context()); err != nil {
			return err
		}
		defer w.Stop()

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", dir)
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		stats := w.Stats()
		fmt.Printf("\nIndexed %d documents, %d failures\n", stats.Indexed, stats.Failures)
		return nil
	},
}
