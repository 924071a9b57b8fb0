package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"legalrag/internal/llm"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		stats, err := a.db.Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Println(headerStyle.Render("Knowledge base"))
		fmt.Printf("  Documents:    %d\n", stats.DocumentCount)
		fmt.Printf("  Segments:     %d\n", stats.SegmentCount)
		if !stats.LastUpdated.IsZero() {
			fmt.Printf("  Last indexed: %s\n", stats.LastUpdated.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("  Vector ext:   %v\n", a.db.VectorExtAvailable())

		fmt.Println(headerStyle.Render("Backends"))
		for _, t := range []llm.ModelType{llm.ModelOllama, llm.ModelDeepSeek, llm.ModelLangChain4J} {
			status := "unavailable"
			if a.dispatcher.Available(ctx, t) {
				status = "available"
			}
			fmt.Printf("  %-12s %s\n", t, status)
		}
		fmt.Printf("  Embedding:   %s\n", a.embedder.Name())

		docs, err := a.db.ListDocuments(ctx)
		if err == nil && len(docs) > 0 {
			fmt.Println(headerStyle.Render("Documents"))
			for _, d := range docs {
				fmt.Printf("  %-8s %4d segs  %s\n", d.Status, d.SegmentCount, d.Filename)
			}
		}
		return nil
	},
}
