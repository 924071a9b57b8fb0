package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"legalrag/internal/store"
	"legalrag/internal/stream"
)

var riskStyles = map[string]lipgloss.Style{
	"HIGH":   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
	"MEDIUM": lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	"LOW":    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
}

func renderRisk(level string) string {
	if style, ok := riskStyles[level]; ok {
		return style.Render(level)
	}
	return level
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Contract review operations",
}

var reviewSubmitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Upload a contract and run the review pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		rec, err := a.reviews.Submit(ctx, owner, filepath.Base(args[0]), f, info.Size())
		if err != nil {
			return err
		}
		fmt.Printf("Review %s created for %s\n", rec.ID, rec.Filename)

		a.reviews.Start(ctx)
		defer a.reviews.Stop()
		return streamReview(cmd, a, rec.ID)
	},
}

var reviewStatusCmd = &cobra.Command{
	Use:   "status <review-id>",
	Short: "Show a review's state and risk clauses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		rec, err := a.db.GetReview(ctx, args[0], owner)
		if err != nil {
			return err
		}

		fmt.Printf("Review:   %s\n", rec.ID)
		fmt.Printf("File:     %s\n", rec.Filename)
		fmt.Printf("Status:   %s (%d%%)\n", rec.Status, rec.Progress)
		if rec.Status == store.ReviewCompleted {
			fmt.Printf("Risk:     %s\n", renderRisk(rec.RiskLevel))
			fmt.Printf("Score:    %d/100\n", rec.CompletenessScore)
			fmt.Printf("Summary:  %s\n", rec.Summary)
			printClauses(cmd, a, rec.ID)
		}
		if rec.Status == store.ReviewFailed {
			fmt.Printf("Error:    %s\n", rec.ErrorMsg)
		}
		return nil
	},
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your reviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		reviews, err := a.db.ListReviews(cmd.Context(), owner, 50, 0)
		if err != nil {
			return err
		}
		if len(reviews) == 0 {
			fmt.Println("No reviews")
			return nil
		}
		for _, r := range reviews {
			fmt.Printf("%s  %-10s %-6s  %s\n", r.ID, r.Status, renderRisk(r.RiskLevel), r.Filename)
		}
		return nil
	},
}

var reviewReprocessCmd = &cobra.Command{
	Use:   "reprocess <review-id>",
	Short: "Re-run analysis for a review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		a.reviews.Start(ctx)
		defer a.reviews.Stop()

		if err := a.reviews.Reprocess(ctx, args[0], owner); err != nil {
			return err
		}
		return streamReview(cmd, a, args[0])
	},
}

// streamReview follows a review's SSE events on the terminal.
func streamReview(cmd *cobra.Command, a *app, id string) error {
	sink := stream.NewSink(a.cfg.Stream.QueueCapacity)

	var streamErr error
	go func() {
		streamErr = a.reviews.StreamAnalyze(cmd.Context(), id, owner, sink)
		sink.Close()
	}()

	for ev := range sink.Events() {
		data, _ := ev.Data.(map[string]interface{})
		switch ev.Name {
		case stream.EventProgress:
			fmt.Printf("[%3v%%] %v\n", data["progress"], data["message"])
		case stream.EventResult:
			fmt.Printf("\nRisk level: %v  Score: %v/100\n", renderRisk(fmt.Sprint(data["riskLevel"])), data["completenessScore"])
			fmt.Printf("Summary: %v\n", data["summary"])
		case stream.EventComplete:
			printClauses(cmd, a, id)
		case stream.EventTimeout:
			fmt.Printf("Timed out waiting; analysis continues in the background: %v\n", data["message"])
		case stream.EventError:
			fmt.Printf("Review failed: %v\n", data["error"])
		}
	}
	return streamErr
}

func printClauses(cmd *cobra.Command, a *app, id string) {
	clauses, err := a.db.RiskClauses(cmd.Context(), id)
	if err != nil || len(clauses) == 0 {
		return
	}
	fmt.Println(headerStyle.Render("风险条款"))
	for _, c := range clauses {
		fmt.Printf("  [%s] %s\n", renderRisk(c.RiskLevel), c.RiskType)
		fmt.Printf("    条款: %s\n", c.ClauseText)
		if c.Suggestion != "" {
			fmt.Printf("    建议: %s\n", c.Suggestion)
		}
	}
}

func init() {
	reviewCmd.AddCommand(reviewSubmitCmd)
	reviewCmd.AddCommand(reviewStatusCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewReprocessCmd)
}
