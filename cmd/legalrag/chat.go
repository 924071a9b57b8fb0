package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"legalrag/internal/chat"
	"legalrag/internal/stream"
)

var (
	chatMode         string
	chatModel        string
	chatConversation string
	chatNoStream     bool
	chatNoKB         bool
)

var sourceStyle = lipgloss.NewStyle().Faint(true)
var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask a legal question",
	Long: `Sends one question through the chat dispatcher. The default UNIFIED mode
routes simple lookups to the RAG pipeline and analysis questions to the
reasoning backend; --mode forces a specific handler.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		req := chat.Request{
			Message:          strings.Join(args, " "),
			ModelType:        chatMode,
			ModelName:        chatModel,
			ConversationID:   chatConversation,
			UseKnowledgeBase: !chatNoKB,
			Owner:            owner,
		}

		if chatNoStream {
			return runChatBlocking(cmd, a, req)
		}
		return runChatStream(cmd, a, req)
	},
}

// runChatBlocking waits for the full answer and renders it as markdown.
func runChatBlocking(cmd *cobra.Command, a *app, req chat.Request) error {
	result, err := a.unified.Handle(cmd.Context(), req)
	if err != nil {
		return err
	}
	if result.Status != chat.StatusSuccess {
		return fmt.Errorf("chat failed with status %s", result.Status)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err == nil {
		if out, rerr := renderer.Render(result.Answer); rerr == nil {
			fmt.Print(out)
		} else {
			fmt.Println(result.Answer)
		}
	} else {
		fmt.Println(result.Answer)
	}

	printSources(result.Sources)
	return nil
}

// runChatStream prints token deltas as they arrive.
func runChatStream(cmd *cobra.Command, a *app, req chat.Request) error {
	sink := stream.NewSink(a.cfg.Stream.QueueCapacity)

	var streamErr error
	go func() {
		streamErr = a.unified.HandleStream(cmd.Context(), req, sink)
		sink.Close()
	}()

	var sources int
	for ev := range sink.Events() {
		data, _ := ev.Data.(map[string]interface{})
		switch ev.Name {
		case stream.EventStart:
			if n, ok := data["sourceCount"].(int); ok {
				sources = n
			}
		case stream.EventContent:
			if c, ok := data["content"].(string); ok {
				fmt.Print(c)
			}
		case stream.EventDone:
			fmt.Println()
			if sources > 0 {
				fmt.Println(sourceStyle.Render(fmt.Sprintf("(%d knowledge sources)", sources)))
			}
		case stream.EventError:
			fmt.Println()
			return fmt.Errorf("stream error: %v", data["error"])
		}
	}
	return streamErr
}

func printSources(sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Println(headerStyle.Render("参考来源"))
	for i, s := range sources {
		fmt.Println(sourceStyle.Render(fmt.Sprintf("  %d. %s", i+1, s)))
	}
}

func init() {
	chatCmd.Flags().StringVar(&chatMode, "mode", "UNIFIED", "chat mode: BASIC, ADVANCED, ADVANCED_RAG, UNIFIED")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "override the backend's model name")
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "conversation id for session memory")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "wait for the full answer and render as markdown")
	chatCmd.Flags().BoolVar(&chatNoKB, "no-kb", false, "skip knowledge base retrieval in BASIC mode")
}
