package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Chat session operations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		sessions, err := a.db.ListSessions(cmd.Context(), owner)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %-12s %s\n", s.ConversationID, s.ModelType, s.Title)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show a session's recent messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if _, err := a.db.GetSession(ctx, args[0], owner); err != nil {
			return err
		}
		msgs, err := a.db.RecentMessages(ctx, args[0], 50)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a session, its messages, and its memory windows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.db.DeleteSession(ctx, args[0], owner); err != nil {
			return err
		}
		if err := a.unified.ClearMemory(ctx, args[0], ""); err != nil {
			logger.Warn("failed to clear memory windows", zap.Error(err))
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}
