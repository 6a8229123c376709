package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kviflow/kviflow/internal/tui"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive interview session",
	Long: `Start an interactive terminal interview session.

The session walks through the full KVI pipeline, from the opening
interview to the final recommendations. Pass --session to resume an
existing session.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatSessionID, "session", "",
		"Session ID to resume (default: start a new session)")
}

func runChat(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	deps, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	sessionID := chatSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	program := tea.NewProgram(tui.NewModel(deps.orch, sessionID), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running chat: %w", err)
	}
	return nil
}
