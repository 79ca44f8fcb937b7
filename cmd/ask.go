package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aulabot/aula/internal/app"
)

var askUserID string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question from the terminal",
	Long: `Runs one question through the answer pipeline without Telegram.
Useful for checking what the bot would answer after indexing documents.
Conversation state is in-process, so each invocation starts fresh.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askUserID, "user", "terminal", "conversation key to use")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.Setup(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	question := strings.Join(args, " ")
	res, err := a.Pipeline.HandleMessage(cmd.Context(), askUserID, question)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Answer)
	if len(res.CitedSources) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nSources:", strings.Join(res.CitedSources, ", "))
	}
	return nil
}
