// Command onboard drives brand onboarding from a terminal or an MCP client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Conversational brand onboarding",
	Long: `Collect a brand profile through a conversation with the assistant.

  onboard chat             # run one onboarding session in the terminal
  onboard brands           # list stored brands
  onboard brands <id>      # show one brand
  onboard mcp              # serve the onboarding tools over MCP stdio`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		// stdout belongs to the conversation or the MCP transport.
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(chatCmd, brandsCmd, mcpCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
