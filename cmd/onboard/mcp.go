package main

import (
	"github.com/spf13/cobra"

	"github.com/ashureev/brand-onboarding/internal/app"
	"github.com/ashureev/brand-onboarding/internal/config"
	"github.com/ashureev/brand-onboarding/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the onboarding tools over MCP stdio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err := app.Build(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		return mcp.Run(a.Service, a.Repo, version)
	},
}
