package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ashureev/brand-onboarding/internal/app"
	"github.com/ashureev/brand-onboarding/internal/config"
	"github.com/ashureev/brand-onboarding/internal/onboarding"
	"github.com/ashureev/brand-onboarding/internal/session"
	"github.com/ashureev/brand-onboarding/internal/transcript"
)

var (
	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	doneStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
)

// turnRunner is the part of the onboarding service the chat loop needs.
type turnRunner interface {
	CreateSession(ctx context.Context) session.View
	SendTurn(ctx context.Context, id, message string) (onboarding.TurnResult, error)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run one onboarding conversation in the terminal",
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

		return runChat(cmd.Context(), a.Service, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// runChat reads one message per line until the session completes or in ends.
func runChat(ctx context.Context, svc turnRunner, in io.Reader, out io.Writer) error {
	ctx = transcript.WithChannel(ctx, "cli")
	view := svc.CreateSession(ctx)
	fmt.Fprintln(out, assistantStyle.Render(onboarding.WelcomeMessage))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		res, err := svc.SendTurn(ctx, view.ID, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintln(out, warnStyle.Render("error: "+err.Error()))
			continue
		}
		fmt.Fprintln(out, assistantStyle.Render(res.Message))

		if res.Completed {
			summary := "Onboarding complete for " + res.BrandData.BrandName
			if res.BrandID != "" {
				summary += " (brand " + res.BrandID + ")"
			} else {
				summary += " (not saved, see logs)"
			}
			fmt.Fprintln(out, doneStyle.Render(summary))
			return nil
		}
	}
}
