package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ashureev/brand-onboarding/internal/config"
	"github.com/ashureev/brand-onboarding/internal/domain"
	"github.com/ashureev/brand-onboarding/internal/store"
)

var (
	brandsLimit  int
	brandsOffset int
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

type brandLister interface {
	GetBrand(ctx context.Context, id string) (*domain.Brand, error)
	ListBrands(ctx context.Context, limit, offset int) ([]*domain.Brand, error)
}

var brandsCmd = &cobra.Command{
	Use:   "brands [brand-id]",
	Short: "List stored brands, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Read()
		repo, err := store.Open(cfg.DatabaseURL, cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open brand store: %w", err)
		}
		defer repo.Close()

		if len(args) == 1 {
			return showBrand(cmd.Context(), repo, args[0], cmd.OutOrStdout())
		}
		return listBrands(cmd.Context(), repo, brandsLimit, brandsOffset, cmd.OutOrStdout())
	},
}

func init() {
	brandsCmd.Flags().IntVar(&brandsLimit, "limit", 50, "Maximum number of brands to list")
	brandsCmd.Flags().IntVar(&brandsOffset, "offset", 0, "Number of brands to skip")
}

func listBrands(ctx context.Context, repo brandLister, limit, offset int, out io.Writer) error {
	brands, err := repo.ListBrands(ctx, limit, offset)
	if err != nil {
		return err
	}
	if len(brands) == 0 {
		fmt.Fprintln(out, "No brands stored yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, headerStyle.Render("ID")+"\t"+headerStyle.Render("NAME")+"\t"+headerStyle.Render("WEBSITE")+"\t"+headerStyle.Render("CREATED"))
	for _, b := range brands {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			idStyle.Render(b.ID), b.Name, b.WebsiteURL, dateStyle.Render(b.CreatedAt.Local().Format("2006-01-02 15:04")))
	}
	return w.Flush()
}

func showBrand(ctx context.Context, repo brandLister, id string, out io.Writer) error {
	b, err := repo.GetBrand(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, headerStyle.Render(b.Name)+" "+idStyle.Render(b.ID))
	fmt.Fprintf(out, "Website:     %s\n", b.WebsiteURL)
	fmt.Fprintf(out, "Description: %s\n", b.Description)
	fmt.Fprintf(out, "Created:     %s\n", dateStyle.Render(b.CreatedAt.Local().Format("2006-01-02 15:04")))
	if len(b.SocialMedia) > 0 {
		fmt.Fprintln(out, "Social media:")
		for _, s := range b.SocialMedia {
			fmt.Fprintf(out, "  %-10s %-20s %s\n", s.Platform, s.Handle, s.URL)
		}
	}
	if len(b.Keywords) > 0 {
		fmt.Fprintf(out, "Keywords:    %s\n", strings.Join(b.Keywords, ", "))
	}
	return nil
}
