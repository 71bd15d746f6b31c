package cmd

import (
	"context"

	"github.com/chiquitav2/ddcloud/internal/cloud"
	"github.com/spf13/cobra"
)

type catalogFunc func(ctx context.Context, p cloud.Provider) (cloud.Results, error)

func catalogCommand(use, short string, list catalogFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := current.provider(providerRef)
			if err != nil {
				return err
			}
			items, err := list(cmd.Context(), p)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), outputFmt, map[string]any{p.Alias(): items})
		},
	}
	c.Flags().StringVar(&providerRef, "provider", "", "Provider alias (required when several are configured)")
	return c
}

func init() {
	rootCmd.AddCommand(
		catalogCommand("list-images", "List the images a provider offers",
			func(ctx context.Context, p cloud.Provider) (cloud.Results, error) {
				return p.AvailImages(ctx, cloud.CallFunction)
			}),
		catalogCommand("list-sizes", "List the sizes a provider offers",
			func(ctx context.Context, p cloud.Provider) (cloud.Results, error) {
				return p.AvailSizes(ctx, cloud.CallFunction)
			}),
		catalogCommand("list-locations", "List the locations a provider offers",
			func(ctx context.Context, p cloud.Provider) (cloud.Results, error) {
				return p.AvailLocations(ctx, cloud.CallFunction)
			}),
	)
}
