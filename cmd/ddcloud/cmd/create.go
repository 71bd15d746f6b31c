package cmd

import (
	"log/slog"

	"github.com/chiquitav2/ddcloud/internal/config"
	apperrors "github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/spf13/cobra"
)

var createProfile string

var createCmd = &cobra.Command{
	Use:   "create --profile PROFILE NAME...",
	Short: "Create nodes from a profile",
	Long: `Create one node per NAME from the given profile, wait until it reports
an address and bootstrap it. A failed creation is reported in the result and
the remaining nodes are still created; a node that never comes up stops the
run with an error.`,
	Example: `  # Create two web nodes
  ddcloud create --profile web web-01 web-02`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()

		p, err := a.registry.LoadForProfile(a.deps(), createProfile)
		if err != nil {
			return err
		}

		results := make(map[string]any, len(args))
		for _, name := range args {
			vm, err := config.NewVM(a.opts, createProfile, name, nil)
			if err != nil {
				return err
			}

			ret, err := p.Create(ctx, vm)
			if apperrors.IsSystemExit(err) {
				_ = printResult(cmd.OutOrStdout(), outputFmt, map[string]any{p.Alias(): results})
				return err
			}
			if err != nil {
				a.logger.ErrorCtx(ctx, "failed to create node", err, slog.String("name", name))
				results[name] = map[string]any{"error": apperrors.Message(err)}
				continue
			}
			results[name] = ret
		}

		return printResult(cmd.OutOrStdout(), outputFmt, map[string]any{p.Alias(): results})
	},
}

func init() {
	createCmd.Flags().StringVarP(&createProfile, "profile", "p", "", "Profile to create the nodes from")
	_ = createCmd.MarkFlagRequired("profile")

	rootCmd.AddCommand(createCmd)
}
