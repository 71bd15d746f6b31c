package cmd

import (
	"strings"

	"github.com/chiquitav2/ddcloud/internal/cloud"
	"github.com/chiquitav2/ddcloud/internal/cloud/nodefuncs"
	"github.com/spf13/cobra"
)

var (
	listFull   bool
	listSelect string
)

var destroyCmd = &cobra.Command{
	Use:   "destroy NAME...",
	Short: "Destroy nodes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := current.provider(providerRef)
		if err != nil {
			return err
		}

		results := make(map[string]any, len(args))
		for _, name := range args {
			ret, err := p.Destroy(cmd.Context(), name, cloud.CallAction)
			if err != nil {
				return err
			}
			results[name] = ret
		}
		return printResult(cmd.OutOrStdout(), outputFmt, map[string]any{p.Alias(): results})
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot NAME",
	Short: "Reboot a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := current.provider(providerRef)
		if err != nil {
			return err
		}
		ret, err := p.Reboot(cmd.Context(), args[0], cloud.CallAction)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFmt, map[string]any{p.Alias(): map[string]any{args[0]: ret}})
	},
}

var showInstanceCmd = &cobra.Command{
	Use:   "show-instance NAME",
	Short: "Show the details of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := current.provider(providerRef)
		if err != nil {
			return err
		}
		ret, err := p.ShowInstance(cmd.Context(), args[0], cloud.CallAction)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFmt, map[string]any{p.Alias(): map[string]any{args[0]: ret}})
	},
}

var listNodesCmd = &cobra.Command{
	Use:   "list-nodes",
	Short: "List nodes of one or every provider",
	Example: `  # Names, states and addresses
  ddcloud list-nodes

  # Only some fields
  ddcloud list-nodes --select id,state,public_ips`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		providers, err := current.providers(providerRef)
		if err != nil {
			return err
		}

		if listSelect != "" {
			current.opts.Global[nodefuncs.SelectionKey] = strings.Split(listSelect, ",")
		}

		results := make(map[string]any, len(providers))
		for _, p := range providers {
			var nodes cloud.Results
			switch {
			case listSelect != "":
				nodes, err = p.ListNodesSelect(cmd.Context(), cloud.CallFunction)
			case listFull:
				nodes, err = p.ListNodesFull(cmd.Context(), cloud.CallFunction)
			default:
				nodes, err = p.ListNodes(cmd.Context(), cloud.CallFunction)
			}
			if err != nil {
				return err
			}
			results[p.Alias()] = nodes
		}
		return printResult(cmd.OutOrStdout(), outputFmt, results)
	},
}

func init() {
	for _, c := range []*cobra.Command{destroyCmd, rebootCmd, showInstanceCmd, listNodesCmd} {
		c.Flags().StringVar(&providerRef, "provider", "", "Provider alias (required when several are configured)")
		rootCmd.AddCommand(c)
	}

	listNodesCmd.Flags().BoolVar(&listFull, "full", false, "Include every node attribute")
	listNodesCmd.Flags().StringVar(&listSelect, "select", "", "Comma separated attributes to return")
}
