package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	apperrors "github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	logLevel    string
	logFormat   string
	outputFmt   string
	metricsFile string
	showEvents  bool
	providerRef string

	// Version is set by main.go
	Version = "dev"

	current *app
)

var rootCmd = &cobra.Command{
	Use:   "ddcloud",
	Short: "Create and manage Dimension Data CloudControl nodes",
	Long: `ddcloud drives cloud providers from a single YAML configuration.

Providers describe accounts (driver, credentials, region), profiles describe
the nodes to build from them (location, image, network domain). Nodes are
created, waited on until they report an address, and bootstrapped over SSH.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		current = a
		return nil
	},
}

// SetVersion sets the version reported by --version
func SetVersion(v string) {
	Version = v
	rootCmd.Version = v
}

// Execute runs the command line and returns the process exit code
func Execute(ctx context.Context) int {
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)

	if current != nil {
		current.close(ctx)
		current = nil
	}

	if err != nil {
		if apperrors.IsSystemExit(err) {
			fmt.Fprintf(stderr, "Error: %s\n", apperrors.Message(err))
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: cloud.yaml in /etc/ddcloud, $HOME/.ddcloud or .)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "yaml", "Result format: yaml or json")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	rootCmd.PersistentFlags().BoolVar(&showEvents, "events", false, "Print lifecycle events to stderr as they fire")

	rootCmd.Version = Version
}
