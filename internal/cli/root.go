package cli

import (
	"fmt"
	"os"

	"github.com/iTrooz/offline-cache-proxy/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// Exit codes
const (
	ExitSuccess      = 0
	ExitRuntimeError = 1
)

type options struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "offline-cache-proxy",
		Short:         "Offline cache proxy",
		Long:          "Serves pre-cached responses for a web application when the network is unavailable.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newInstallCmd(opts))
	rootCmd.AddCommand(newActivateCmd(opts))
	rootCmd.AddCommand(newCachesCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Run executes the root command and returns an exit code.
func Run() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitRuntimeError
	}
	return ExitSuccess
}

// loadConfig loads and validates the configuration, then applies its log level
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := cfg.GetLogLevel()
	logrus.SetLevel(level)

	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "offline-cache-proxy version %s\n", version)
		},
	}
}
