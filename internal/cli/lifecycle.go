package cli

import (
	"fmt"

	"github.com/iTrooz/offline-cache-proxy/internal/app"
	"github.com/iTrooz/offline-cache-proxy/internal/lifecycle"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Install and activate the worker, then serve the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			application, err := app.New(cfg, nil)
			if err != nil {
				return err
			}

			if err := application.Worker.Install(cmd.Context()); err != nil {
				return err
			}
			if err := application.Worker.Activate(cmd.Context()); err != nil {
				// The worker is active anyway; stale caches may remain
				logrus.Errorf("Activation did not complete: %v", err)
			}

			return application.Server.Start()
		},
	}
}

func newInstallCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Populate the current cache with the configured resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			application, err := app.New(cfg, nil)
			if err != nil {
				return err
			}

			if err := application.Worker.Install(cmd.Context()); err != nil {
				return err
			}

			if application.Worker.SkippedWaiting() {
				fmt.Fprintf(cmd.OutOrStdout(), "Development origin %s, nothing cached.\n", cfg.Worker.Origin)
				return nil
			}
			return printCaches(cmd, application)
		},
	}
}

func newActivateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Delete every cache but the current one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			application, err := app.New(cfg, nil, lifecycle.AssumeInstalled())
			if err != nil {
				return err
			}

			if err := application.Worker.Activate(cmd.Context()); err != nil {
				return err
			}
			return printCaches(cmd, application)
		},
	}
}
