package cli

import (
	"fmt"

	"github.com/iTrooz/offline-cache-proxy/internal/app"

	"github.com/spf13/cobra"
)

func newCachesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "caches",
		Short: "List the caches in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			application, err := app.New(cfg, nil)
			if err != nil {
				return err
			}
			return printCaches(cmd, application)
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			data, err := cfg.Dump()
			if err != nil {
				return fmt.Errorf("rendering config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func printCaches(cmd *cobra.Command, application *app.App) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	names, err := application.Storage.Keys(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "No caches.")
		return nil
	}

	for _, name := range names {
		c, err := application.Storage.Open(ctx, name)
		if err != nil {
			return err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return fmt.Errorf("listing entries of %s: %w", name, err)
		}

		marker := " "
		if name == application.Manager.CacheName() {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s (%d entries)\n", marker, name, len(keys))
	}
	return nil
}
