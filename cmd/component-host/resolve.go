package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ClawdCity-Host/internal/config"
	"ClawdCity-Host/internal/endpoints"
)

func resolveCmd() *cobra.Command {
	var (
		configPath string
		baseURL    string
	)

	cmd := &cobra.Command{
		Use:   "resolve <component> <path>",
		Short: "Print the URL a component resource is served from",
		Example: `  component-host resolve my_widget index.html
  component-host resolve my_widget static/app.js --base-url https://apps.example.com`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if baseURL != "" {
				cfg.BaseURL = baseURL
			}
			resolver, err := newResolver(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resolver.BuildComponentURL(args[0], args[1]))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the host config file")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override the configured base URL")
	return cmd
}

func newResolver(cfg config.Config) (endpoints.Resolver, error) {
	if cfg.Components.Manifest == "" {
		return endpoints.NewHTTP(cfg.BaseURL), nil
	}
	manifest, err := endpoints.LoadManifest(cfg.Components.Manifest)
	if err != nil {
		return nil, err
	}
	return endpoints.NewHTTP(cfg.BaseURL, endpoints.WithManifest(manifest)), nil
}
