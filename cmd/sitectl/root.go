package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/splax/sitedeploy/pkg/config"
)

type rootOptions struct {
	configFile string
	apiURL     string
	token      string
}

// cli resolves flags over the environment and optional config file.
func (o *rootOptions) cli() config.CLIConfig {
	if o.configFile != "" {
		config.UseFile(o.configFile)
	}
	cfg := config.LoadCLIConfig()
	if o.apiURL != "" {
		cfg.APIURL = o.apiURL
	}
	if o.token != "" {
		cfg.Token = o.token
	}
	return cfg
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "sitectl",
		Short:         "Deploy generated business sites and manage their output",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML, keys named like the environment variables)")
	root.PersistentFlags().StringVar(&opts.apiURL, "api", "", "API base URL (default $SITEDEPLOY_API_URL)")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "bearer token (default $SITEDEPLOY_TOKEN)")

	root.AddCommand(
		newDeployCmd(opts),
		newDeploysCmd(opts),
		newManifestCmd(opts),
		newSweepCmd(opts),
		newTokenCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sitectl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sitectl %s\n", buildVersion)
		},
	}
}
