package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vyrodovalexey/kubeauth/internal/auth/builtin"
)

// newRootCommand builds the CLI. Running it without a subcommand serves.
func newRootCommand() *cobra.Command {
	registry := builtin.NewRegistry()
	opts := newServeOptions()

	root := &cobra.Command{
		Use:           "kubeauth",
		Short:         "Kubernetes TokenReview webhook backed by pluggable authenticators",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.Flags(), opts, registry)
		},
	}
	opts.bind(root.Flags(), registry)
	root.Flags().SetNormalizeFunc(underscoreNormalize)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.Flags(), opts, registry)
		},
	}
	opts.bind(serve.Flags(), registry)
	serve.Flags().SetNormalizeFunc(underscoreNormalize)

	root.AddCommand(serve, newHashPasswordCommand(), newVersionCommand())
	return root
}

// underscoreNormalize lets --json-user-file-path and --json_user_file_path
// name the same flag.
func underscoreNormalize(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kubeauth version %s\n", version)
			fmt.Fprintf(out, "  Build time: %s\n", buildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", gitCommit)
		},
	}
}
