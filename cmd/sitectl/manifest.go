package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/splax/sitedeploy/internal/domain"
	"github.com/splax/sitedeploy/internal/manifest"
)

// loadTheme reads a content snapshot from a YAML or JSON file.
func loadTheme(path string) (domain.Theme, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Theme{}, fmt.Errorf("read content: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return domain.Theme{}, fmt.Errorf("parse content: %w", err)
	}
	normalized, err := json.Marshal(tree)
	if err != nil {
		return domain.Theme{}, fmt.Errorf("normalize content: %w", err)
	}
	if tree == nil {
		normalized = nil
	}
	return domain.DecodeTheme(normalized)
}

func newManifestCmd(root *rootOptions) *cobra.Command {
	var (
		contentFile string
		uploads     string
		opts        domain.DeployOptions
		server      string
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the files a deploy of a content file would write",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if contentFile == "" {
				return errors.New("--content is required")
			}
			theme, err := loadTheme(contentFile)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("uploads") {
				uploads = root.cli().UploadsRoot
			}
			opts.ServerKind = domain.NormalizeServerKind(server)
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			items := manifest.New(uploads, log).Build(opts, theme)
			return printManifest(cmd.OutOrStdout(), items, jsonOut)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&contentFile, "content", "c", "", "content snapshot (YAML or JSON)")
	flags.StringVar(&uploads, "uploads", "", "uploads root for /uploads/ references (default $UPLOADS_ROOT)")
	flags.BoolVar(&opts.IncludeAssets, "assets", false, "include image assets")
	flags.BoolVar(&opts.GenerateAuxiliaryScript, "script", false, "include a deploy script")
	flags.StringVar(&server, "server", "nginx", "deploy script flavour")
	flags.StringVar(&opts.DomainName, "domain", "", "domain passed to the deploy script")
	flags.BoolVar(&jsonOut, "json", false, "print JSON instead of a table")
	return cmd
}

func printManifest(out io.Writer, items []domain.FileDescriptor, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tKIND\tSOURCE")
	for _, item := range items {
		ref := item.Ref
		if item.Kind == domain.SourceLiteral {
			ref = fmt.Sprintf("%d bytes", len(item.Ref))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", item.Path, item.Kind, ref)
	}
	return tw.Flush()
}
