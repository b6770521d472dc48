package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apiclient "github.com/splax/sitedeploy/pkg/api/client"
)

// deployFile is the YAML form of a deploy request.
type deployFile struct {
	ProjectID   string `yaml:"projectId"`
	ProjectName string `yaml:"projectName"`
	Description string `yaml:"description"`
	Assets      *bool  `yaml:"includeAssets"`
	Isolated    *bool  `yaml:"createIsolatedFolder"`
	Script      *bool  `yaml:"generateAuxiliaryScript"`
	ServerKind  string `yaml:"serverKind"`
	Domain      string `yaml:"domainName"`
}

func loadDeployFile(path string) (apiclient.DeployInput, error) {
	var input apiclient.DeployInput
	raw, err := os.ReadFile(path)
	if err != nil {
		return input, fmt.Errorf("read deploy file: %w", err)
	}
	var file deployFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return input, fmt.Errorf("parse deploy file: %w", err)
	}
	input = apiclient.DeployInput{
		ProjectID:   file.ProjectID,
		ProjectName: file.ProjectName,
		Description: file.Description,
		ServerKind:  file.ServerKind,
		DomainName:  file.Domain,
	}
	if file.Assets != nil {
		input.IncludeAssets = *file.Assets
	}
	if file.Isolated != nil {
		input.CreateIsolatedFolder = *file.Isolated
	}
	if file.Script != nil {
		input.GenerateAuxiliaryScript = *file.Script
	}
	return input, nil
}

func newDeployCmd(root *rootOptions) *cobra.Command {
	var (
		from     string
		input    apiclient.DeployInput
		watch    bool
		timeout  time.Duration
		jsonOut  bool
		retries  int
		interval = 500 * time.Millisecond
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Materialize a project through the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cli()
			req := input
			if from != "" {
				base, err := loadDeployFile(from)
				if err != nil {
					return err
				}
				req = mergeDeployInput(base, input, cmd)
			}
			if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.ProjectName) == "" {
				return errors.New("--project-id and --name are required")
			}
			if strings.TrimSpace(cfg.Token) == "" {
				return errors.New("no token configured; pass --token or set SITEDEPLOY_TOKEN")
			}
			client, err := apiclient.New(cfg.APIURL, apiclient.WithHTTPClient(&http.Client{}), apiclient.WithBusyRetries(retries))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			stopWatch := func() {}
			if watch {
				stopWatch = watchProgress(ctx, client, cfg.Token, req.ProjectID, interval, cmd.ErrOrStderr())
			}
			result, err := client.Deploy(ctx, cfg.Token, req)
			stopWatch()
			if err != nil {
				return err
			}
			return printDeployResult(cmd.OutOrStdout(), result, jsonOut)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&from, "file", "f", "", "YAML file with deploy options; flags override it")
	flags.StringVar(&input.ProjectID, "project-id", "", "project identifier")
	flags.StringVar(&input.ProjectName, "name", "", "project name used for the output directory")
	flags.StringVar(&input.Description, "description", "", "site description")
	flags.BoolVar(&input.IncludeAssets, "assets", false, "copy or download referenced images")
	flags.BoolVar(&input.CreateIsolatedFolder, "isolated", false, "place output under a per-owner folder")
	flags.BoolVar(&input.GenerateAuxiliaryScript, "script", false, "generate a server deploy script")
	flags.StringVar(&input.ServerKind, "server", "nginx", "deploy script flavour (nginx|apache|node|docker)")
	flags.StringVar(&input.DomainName, "domain", "", "domain used by the deploy script and sitemap")
	flags.BoolVarP(&watch, "watch", "w", false, "print progress while the deploy runs")
	flags.DurationVar(&timeout, "timeout", 10*time.Minute, "overall request timeout")
	flags.BoolVar(&jsonOut, "json", false, "print the raw JSON result")
	flags.IntVar(&retries, "retries", 2, "retries when the server is busy")
	return cmd
}

// mergeDeployInput overlays explicitly set flags on values read from a file.
func mergeDeployInput(base, flags apiclient.DeployInput, cmd *cobra.Command) apiclient.DeployInput {
	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if set("project-id") {
		base.ProjectID = flags.ProjectID
	}
	if set("name") {
		base.ProjectName = flags.ProjectName
	}
	if set("description") {
		base.Description = flags.Description
	}
	if set("assets") {
		base.IncludeAssets = flags.IncludeAssets
	}
	if set("isolated") {
		base.CreateIsolatedFolder = flags.CreateIsolatedFolder
	}
	if set("script") {
		base.GenerateAuxiliaryScript = flags.GenerateAuxiliaryScript
	}
	if set("server") || base.ServerKind == "" {
		base.ServerKind = flags.ServerKind
	}
	if set("domain") {
		base.DomainName = flags.DomainName
	}
	return base
}

func watchProgress(ctx context.Context, client *apiclient.Client, token, projectID string, every time.Duration, out io.Writer) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		last := -1
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				progress, err := client.Progress(ctx, token, projectID)
				if err != nil || progress.Progress == last {
					continue
				}
				last = progress.Progress
				fmt.Fprintf(out, "%3d%% %s (%d/%d files)\n", progress.Progress, progress.Status, progress.ProcessedFiles, progress.TotalFiles)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func printDeployResult(out io.Writer, result apiclient.DeployResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(out, "deployed %s (%s)\n", result.ProjectName, result.DeploymentID)
	fmt.Fprintf(out, "  output:  %s\n", result.OutputPath)
	fmt.Fprintf(out, "  files:   %d\n", result.FileCount)
	if result.ScriptPath != nil {
		fmt.Fprintf(out, "  script:  %s\n", *result.ScriptPath)
	}
	fmt.Fprintf(out, "  elapsed: %s\n", time.Duration(result.DeployTimeMillis)*time.Millisecond)
	return nil
}

func newDeploysCmd(root *rootOptions) *cobra.Command {
	var (
		projectID string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "deploys",
		Short: "List recent deploys of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(projectID) == "" {
				return errors.New("--project-id is required")
			}
			cfg := root.cli()
			client, err := apiclient.New(cfg.APIURL)
			if err != nil {
				return err
			}
			deployments, err := client.ListDeployments(cmd.Context(), cfg.Token, projectID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(deployments) == 0 {
				fmt.Fprintln(out, "no deploys")
				return nil
			}
			for _, d := range deployments {
				fmt.Fprintf(out, "%s  %-10s  %4d files  %s  %s\n", d.StartedAt.Format(time.RFC3339), d.Status, d.FileCount, d.ID, d.OutputPath)
				if d.Error != "" {
					fmt.Fprintf(out, "    error: %s\n", d.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "", "project identifier")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of deploys to list")
	return cmd
}
