// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"

	"github.com/bureau-foundation/bundle/cmd/bundle/cli"
	"github.com/bureau-foundation/bundle/lib/bundle"
	"github.com/bureau-foundation/bundle/lib/deploy"
)

type deployParams struct {
	cli.JSONOutput
	cli.LoggingParams
	Config         string            `json:"config"          flag:"config"          desc:"configuration file (default: $BUNDLE_CONFIG, else built-in defaults)"`
	DeployDir      string            `json:"deploy_dir"      flag:"deploy-dir,d"    desc:"directory to deploy into (required)" env:"BUNDLE_DEPLOY_DIR"`
	DeploymentID   int               `json:"deployment_id"   flag:"deployment-id"   desc:"deployment id (default: one past the newest recorded deployment)"`
	Clean          bool              `json:"clean"           flag:"clean"           desc:"remove managed content before deploying"`
	PropertiesFile string            `json:"properties_file" flag:"properties-file" desc:"key=value file of configuration properties"`
	Properties     map[string]string `json:"properties"      flag:"property,p"      desc:"configuration property as key=value (repeatable)"`
	UserProperties map[string]string `json:"user_properties" flag:"user-property,u" desc:"user property as key=value, exposed to templates as rhq.tag.<key> (repeatable)"`
	StagingDir     string            `json:"staging_dir"     flag:"staging-dir"     desc:"download staging directory (default: paths.staging, else the recipe directory)"`
}

// configuration merges the properties file with --property values;
// flags win.
func (p *deployParams) configuration() (map[string]string, error) {
	configuration := make(map[string]string)
	if p.PropertiesFile != "" {
		loaded, err := bundle.LoadProperties(p.PropertiesFile)
		if err != nil {
			return nil, err
		}
		maps.Copy(configuration, loaded)
	}
	maps.Copy(configuration, p.Properties)
	return configuration, nil
}

type runMode int

const (
	modeDeploy runMode = iota
	modePreview
	modeRevert
)

func (m runMode) String() string {
	switch m {
	case modePreview:
		return "preview"
	case modeRevert:
		return "revert"
	default:
		return "deploy"
	}
}

func deployCommand(stdout io.Writer) *cli.Command {
	var params deployParams

	return &cli.Command{
		Name:    "deploy",
		Summary: "Deploy a bundle recipe into a directory",
		Description: `Deploy the bundle described by a recipe into --deploy-dir.

Files and archives are laid down according to the unit's compliance
mode. Anything the deployment overwrites or removes that was not put
there by an earlier deployment is backed up first. Templated files
have their @@name@@ and ${name} tokens replaced from configuration
properties, user properties, and facts about this host.`,
		Usage: "bundle deploy <recipe> --deploy-dir <dir> [flags]",
		Examples: []cli.Example{
			{
				Description: "Deploy a recipe",
				Command:     "bundle deploy ./myapp/bundle.yaml -d /opt/myapp",
			},
			{
				Description: "Override a configuration property and wipe the destination first",
				Command:     "bundle deploy ./myapp/bundle.yaml -d /opt/myapp -p listen.port=8080 --clean",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return runDeployment(ctx, stdout, logger, &params, args, modeDeploy)
		},
	}
}

func previewCommand(stdout io.Writer) *cli.Command {
	var params deployParams

	return &cli.Command{
		Name:    "preview",
		Summary: "Show what a deployment would change without changing anything",
		Description: `Run a deployment as a dry run. The report lists what would be added,
changed, deleted, and backed up. Pre- and post-install targets are
not executed and the destination is not touched.`,
		Usage: "bundle preview <recipe> --deploy-dir <dir> [flags]",
		Examples: []cli.Example{
			{
				Description: "Preview a deployment as JSON",
				Command:     "bundle preview ./myapp/bundle.yaml -d /opt/myapp --json",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return runDeployment(ctx, stdout, logger, &params, args, modePreview)
		},
	}
}

func revertCommand(stdout io.Writer) *cli.Command {
	var params deployParams

	return &cli.Command{
		Name:    "revert",
		Summary: "Redeploy a bundle and restore backed-up files",
		Description: `Redeploy the bundle described by a recipe, then restore files that
the current deployment backed up. Files edited by hand since the last
deployment get their edited contents back; everything else matches
the recipe.`,
		Usage: "bundle revert <recipe> --deploy-dir <dir> [flags]",
		Examples: []cli.Example{
			{
				Description: "Revert to the previous bundle version",
				Command:     "bundle revert ./myapp-1.0/bundle.yaml -d /opt/myapp",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return runDeployment(ctx, stdout, logger, &params, args, modeRevert)
		},
	}
}

func runDeployment(ctx context.Context, stdout io.Writer, logger *slog.Logger, params *deployParams, args []string, mode runMode) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one recipe path, got %d arguments", len(args))
	}
	if params.DeployDir == "" {
		return errors.New("--deploy-dir is required")
	}

	cfg, err := loadConfig(params.Config)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	logger = configuredLogger(logger, cfg, params.Verbose, mode.String())

	deployDir, err := filepath.Abs(params.DeployDir)
	if err != nil {
		return fmt.Errorf("resolving deploy dir: %w", err)
	}

	recipe, err := bundle.LoadRecipe(args[0])
	if err != nil {
		return err
	}
	unit, err := recipe.Unit()
	if err != nil {
		return err
	}
	configuration, err := params.configuration()
	if err != nil {
		return err
	}

	deploymentID := params.DeploymentID
	if deploymentID == 0 {
		deploymentID, err = nextDeploymentID(deploy.NewMetadata(deployDir))
		if err != nil {
			return err
		}
	}

	run := recipe.NewRun(deployDir, deploymentID, configuration)
	run.UserProperties = params.UserProperties
	run.DryRun = mode == modePreview
	run.StagingDir = cmp.Or(params.StagingDir, cfg.Paths.Staging)
	run.Shell = cfg.Targets.Shell
	run.Logger = logger
	run.DownloadTimeout, err = cfg.DownloadTimeout()
	if err != nil {
		return err
	}
	run.Backups, err = backupOptions(cfg)
	if err != nil {
		return err
	}
	sink, closeSink, err := auditSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()
	run.Audit = sink

	installErr := unit.Install(ctx, run, mode == modeRevert, params.Clean)
	var deployErr *bundle.DeployError
	if errors.As(installErr, &deployErr) {
		logger.Debug("deployment failure detail", "detail", deployErr.Detail())
	}

	report := newDeploymentReport(run, mode, installErr)
	if done, err := params.EmitJSON(stdout, report); done {
		if err != nil {
			return err
		}
		if installErr != nil {
			return &cli.ExitError{Code: 1}
		}
		return nil
	}
	if installErr != nil {
		return installErr
	}
	return writeDeploymentReport(stdout, report)
}

// nextDeploymentID returns one past the highest recorded deployment
// id, or 1 for an unmanaged destination.
func nextDeploymentID(metadata *deploy.Metadata) (int, error) {
	deployments, err := metadata.Deployments()
	if err != nil {
		return 0, err
	}
	next := 1
	for _, deployment := range deployments {
		if deployment.DeploymentID >= next {
			next = deployment.DeploymentID + 1
		}
	}
	return next, nil
}

// deploymentReport is the result of deploy, preview, and revert.
type deploymentReport struct {
	Bundle       string         `json:"bundle"`
	Version      string         `json:"version"`
	DeploymentID int            `json:"deployment_id"`
	DeployDir    string         `json:"deploy_dir"`
	Mode         string         `json:"mode"`
	DryRun       bool           `json:"dry_run"`
	Changes      deploy.Summary `json:"changes"`
	Error        string         `json:"error,omitempty"`
}

func newDeploymentReport(run *bundle.Run, mode runMode, err error) deploymentReport {
	report := deploymentReport{
		Bundle:       run.BundleName,
		Version:      run.BundleVersion,
		DeploymentID: run.DeploymentID,
		DeployDir:    run.DeployDir,
		Mode:         mode.String(),
		DryRun:       run.DryRun,
	}
	if run.Differences != nil {
		report.Changes = run.Differences.Summary()
	}
	if err != nil {
		report.Error = err.Error()
	}
	return report
}
