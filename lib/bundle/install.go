// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/bundle/lib/audit"
	"github.com/bureau-foundation/bundle/lib/deploy"
	"github.com/bureau-foundation/bundle/lib/version"
)

const manageRootDirDeprecation = "The deprecated 'manageRootDir' attribute was detected. " +
	"Please consider replacing it with the 'compliance' attribute."

// Install deploys the unit for run. With clean, the managed content
// of the destination is purged before the new files are written. With
// revert, the backups taken by the current deployment are restored
// after the unit's files are laid down.
//
// The declarations are validated before anything else happens. Files
// staged by this attempt are removed when it ends. Any failure is
// returned as a *DeployError.
func (u *DeploymentUnit) Install(ctx context.Context, run *Run, revert, clean bool) error {
	run.setDefaults()
	if err := u.Validate(); err != nil {
		return run.fail(run.newError(PhaseValidate, err))
	}
	deployDir, err := run.absDeployDir()
	if err != nil {
		return run.fail(run.newError(PhaseValidate, err))
	}
	run.DeployDir = deployDir

	logger := run.Logger.With(
		"bundle", run.BundleName,
		"version", run.BundleVersion,
		"deploy_dir", run.DeployDir,
		"run_id", run.RunID,
	)
	if u.manageRootDirUsed {
		logger.Warn(manageRootDirDeprecation)
	}

	if clean {
		run.event(audit.Info, "Clean Requested",
			"A clean deployment has been requested. Files will be deleted!",
			"A clean deployment has been requested. Files will be deleted from the destination directory"+
				" prior to the new deployment files getting written", "")
	}
	if revert {
		run.event(audit.Info, "Revert Requested",
			"The previous deployment will be reverted!",
			"The previous deployment will be reverted. An attempt to restore"+
				" backed up files and the old deployment content will be made", "")
	}

	err = u.install(ctx, run, logger, revert, clean)
	run.CleanupDownloads()
	if err != nil {
		return run.fail(err)
	}
	return nil
}

// Upgrade is Install: an upgrade is a deployment over whatever the
// destination currently holds.
func (u *DeploymentUnit) Upgrade(ctx context.Context, run *Run, revert, clean bool) error {
	return u.Install(ctx, run, revert, clean)
}

// Start starts the unit's system service, if it has one.
func (u *DeploymentUnit) Start(ctx context.Context) error {
	if u.SystemService == nil {
		return nil
	}
	return u.SystemService.Start(ctx)
}

// Stop stops the unit's system service, if it has one.
func (u *DeploymentUnit) Stop(ctx context.Context) error {
	if u.SystemService == nil {
		return nil
	}
	return u.SystemService.Stop(ctx)
}

// Uninstall removes the unit's system service, if it has one.
func (u *DeploymentUnit) Uninstall(ctx context.Context) error {
	if u.SystemService == nil {
		return nil
	}
	return u.SystemService.Uninstall(ctx)
}

func (u *DeploymentUnit) install(ctx context.Context, run *Run, logger *slog.Logger, revert, clean bool) error {
	compliance := deploy.ComplianceModeOrDefault(u.Compliance)

	if u.PreinstallTarget != "" {
		if err := run.runHook(ctx, preinstallHook, u.PreinstallTarget); err != nil {
			return run.newError(PhasePreinstall, err)
		}
	}

	logger.Debug("deploying files",
		"files", len(u.Files),
		"url_files", len(u.URLFiles),
		"archives", len(u.Archives),
		"url_archives", len(u.URLArchives),
	)
	logger.Debug("destination compliance set", "compliance", compliance.String())
	switch compliance {
	case deploy.Full:
		if !run.DryRun {
			run.event(audit.Info, "Managing Top Level Deployment Directory",
				"The top level deployment directory will be managed - files found there will be backed up and removed!",
				"The bundle recipe has requested that the top level deployment directory be fully managed."+
					" This means any files currently located in the top level deployment directory will be removed and backed up", "")
		}
	case deploy.FilesAndDirectories:
		logger.Debug("files and directories in the destination directory not contained in the bundle will be kept intact; " +
			"subdirectories that are also contained in the bundle are made compliant with the bundle")
	default:
		panic(fmt.Sprintf("unhandled destination compliance mode %v", compliance))
	}

	logTransition(run, logger)

	resolved, err := NewDownloader(run).Download(ctx, run, u.URLFiles, u.URLArchives)
	if err != nil {
		return run.newError(PhaseDownload, err)
	}

	deployer, err := u.newDeployer(run, resolved, logger)
	if err != nil {
		return run.deployerFailed(run.newError(PhaseAssemble, err))
	}

	if !run.DryRun {
		run.event(audit.Success, "Deployer Started", "The deployer has started its work", "", "")
	}
	if revert {
		_, err = deployer.RedeployAndRestoreBackupFiles(ctx, run.Differences, clean, run.DryRun)
	} else {
		_, err = deployer.Deploy(ctx, run.Differences, clean, run.DryRun)
	}
	if err != nil {
		return run.deployerFailed(run.newError(PhaseDeploy, err))
	}
	if !run.DryRun {
		run.event(audit.Success, "Deployer Finished", "The deployer has finished its work", "", run.Differences.String())
	}

	if u.SystemService != nil && !run.DryRun {
		if err := u.SystemService.Install(logger); err != nil {
			return run.newError(PhaseService, err)
		}
	}

	if u.PostinstallTarget != "" {
		if err := run.runHook(ctx, postinstallHook, u.PostinstallTarget); err != nil {
			return run.newError(PhasePostinstall, err)
		}
	}
	return nil
}

func (u *DeploymentUnit) newDeployer(run *Run, resolved Resolved, logger *slog.Logger) (*deploy.Deployer, error) {
	data, err := Assemble(u, resolved, run)
	if err != nil {
		return nil, err
	}
	return deploy.New(data,
		deploy.WithLogger(logger),
		deploy.WithClock(run.Clock),
		deploy.WithBackupOptions(run.Backups),
	)
}

// logTransition reports how the incoming version relates to what the
// destination currently holds.
func logTransition(run *Run, logger *slog.Logger) {
	current, err := deploy.NewMetadata(run.DeployDir).Current()
	switch {
	case errors.Is(err, deploy.ErrNoCurrentDeployment):
	case err != nil:
		logger.Debug("reading current deployment failed", "error", err)
		return
	}
	logger.Info("deploying bundle",
		"transition", string(version.Classify(current.BundleVersion, run.BundleVersion)),
		"current_version", current.BundleVersion,
		"deployment_id", run.DeploymentID,
		"dry_run", run.DryRun,
	)
}

func (r *Run) newError(phase Phase, cause error) *DeployError {
	return &DeployError{Bundle: r.BundleName, Version: r.BundleVersion, Phase: phase, Cause: cause}
}

// deployerFailed reports a failure of the deployer phase and returns
// it unchanged.
func (r *Run) deployerFailed(err *DeployError) error {
	r.event(audit.Failure, "Deployer Failed", "The deployer encountered an error and could not finish",
		allMessages(err), err.Detail())
	return err
}

// fail reports the attempt's failure and returns it as a
// *DeployError.
func (r *Run) fail(err error) error {
	var deployErr *DeployError
	if !errors.As(err, &deployErr) {
		deployErr = r.newError(PhaseDeploy, err)
	}
	r.event(audit.Failure, "Error Occurred", "The deployment could not complete successfully.",
		allMessages(deployErr), deployErr.Detail())
	return deployErr
}
