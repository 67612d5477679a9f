// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// SystemService is an init script deployed with the bundle, with an
// optional configuration file realized as a template.
type SystemService struct {
	// Name is the service name and the installed script's file name.
	Name string `yaml:"name" json:"name"`

	// ScriptFile is the init script in the bundle.
	ScriptFile string `yaml:"script_file" json:"script_file"`

	// ConfigFile is the service configuration in the bundle.
	ConfigFile string `yaml:"config_file,omitempty" json:"config_file,omitempty"`

	// RootDir prefixes the install locations. Empty means "/".
	RootDir string `yaml:"root_dir,omitempty" json:"root_dir,omitempty"`

	// StartLevels lists the run levels the service starts in. Empty
	// means "3,4,5".
	StartLevels string `yaml:"start_levels,omitempty" json:"start_levels,omitempty"`
}

const defaultStartLevels = "3,4,5"

// Validate checks the declaration.
func (s *SystemService) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("system service name is required"))
	} else if strings.ContainsRune(s.Name, filepath.Separator) {
		errs = append(errs, fmt.Errorf("system service name %q must not contain %q", s.Name, filepath.Separator))
	}
	if s.ScriptFile == "" {
		errs = append(errs, errors.New("system service script file is required"))
	}
	if s.RootDir != "" && !filepath.IsAbs(s.RootDir) {
		errs = append(errs, fmt.Errorf("system service root dir %q must be absolute", s.RootDir))
	}
	for _, level := range strings.Split(s.Levels(), ",") {
		if len(level) != 1 || level[0] < '0' || level[0] > '6' {
			errs = append(errs, fmt.Errorf("system service start level %q must be a digit 0-6", level))
		}
	}
	return errors.Join(errs...)
}

// Levels returns the start levels after defaulting.
func (s *SystemService) Levels() string {
	if s.StartLevels == "" {
		return defaultStartLevels
	}
	return s.StartLevels
}

func (s *SystemService) root() string {
	if s.RootDir == "" {
		return "/"
	}
	return s.RootDir
}

// ScriptDestination is where the init script is installed.
func (s *SystemService) ScriptDestination() string {
	return filepath.Join(s.root(), "etc", "init.d", s.Name)
}

// ConfigDestination is where the configuration file is installed.
func (s *SystemService) ConfigDestination() string {
	return filepath.Join(s.root(), "etc", "sysconfig", s.Name)
}

// Install makes the deployed script executable. The deployer has
// already written it.
func (s *SystemService) Install(logger *slog.Logger) error {
	script := s.ScriptDestination()
	info, err := os.Stat(script)
	if err != nil {
		return fmt.Errorf("system service %s: %w", s.Name, err)
	}
	if err := os.Chmod(script, info.Mode().Perm()|0o755); err != nil {
		return fmt.Errorf("system service %s: making script executable: %w", s.Name, err)
	}
	logger.Info("system service installed", "service", s.Name, "script", script, "start_levels", s.Levels())
	return nil
}

// Start runs the script with "start".
func (s *SystemService) Start(ctx context.Context) error {
	return s.invoke(ctx, "start")
}

// Stop runs the script with "stop".
func (s *SystemService) Stop(ctx context.Context) error {
	return s.invoke(ctx, "stop")
}

// Uninstall stops the service and removes its script and
// configuration file.
func (s *SystemService) Uninstall(ctx context.Context) error {
	if _, err := os.Stat(s.ScriptDestination()); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := s.Stop(ctx); err != nil {
		return err
	}
	var errs []error
	for _, installed := range []string{s.ScriptDestination(), s.ConfigDestination()} {
		if err := os.Remove(installed); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SystemService) invoke(ctx context.Context, action string) error {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, s.ScriptDestination(), action)
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("system service %s %s: %w (stderr: %s)",
			s.Name, action, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
