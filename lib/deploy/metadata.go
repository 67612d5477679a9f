// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/bureau-foundation/bundle/lib/backup"
	"github.com/bureau-foundation/bundle/lib/codec"
	"github.com/bureau-foundation/bundle/lib/filehash"
)

// MetadataDirName is the directory inside every managed destination
// that holds deployment metadata. It is never scanned, backed up, or
// removed by a deployment.
const MetadataDirName = ".bundle-deployments"

const (
	lockFileName        = "lock"
	currentFileName     = "current.cbor"
	previousFileName    = "previous.cbor"
	propertiesFileName  = "deployment.cbor"
	hashesFileName      = "file-hashes.cbor"
	differencesFileName = "differences.cbor"
	backupDirName       = "backup"
	extBackupDirName    = "ext-backup"
)

// ErrNoCurrentDeployment is returned when an operation needs a prior
// deployment and the destination has none.
var ErrNoCurrentDeployment = errors.New("destination has no current deployment")

// ErrDeploymentRecorded is returned when a deployment reuses the id of
// one already recorded at the destination.
var ErrDeploymentRecorded = errors.New("deployment id is already recorded")

// Metadata reads and writes the deployment records of one destination.
//
// Layout:
//
//	<destination>/.bundle-deployments/
//	    lock
//	    current.cbor            properties of the live deployment
//	    previous.cbor           properties of the one before it
//	    <id>/deployment.cbor
//	    <id>/file-hashes.cbor   digests of what <id> laid down
//	    <id>/differences.cbor   what <id> changed
//	    <id>/backup/            files backed up while deploying <id>
//	    <id>/ext-backup/        same, for files outside the destination
type Metadata struct {
	destination string
}

// NewMetadata returns the metadata accessor for destination.
func NewMetadata(destination string) *Metadata {
	return &Metadata{destination: destination}
}

// Dir returns the metadata directory.
func (m *Metadata) Dir() string {
	return filepath.Join(m.destination, MetadataDirName)
}

// DeploymentDir returns the per-deployment directory for id.
func (m *Metadata) DeploymentDir(id int) string {
	return filepath.Join(m.Dir(), strconv.Itoa(id))
}

// BackupDir returns the backup directory for files inside the
// destination overwritten or removed while deploying id.
func (m *Metadata) BackupDir(id int) string {
	return filepath.Join(m.DeploymentDir(id), backupDirName)
}

// ExtBackupDir is BackupDir for files outside the destination.
func (m *Metadata) ExtBackupDir(id int) string {
	return filepath.Join(m.DeploymentDir(id), extBackupDirName)
}

// BackupStores opens the two backup stores of deployment id.
func (m *Metadata) BackupStores(id int, options backup.Options) (inside, external *backup.Store) {
	return backup.New(m.BackupDir(id), options), backup.New(m.ExtBackupDir(id), options)
}

// IsManaged reports whether the destination has ever been deployed to.
func (m *Metadata) IsManaged() bool {
	_, err := os.Stat(filepath.Join(m.Dir(), currentFileName))
	return err == nil
}

// Current returns the properties of the live deployment, or
// [ErrNoCurrentDeployment].
func (m *Metadata) Current() (DeploymentProperties, error) {
	return m.readProperties(filepath.Join(m.Dir(), currentFileName))
}

// Previous returns the properties of the deployment that preceded the
// current one, or [ErrNoCurrentDeployment] if there is none.
func (m *Metadata) Previous() (DeploymentProperties, error) {
	return m.readProperties(filepath.Join(m.Dir(), previousFileName))
}

// IsRecorded reports whether deployment id has been recorded.
func (m *Metadata) IsRecorded(id int) (bool, error) {
	_, err := os.Stat(filepath.Join(m.DeploymentDir(id), propertiesFileName))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("reading deployment metadata: %w", err)
	}
}

// Properties returns the recorded properties of deployment id.
func (m *Metadata) Properties(id int) (DeploymentProperties, error) {
	return m.readProperties(filepath.Join(m.DeploymentDir(id), propertiesFileName))
}

func (m *Metadata) readProperties(path string) (DeploymentProperties, error) {
	var properties DeploymentProperties
	if err := codec.ReadFile(path, &properties); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DeploymentProperties{}, fmt.Errorf("%s: %w", m.destination, ErrNoCurrentDeployment)
		}
		return DeploymentProperties{}, fmt.Errorf("reading deployment metadata: %w", err)
	}
	return properties, nil
}

// Hashes returns the digests recorded for deployment id. A deployment
// with no recorded digests yields an empty map.
func (m *Metadata) Hashes(id int) (filehash.Map, error) {
	return filehash.Load(filepath.Join(m.DeploymentDir(id), hashesFileName))
}

// Differences returns the change summary recorded for deployment id.
func (m *Metadata) Differences(id int) (Summary, error) {
	var summary Summary
	if err := codec.ReadFile(filepath.Join(m.DeploymentDir(id), differencesFileName), &summary); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Summary{}, nil
		}
		return Summary{}, fmt.Errorf("reading differences of deployment %d: %w", id, err)
	}
	return summary, nil
}

// Deployments returns the properties of every recorded deployment,
// ordered by id.
func (m *Metadata) Deployments() ([]DeploymentProperties, error) {
	entries, err := os.ReadDir(m.Dir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing deployments: %w", err)
	}

	var ids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	deployments := make([]DeploymentProperties, 0, len(ids))
	for _, id := range ids {
		properties, err := m.Properties(id)
		if err != nil {
			if errors.Is(err, ErrNoCurrentDeployment) {
				continue
			}
			return nil, err
		}
		deployments = append(deployments, properties)
	}
	return deployments, nil
}

// Record persists a completed deployment and makes it current. The
// deployment that was current becomes previous, unless it has the same
// id (a redeploy of the same deployment).
func (m *Metadata) Record(properties DeploymentProperties, hashes filehash.Map, differences *Differences) error {
	directory := m.DeploymentDir(properties.DeploymentID)
	if err := codec.WriteFile(filepath.Join(directory, propertiesFileName), properties); err != nil {
		return fmt.Errorf("recording deployment: %w", err)
	}
	if err := hashes.Save(filepath.Join(directory, hashesFileName)); err != nil {
		return fmt.Errorf("recording deployment: %w", err)
	}
	if differences != nil {
		if err := codec.WriteFile(filepath.Join(directory, differencesFileName), differences.Summary()); err != nil {
			return fmt.Errorf("recording deployment: %w", err)
		}
	}

	current, err := m.Current()
	switch {
	case err == nil:
		if current.DeploymentID != properties.DeploymentID {
			if err := codec.WriteFile(filepath.Join(m.Dir(), previousFileName), current); err != nil {
				return fmt.Errorf("recording previous deployment: %w", err)
			}
		}
	case !errors.Is(err, ErrNoCurrentDeployment):
		return err
	}

	if err := codec.WriteFile(filepath.Join(m.Dir(), currentFileName), properties); err != nil {
		return fmt.Errorf("recording current deployment: %w", err)
	}
	return nil
}
