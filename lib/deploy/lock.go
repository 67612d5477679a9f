// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrDestinationLocked is returned when another deployment holds the
// destination lock.
var ErrDestinationLocked = errors.New("destination is locked by another deployment")

// destinationLock is an exclusive advisory flock on the metadata
// directory's lock file. It is released when the process exits even
// if Release is never called.
type destinationLock struct {
	file *os.File
}

func lockDestination(metadataDir string) (*destinationLock, error) {
	if err := os.MkdirAll(metadataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", metadataDir, err)
	}
	path := filepath.Join(metadataDir, lockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", filepath.Dir(metadataDir), ErrDestinationLocked)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &destinationLock{file: file}, nil
}

func (l *destinationLock) Release() error {
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	return errors.Join(unlockErr, closeErr)
}
