// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownComplianceMode is returned when a compliance mode name is
// not one of the known values.
var ErrUnknownComplianceMode = errors.New("unknown destination compliance mode")

// ComplianceMode governs how strictly the destination directory must
// match the deployment content. The zero value means unspecified;
// [ComplianceModeOrDefault] resolves it.
type ComplianceMode uint8

const (
	// Full mode owns the destination outright. Anything not in the
	// deployment is backed up and removed.
	Full ComplianceMode = 1

	// FilesAndDirectories mode manages only the top-level directories
	// and files that are part of the deployment. Within a managed
	// directory the content mirrors the deployment exactly.
	FilesAndDirectories ComplianceMode = 2
)

// DefaultComplianceMode is used when a deployment unit does not name
// one.
const DefaultComplianceMode = FilesAndDirectories

func (m ComplianceMode) String() string {
	switch m {
	case Full:
		return "full"
	case FilesAndDirectories:
		return "filesAndDirectories"
	case 0:
		return "unspecified"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// MarshalText encodes the mode by name.
func (m ComplianceMode) MarshalText() ([]byte, error) {
	if m != Full && m != FilesAndDirectories {
		return nil, fmt.Errorf("%w: %d", ErrUnknownComplianceMode, uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name as accepted by [ParseComplianceMode].
func (m *ComplianceMode) UnmarshalText(text []byte) error {
	parsed, err := ParseComplianceMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseComplianceMode parses "full" or "filesAndDirectories". Matching
// is case-insensitive.
func ParseComplianceMode(name string) (ComplianceMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "full":
		return Full, nil
	case "filesanddirectories":
		return FilesAndDirectories, nil
	default:
		return 0, fmt.Errorf("%w: %q (want full or filesAndDirectories)", ErrUnknownComplianceMode, name)
	}
}

// ComplianceModeOrDefault returns m, or [DefaultComplianceMode] if m is
// unspecified.
func ComplianceModeOrDefault(m ComplianceMode) ComplianceMode {
	if m == 0 {
		return DefaultComplianceMode
	}
	return m
}
