// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
)

// Keypair is an age X25519 keypair for backup encryption. PublicKey
// goes into backup.recipients in the configuration; PrivateKey goes
// into the identity file used for restores.
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

// GenerateKeypair creates a new age X25519 keypair.
func GenerateKeypair() (Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return Keypair{}, fmt.Errorf("generating age keypair: %w", err)
	}
	return Keypair{
		PrivateKey: identity.String(),
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// ParseRecipients parses age public keys (age1... format).
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// ParseIdentity parses an age private key (AGE-SECRET-KEY-1...).
func ParseIdentity(privateKey string) (age.Identity, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(privateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid age private key: %w", err)
	}
	return identity, nil
}

// LoadIdentityFile reads an age identity file as written by age-keygen
// (comment lines starting with # are ignored; the first key is used).
func LoadIdentityFile(path string) (age.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return ParseIdentity(line)
	}
	return nil, fmt.Errorf("identity file %s contains no key", path)
}
