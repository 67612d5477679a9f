// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"

	"github.com/bureau-foundation/bundle/lib/codec"
	"github.com/bureau-foundation/bundle/lib/filehash"
)

const manifestName = ".manifest.cbor"

var (
	// ErrNotFound is returned when no backup exists for a path.
	ErrNotFound = errors.New("backup not found")

	// ErrNoIdentity is returned when restoring an encrypted backup
	// from a store that has no age identity.
	ErrNoIdentity = errors.New("backup is encrypted and no identity is configured")

	// ErrCorrupt is returned when restored content does not match
	// the digest recorded at save time.
	ErrCorrupt = errors.New("backup content does not match recorded digest")

	// ErrInvalidPath is returned for relative paths that are absolute
	// or escape the store root.
	ErrInvalidPath = errors.New("invalid backup path")
)

// Options controls how new backups are encoded. Restores read the
// encoding from the manifest; only Identity matters to them.
type Options struct {
	Compression Compression

	// Recipients enables encryption when non-empty.
	Recipients []age.Recipient

	// Identity decrypts encrypted backups on restore.
	Identity age.Identity
}

// Record is the manifest entry for one backed-up file.
type Record struct {
	Stored      string      `cbor:"stored"`
	Compression Compression `cbor:"compression"`
	Encrypted   bool        `cbor:"encrypted"`
	Digest      string      `cbor:"digest"`
	Size        int64       `cbor:"size"`
	Mode        uint32      `cbor:"mode"`
}

// Store is a directory of backed-up files. A Store is not safe for
// concurrent use.
type Store struct {
	root     string
	options  Options
	manifest map[string]Record
}

// New returns a store rooted at root. The directory is created on the
// first Save.
func New(root string, options Options) *Store {
	return &Store{root: root, options: options}
}

// Root returns the store's directory.
func (s *Store) Root() string {
	return s.root
}

func cleanRelative(relative string) (string, error) {
	slashed := filepath.ToSlash(relative)
	if strings.HasPrefix(slashed, "/") {
		return "", fmt.Errorf("%q: %w", relative, ErrInvalidPath)
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == manifestName {
		return "", fmt.Errorf("%q: %w", relative, ErrInvalidPath)
	}
	return cleaned, nil
}

func (s *Store) load() error {
	if s.manifest != nil {
		return nil
	}
	manifest := make(map[string]Record)
	err := codec.ReadFile(filepath.Join(s.root, manifestName), &manifest)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading backup manifest in %s: %w", s.root, err)
	}
	if manifest == nil {
		manifest = make(map[string]Record)
	}
	s.manifest = manifest
	return nil
}

func (s *Store) persist() error {
	if err := codec.WriteFile(filepath.Join(s.root, manifestName), s.manifest); err != nil {
		return fmt.Errorf("saving backup manifest in %s: %w", s.root, err)
	}
	return nil
}

// Save copies the file at source into the store under relative,
// replacing any earlier backup of the same path.
func (s *Store) Save(relative, source string) (Record, error) {
	relative, err := cleanRelative(relative)
	if err != nil {
		return Record{}, err
	}
	if err := s.load(); err != nil {
		return Record{}, err
	}

	info, err := os.Stat(source)
	if err != nil {
		return Record{}, fmt.Errorf("backing up %s: %w", source, err)
	}
	digest, err := filehash.File(source)
	if err != nil {
		return Record{}, fmt.Errorf("backing up %s: %w", source, err)
	}

	record := Record{
		Stored:      relative + s.options.Compression.suffix(),
		Compression: s.options.Compression,
		Encrypted:   len(s.options.Recipients) > 0,
		Digest:      digest,
		Size:        info.Size(),
		Mode:        uint32(info.Mode().Perm()),
	}
	if record.Encrypted {
		record.Stored += ".age"
	}

	if previous, exists := s.manifest[relative]; exists && previous.Stored != record.Stored {
		os.Remove(filepath.Join(s.root, filepath.FromSlash(previous.Stored)))
	}

	if err := s.writeEncoded(source, record); err != nil {
		return Record{}, fmt.Errorf("backing up %s: %w", source, err)
	}

	s.manifest[relative] = record
	if err := s.persist(); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (s *Store) writeEncoded(source string, record Record) error {
	input, err := os.Open(source)
	if err != nil {
		return err
	}
	defer input.Close()

	storedPath := filepath.Join(s.root, filepath.FromSlash(record.Stored))
	if err := os.MkdirAll(filepath.Dir(storedPath), 0o755); err != nil {
		return err
	}
	output, err := os.OpenFile(storedPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	// Layering: file <- age <- compressor <- plaintext.
	var sink io.Writer = output
	var encryptor io.WriteCloser
	if record.Encrypted {
		encryptor, err = age.Encrypt(output, s.options.Recipients...)
		if err != nil {
			output.Close()
			return fmt.Errorf("creating age encryptor: %w", err)
		}
		sink = encryptor
	}
	compressor, err := compressWriter(sink, record.Compression)
	if err != nil {
		output.Close()
		return err
	}

	if _, err := io.Copy(compressor, input); err != nil {
		output.Close()
		return err
	}
	if err := compressor.Close(); err != nil {
		output.Close()
		return err
	}
	if encryptor != nil {
		if err := encryptor.Close(); err != nil {
			output.Close()
			return fmt.Errorf("finalizing age encryption: %w", err)
		}
	}
	return output.Close()
}

// Lookup returns the manifest record for relative.
func (s *Store) Lookup(relative string) (Record, bool, error) {
	relative, err := cleanRelative(relative)
	if err != nil {
		return Record{}, false, err
	}
	if err := s.load(); err != nil {
		return Record{}, false, err
	}
	record, exists := s.manifest[relative]
	return record, exists, nil
}

// Open returns the decoded content of the backup of relative.
func (s *Store) Open(relative string) (io.ReadCloser, error) {
	record, exists, err := s.Lookup(relative)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", relative, ErrNotFound)
	}

	file, err := os.Open(filepath.Join(s.root, filepath.FromSlash(record.Stored)))
	if err != nil {
		return nil, fmt.Errorf("opening backup of %s: %w", relative, err)
	}

	var source io.Reader = file
	if record.Encrypted {
		if s.options.Identity == nil {
			file.Close()
			return nil, fmt.Errorf("%s: %w", relative, ErrNoIdentity)
		}
		decrypted, err := age.Decrypt(file, s.options.Identity)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("decrypting backup of %s: %w", relative, err)
		}
		source = decrypted
	}
	decompressed, err := decompressReader(source, record.Compression)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &layeredReader{Reader: decompressed, closers: []io.Closer{decompressed, file}}, nil
}

type layeredReader struct {
	io.Reader
	closers []io.Closer
}

func (r *layeredReader) Close() error {
	var errs []error
	for _, closer := range r.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restore writes the backup of relative to destination, creating
// parent directories and restoring the original permission bits. The
// content is verified against the recorded digest before it replaces
// destination.
func (s *Store) Restore(relative, destination string) error {
	record, _, err := s.Lookup(relative)
	if err != nil {
		return err
	}
	content, err := s.Open(relative)
	if err != nil {
		return err
	}
	defer content.Close()

	directory := filepath.Dir(destination)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	temporary, err := os.CreateTemp(directory, "."+filepath.Base(destination)+".restore-*")
	if err != nil {
		return fmt.Errorf("restoring %s: %w", relative, err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	digest, err := filehash.Reader(io.TeeReader(content, temporary))
	if err != nil {
		temporary.Close()
		return fmt.Errorf("restoring %s: %w", relative, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("restoring %s: %w", relative, err)
	}
	if digest != record.Digest {
		return fmt.Errorf("%s: %w", relative, ErrCorrupt)
	}
	mode := fs.FileMode(record.Mode)
	if mode == 0 {
		mode = 0o644
	}
	if err := os.Chmod(temporaryPath, mode); err != nil {
		return fmt.Errorf("restoring %s: %w", relative, err)
	}
	if err := os.Rename(temporaryPath, destination); err != nil {
		return fmt.Errorf("restoring %s: %w", relative, err)
	}
	return nil
}

// List returns the relative paths of every backup in sorted order.
func (s *Store) List() ([]string, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(s.manifest))
	for relative := range s.manifest {
		paths = append(paths, relative)
	}
	sort.Strings(paths)
	return paths, nil
}
