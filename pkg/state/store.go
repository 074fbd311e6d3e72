// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package state persists the agent's cross-invocation memory: registration
// status, machine identity, fallback config cache and the last successful
// upload time. All writes go through a temp-file-then-rename discipline so a
// concurrent reader never observes a torn file.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
)

// Status is the locally persisted registration state.
type Status int

const (
	// Unregistered is the zero value; a missing status file reads as this.
	Unregistered Status = iota
	Registered
	PendingUnregistration
)

func (s Status) String() string {
	switch s {
	case Registered:
		return "registered"
	case PendingUnregistration:
		return "pending-unregistration"
	default:
		return "unregistered"
	}
}

func parseStatus(raw string) (Status, error) {
	switch strings.TrimSpace(raw) {
	case "registered":
		return Registered, nil
	case "pending-unregistration":
		return PendingUnregistration, nil
	case "unregistered":
		return Unregistered, nil
	}
	return Unregistered, fmt.Errorf("unknown status %q", strings.TrimSpace(raw))
}

// CorruptionError reports an unreadable or unparsable state file. The caller
// recovers by treating the file as absent, which silently resets history, so
// the condition is logged loudly where it is detected.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt state file %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

const (
	machineIDFile  = "machine-id"
	statusFile     = "status"
	lastUploadFile = ".lastupload"
	fallbackFile   = ".fallback.yaml"
	fallbackSig    = ".fallback.yaml.asc"
	lockFile       = "agent.lock"
)

// Store owns the state directory. Open it at process start and keep it for
// the lifetime of the invocation.
type Store struct {
	dir string
}

// Option customizes Open.
type Option func(*openOptions)

type openOptions struct {
	legacyDir string
}

// WithLegacyDir points Open at the previous product's config directory; a
// machine identity found there is migrated once into the state directory.
func WithLegacyDir(dir string) Option {
	return func(o *openOptions) { o.legacyDir = dir }
}

// Open prepares the state directory and runs the one-time legacy identity
// migration. It is idempotent.
func Open(dir string, opts ...Option) (*Store, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	s := &Store{dir: dir}

	if o.legacyDir != "" {
		if err := s.migrateLegacyIdentity(o.legacyDir); err != nil {
			// A failed migration must not block the run; a fresh identity
			// will be generated on first use.
			log.Warnf("Could not migrate legacy machine identity: %v", err)
		}
	}
	return s, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// migrateLegacyIdentity moves a machine-id left behind by the previous
// product into the current state dir, keeping the identity stable across the
// reinstall. No-op when the current identity already exists.
func (s *Store) migrateLegacyIdentity(legacyDir string) error {
	if _, err := os.Stat(s.path(machineIDFile)); err == nil {
		return nil
	}
	legacy := filepath.Join(legacyDir, machineIDFile)
	data, err := os.ReadFile(legacy)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return nil
	}
	if err := s.atomicWrite(machineIDFile, []byte(id), 0o644); err != nil {
		return err
	}
	log.Infof("Migrated machine identity from %s", legacy)
	return nil
}

// MachineID returns the stable per-host identity, generating and persisting
// one on first use. An existing identity is never regenerated.
func (s *Store) MachineID() (string, error) {
	data, err := os.ReadFile(s.path(machineIDFile))
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
		log.Error(&CorruptionError{Path: s.path(machineIDFile), Err: fmt.Errorf("empty file")})
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id := uuid.New().String()
	log.Debugf("Generating machine identity %s", id)
	if err := s.atomicWrite(machineIDFile, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("persisting machine identity: %w", err)
	}
	return id, nil
}

// ReadStatus returns the persisted registration status. A missing file reads
// as Unregistered; a corrupt file is logged loudly and also reads as
// Unregistered.
func (s *Store) ReadStatus() Status {
	data, err := os.ReadFile(s.path(statusFile))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error(&CorruptionError{Path: s.path(statusFile), Err: err})
		}
		return Unregistered
	}
	status, err := parseStatus(string(data))
	if err != nil {
		log.Error(&CorruptionError{Path: s.path(statusFile), Err: err})
		return Unregistered
	}
	return status
}

// WriteStatus persists the registration status atomically.
func (s *Store) WriteStatus(status Status) error {
	return s.atomicWrite(statusFile, []byte(status.String()+"\n"), 0o644)
}

// ReadLastUpload returns the time of the last successful upload, with ok
// false when no upload has ever succeeded.
func (s *Store) ReadLastUpload() (t time.Time, ok bool) {
	data, err := os.ReadFile(s.path(lastUploadFile))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error(&CorruptionError{Path: s.path(lastUploadFile), Err: err})
		}
		return time.Time{}, false
	}
	t, err = time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		log.Error(&CorruptionError{Path: s.path(lastUploadFile), Err: err})
		return time.Time{}, false
	}
	return t, true
}

// WriteLastUpload records the time of a successful upload.
func (s *Store) WriteLastUpload(t time.Time) error {
	return s.atomicWrite(lastUploadFile, []byte(t.Format(time.RFC3339)+"\n"), 0o644)
}

// FallbackPaths returns the cached fallback config blob and signature paths.
func (s *Store) FallbackPaths() (blob, sig string) {
	return s.path(fallbackFile), s.path(fallbackSig)
}

// WriteFallback caches a freshly fetched fallback config with its detached
// signature. The signature lands first so a crash between the two writes
// leaves a blob that fails verification rather than one that skips it.
func (s *Store) WriteFallback(blob, sig []byte) error {
	if err := s.atomicWrite(fallbackSig, sig, 0o600); err != nil {
		return err
	}
	return s.atomicWrite(fallbackFile, blob, 0o600)
}

// ClearCaches removes the status, last-upload and fallback cache files. The
// machine identity is deliberately preserved.
func (s *Store) ClearCaches() error {
	for _, name := range []string{statusFile, lastUploadFile, fallbackFile, fallbackSig} {
		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clearing %s: %w", name, err)
		}
	}
	return nil
}

// atomicWrite writes data to a temp file in the state dir and renames it into
// place, so readers see either the old or the new content, never a torn file.
func (s *Store) atomicWrite(name string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp.*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(name))
}
