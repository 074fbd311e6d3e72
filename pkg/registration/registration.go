// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package registration drives the host registration lifecycle against the
// intake service and keeps the local status record in sync with it.
package registration

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hostinsight/hostinsight-agent/pkg/api"
	"github.com/hostinsight/hostinsight-agent/pkg/state"
	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
)

// ErrNotRegistered is returned by operations that require an enrolled host.
// The check is purely local so unregistered hosts fail fast without any
// network traffic.
var ErrNotRegistered = errors.New("this host is not registered, run 'hostinsight-agent register' first")

// RegistrationError reports that the intake rejected an enrollment attempt.
// The local identity is left untouched so a later attempt reuses it.
type RegistrationError struct {
	MachineID string
	Err       error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration of %s failed: %v", e.MachineID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// DriftError reports a disagreement between the local status record and the
// intake's view of the host. It is diagnostic only, nothing mutates state.
type DriftError struct {
	Local  state.Status
	Remote string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("local status %q disagrees with intake (%s)", e.Local, e.Remote)
}

// Intake is the subset of the API client the registrar needs.
type Intake interface {
	BranchInfo(ctx context.Context) api.BranchInfo
	RegisterHost(ctx context.Context, reg api.HostRegistration) (*api.HostRecord, error)
	UnregisterHost(ctx context.Context, machineID string) error
	HostStatus(ctx context.Context, machineID string) (*api.HostRecord, error)
}

// Options carries the optional enrollment attributes.
type Options struct {
	DisplayName string
	Group       string
}

// Registrar transitions the host between the unregistered, registered and
// pending-unregistration states.
type Registrar struct {
	store  *state.Store
	intake Intake
}

// New returns a Registrar over the given state store and intake client.
func New(store *state.Store, intake Intake) *Registrar {
	return &Registrar{store: store, intake: intake}
}

// Register enrolls the host. Calling it on an already registered host is a
// no-op. The stable machine id is generated on first use and survives every
// later transition, including failed attempts.
func (r *Registrar) Register(ctx context.Context, opts Options) (*api.HostRecord, error) {
	switch status := r.store.ReadStatus(); status {
	case state.Registered:
		log.Info("this host is already registered")
		return nil, nil
	case state.PendingUnregistration:
		return nil, errors.New("an unregistration is pending, run 'hostinsight-agent unregister' to complete it first")
	}

	machineID, err := r.store.MachineID()
	if err != nil {
		return nil, err
	}

	// The intake may already know this host from a previous life of the
	// local state directory. Adopt its record instead of re-enrolling.
	if rec, err := r.intake.HostStatus(ctx, machineID); err == nil && !rec.Unregistered() {
		log.Infof("host %s is already known to the intake, adopting the record", machineID)
		if err := r.store.WriteStatus(state.Registered); err != nil {
			return nil, err
		}
		return rec, nil
	} else if err != nil && !errors.Is(err, api.ErrHostNotFound) && api.IsTransient(err) {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("determining hostname: %w", err)
	}
	reg := api.HostRegistration{
		MachineID:   machineID,
		Hostname:    hostname,
		DisplayName: opts.DisplayName,
		Group:       opts.Group,
		BranchInfo:  r.intake.BranchInfo(ctx),
	}
	rec, err := r.intake.RegisterHost(ctx, reg)
	if err != nil {
		if api.IsTransient(err) {
			return nil, err
		}
		return nil, &RegistrationError{MachineID: machineID, Err: err}
	}
	if err := r.store.WriteStatus(state.Registered); err != nil {
		return nil, err
	}
	log.Infof("host %s registered as %q", machineID, hostname)
	return rec, nil
}

// Unregister removes the host from the intake and clears the local caches.
// The machine id is preserved. Unregistering an unregistered host is a
// no-op, and a previously interrupted unregistration is resumed.
func (r *Registrar) Unregister(ctx context.Context) error {
	status := r.store.ReadStatus()
	if status == state.Unregistered {
		log.Info("this host is not registered, nothing to do")
		return nil
	}

	machineID, err := r.store.MachineID()
	if err != nil {
		return err
	}

	// Record the intent before the remote call so a crash between the two
	// is resumed on the next invocation instead of silently dropped.
	if status == state.Registered {
		if err := r.store.WriteStatus(state.PendingUnregistration); err != nil {
			return err
		}
	}
	if err := r.intake.UnregisterHost(ctx, machineID); err != nil {
		return err
	}
	if err := r.store.ClearCaches(); err != nil {
		log.Warnf("clearing cached state: %v", err)
	}
	if err := r.store.WriteStatus(state.Unregistered); err != nil {
		return err
	}
	log.Infof("host %s unregistered", machineID)
	return nil
}

// CheckStatus compares the local record against the intake. It never
// mutates state; a disagreement is reported as a DriftError.
func (r *Registrar) CheckStatus(ctx context.Context) (state.Status, error) {
	status := r.store.ReadStatus()
	machineID, err := r.store.MachineID()
	if err != nil {
		return status, err
	}

	rec, err := r.intake.HostStatus(ctx, machineID)
	switch {
	case errors.Is(err, api.ErrHostNotFound):
		if status == state.Registered {
			return status, &DriftError{Local: status, Remote: "no record"}
		}
		return status, nil
	case err != nil:
		return status, err
	case rec.Unregistered():
		if status == state.Registered {
			return status, &DriftError{Local: status, Remote: "unregistered at " + rec.UnregisteredAt}
		}
		return status, nil
	default:
		if status != state.Registered {
			return status, &DriftError{Local: status, Remote: "registered"}
		}
		return status, nil
	}
}

// EnsureRegistered gates operations that need an enrolled host. The check
// reads only local state. allowUnregistered bypasses the gate for offline
// workflows.
func (r *Registrar) EnsureRegistered(allowUnregistered bool) error {
	if allowUnregistered {
		return nil
	}
	if r.store.ReadStatus() != state.Registered {
		return ErrNotRegistered
	}
	return nil
}
