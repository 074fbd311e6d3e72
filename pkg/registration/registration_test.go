// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package registration

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostinsight/hostinsight-agent/pkg/api"
	"github.com/hostinsight/hostinsight-agent/pkg/state"
)

// fakeIntake is an in-memory stand-in for the intake service. It records
// registered hosts and counts calls so tests can assert on traffic.
type fakeIntake struct {
	hosts map[string]*api.HostRecord
	calls int

	registerErr   error
	unregisterErr error
	statusErr     error
}

func newFakeIntake() *fakeIntake {
	return &fakeIntake{hosts: map[string]*api.HostRecord{}}
}

func (f *fakeIntake) BranchInfo(context.Context) api.BranchInfo {
	f.calls++
	return api.UnmanagedBranchInfo
}

func (f *fakeIntake) RegisterHost(_ context.Context, reg api.HostRegistration) (*api.HostRecord, error) {
	f.calls++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	rec := &api.HostRecord{MachineID: reg.MachineID, Hostname: reg.Hostname, DisplayName: reg.DisplayName}
	f.hosts[reg.MachineID] = rec
	return rec, nil
}

func (f *fakeIntake) UnregisterHost(_ context.Context, machineID string) error {
	f.calls++
	if f.unregisterErr != nil {
		return f.unregisterErr
	}
	delete(f.hosts, machineID)
	return nil
}

func (f *fakeIntake) HostStatus(_ context.Context, machineID string) (*api.HostRecord, error) {
	f.calls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	rec, ok := f.hosts[machineID]
	if !ok {
		return nil, api.ErrHostNotFound
	}
	return rec, nil
}

func newTestRegistrar(t *testing.T) (*Registrar, *state.Store, *fakeIntake) {
	t.Helper()
	store, err := state.Open(t.TempDir())
	require.NoError(t, err)
	intake := newFakeIntake()
	return New(store, intake), store, intake
}

func TestRegisterTransitionsToRegistered(t *testing.T) {
	r, store, intake := newTestRegistrar(t)

	rec, err := r.Register(context.Background(), Options{DisplayName: "web01"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "web01", rec.DisplayName)
	assert.Equal(t, state.Registered, store.ReadStatus())

	id, err := store.MachineID()
	require.NoError(t, err)
	assert.Contains(t, intake.hosts, id)
}

func TestRegisterIsIdempotent(t *testing.T) {
	r, _, intake := newTestRegistrar(t)

	_, err := r.Register(context.Background(), Options{})
	require.NoError(t, err)
	before := intake.calls

	rec, err := r.Register(context.Background(), Options{})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, before, intake.calls, "a second register must not touch the network")
}

func TestIdentityStableAcrossReRegistration(t *testing.T) {
	r, store, _ := newTestRegistrar(t)
	ctx := context.Background()

	_, err := r.Register(ctx, Options{})
	require.NoError(t, err)
	first, err := store.MachineID()
	require.NoError(t, err)

	require.NoError(t, r.Unregister(ctx))
	assert.Equal(t, state.Unregistered, store.ReadStatus())

	_, err = r.Register(ctx, Options{})
	require.NoError(t, err)
	second, err := store.MachineID()
	require.NoError(t, err)

	assert.Equal(t, first, second, "identity must survive unregister/register cycles")
}

func TestRegisterRejectionKeepsIdentity(t *testing.T) {
	r, store, intake := newTestRegistrar(t)
	intake.registerErr = &api.PermanentError{Op: "register host", StatusCode: http.StatusConflict}

	id, err := store.MachineID()
	require.NoError(t, err)

	_, err = r.Register(context.Background(), Options{})
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, id, regErr.MachineID)
	assert.Equal(t, state.Unregistered, store.ReadStatus())

	after, err := store.MachineID()
	require.NoError(t, err)
	assert.Equal(t, id, after)
}

func TestRegisterTransientErrorPassesThrough(t *testing.T) {
	r, store, intake := newTestRegistrar(t)
	intake.statusErr = &api.TransientError{Op: "host status", Err: errors.New("connection refused")}

	_, err := r.Register(context.Background(), Options{})
	assert.True(t, api.IsTransient(err))
	assert.Equal(t, state.Unregistered, store.ReadStatus())
}

func TestRegisterAdoptsExistingRemoteRecord(t *testing.T) {
	r, store, intake := newTestRegistrar(t)
	id, err := store.MachineID()
	require.NoError(t, err)
	intake.hosts[id] = &api.HostRecord{MachineID: id, Hostname: "restored"}

	rec, err := r.Register(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "restored", rec.Hostname)
	assert.Equal(t, state.Registered, store.ReadStatus())
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r, _, intake := newTestRegistrar(t)

	require.NoError(t, r.Unregister(context.Background()))
	assert.Zero(t, intake.calls, "unregistering an unregistered host must not touch the network")
}

func TestUnregisterResumesAfterInterruption(t *testing.T) {
	r, store, intake := newTestRegistrar(t)
	ctx := context.Background()

	_, err := r.Register(ctx, Options{})
	require.NoError(t, err)

	// First attempt dies between the local intent write and the remote call.
	intake.unregisterErr = &api.TransientError{Op: "unregister host", Err: errors.New("timeout")}
	require.Error(t, r.Unregister(ctx))
	assert.Equal(t, state.PendingUnregistration, store.ReadStatus())

	// Retrying from the pending state completes the transition.
	intake.unregisterErr = nil
	require.NoError(t, r.Unregister(ctx))
	assert.Equal(t, state.Unregistered, store.ReadStatus())
}

func TestRegisterBlockedWhilePendingUnregistration(t *testing.T) {
	r, store, _ := newTestRegistrar(t)
	require.NoError(t, store.WriteStatus(state.PendingUnregistration))

	_, err := r.Register(context.Background(), Options{})
	assert.Error(t, err)
	assert.Equal(t, state.PendingUnregistration, store.ReadStatus())
}

func TestEnsureRegisteredFailsFastWithoutNetwork(t *testing.T) {
	r, _, intake := newTestRegistrar(t)

	err := r.EnsureRegistered(false)
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Zero(t, intake.calls, "the gate must not touch the network")
}

func TestEnsureRegisteredBypass(t *testing.T) {
	r, _, _ := newTestRegistrar(t)
	assert.NoError(t, r.EnsureRegistered(true))
}

func TestCheckStatusDetectsDrift(t *testing.T) {
	r, store, intake := newTestRegistrar(t)
	ctx := context.Background()

	_, err := r.Register(ctx, Options{})
	require.NoError(t, err)

	// The intake forgets the host behind our back.
	id, err := store.MachineID()
	require.NoError(t, err)
	delete(intake.hosts, id)

	status, err := r.CheckStatus(ctx)
	var drift *DriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, state.Registered, status)
	assert.Equal(t, state.Registered, store.ReadStatus(), "drift detection must not mutate state")
}

func TestCheckStatusAgreement(t *testing.T) {
	r, _, _ := newTestRegistrar(t)
	ctx := context.Background()

	status, err := r.CheckStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Unregistered, status)

	_, err = r.Register(ctx, Options{})
	require.NoError(t, err)

	status, err = r.CheckStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Registered, status)
}
