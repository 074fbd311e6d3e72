// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostinsight/hostinsight-agent/pkg/archive"
	"github.com/hostinsight/hostinsight-agent/pkg/config"
)

const testMachineID = "0b4281b4-61cd-4677-b4fe-ba6ccf221b89"

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.NewConfig()
	cfg.Set("api_url", srv.URL)
	cfg.Set("upload_url", srv.URL+"/uploads")
	cfg.Set("branch_info_url", srv.URL+"/v1/branch_info")
	cfg.Set("username", "scott")
	cfg.Set("password", "tiger")
	return NewClient(cfg, srv.Client())
}

func TestRegisterHost(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/systems", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "scott", user)
		assert.Equal(t, "tiger", pass)

		var reg HostRegistration
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		assert.Equal(t, testMachineID, reg.MachineID)
		assert.Equal(t, "-1", reg.RemoteBranch)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(HostRecord{MachineID: reg.MachineID, DisplayName: reg.DisplayName})
	}))

	rec, err := client.RegisterHost(context.Background(), HostRegistration{
		MachineID:  testMachineID,
		Hostname:   "web01",
		BranchInfo: UnmanagedBranchInfo,
	})
	require.NoError(t, err)
	assert.Equal(t, testMachineID, rec.MachineID)
}

func TestRegisterHostConflictIsPermanent(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"message":"machine already registered"}`)
	}))

	_, err := client.RegisterHost(context.Background(), HostRegistration{MachineID: testMachineID})
	require.Error(t, err)
	assert.False(t, IsTransient(err))

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, http.StatusConflict, perm.StatusCode)
	assert.Contains(t, perm.Message, "already registered")
}

func TestServerErrorsAreTransient(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.RegisterHost(context.Background(), HostRegistration{MachineID: testMachineID})
	assert.True(t, IsTransient(err))

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
}

func TestConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := config.NewConfig()
	cfg.Set("api_url", srv.URL)
	client := NewClient(cfg, srv.Client())
	srv.Close() // nothing is listening anymore

	_, err := client.RegisterHost(context.Background(), HostRegistration{MachineID: testMachineID})
	assert.True(t, IsTransient(err))
}

func TestHostStatusNotFound(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.HostStatus(context.Background(), testMachineID)
	assert.ErrorIs(t, err, ErrHostNotFound)
}

func TestHostStatusUnregisteredAt(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/systems/"+testMachineID, r.URL.Path)
		json.NewEncoder(w).Encode(HostRecord{
			MachineID:      testMachineID,
			UnregisteredAt: "2026-08-01T12:00:00Z",
		})
	}))

	rec, err := client.HostStatus(context.Background(), testMachineID)
	require.NoError(t, err)
	assert.True(t, rec.Unregistered())
}

func TestUnregisterHostGoneIsSuccess(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))

	assert.NoError(t, client.UnregisterHost(context.Background(), testMachineID))
}

func TestBranchInfoDegradesToUnmanaged(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	assert.Equal(t, UnmanagedBranchInfo, client.BranchInfo(context.Background()))
}

func TestBranchInfoManaged(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/branch_info", r.URL.Path)
		io.WriteString(w, `{"remote_branch":"550e8400","remote_leaf":"7"}`)
	}))

	bi := client.BranchInfo(context.Background())
	assert.Equal(t, "550e8400", bi.RemoteBranch)
	assert.Equal(t, "7", bi.RemoteLeaf)
}

func TestUpload(t *testing.T) {
	payload := filepath.Join(t.TempDir(), "payload.tar.gz")
	require.NoError(t, os.WriteFile(payload, []byte("fake tarball bytes"), 0o644))
	ar, err := archive.FromFile(payload)
	require.NoError(t, err)

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uploads/"+testMachineID, r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "payload.tar.gz", hdr.Filename)
		body, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "fake tarball bytes", string(body))

		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"upload":{"account_number":"123456"}}`)
	}))

	result, err := client.Upload(context.Background(), testMachineID, ar, 0)
	require.NoError(t, err)
	assert.Equal(t, "123456", result.AccountNumber)
}
