// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package api implements the HTTP client for the Hostinsight intake
// service: host registration, status queries, and archive uploads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/hostinsight/hostinsight-agent/pkg/archive"
	"github.com/hostinsight/hostinsight-agent/pkg/config"
	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
	"github.com/hostinsight/hostinsight-agent/pkg/version"
)

// ErrHostNotFound is returned by HostStatus when the intake has no record
// for the queried machine id.
var ErrHostNotFound = errors.New("host not found on the intake service")

// BranchInfo identifies the management topology the host is reached
// through. Direct connections report the unmanaged sentinel values.
type BranchInfo struct {
	RemoteBranch string `json:"remote_branch"`
	RemoteLeaf   string `json:"remote_leaf"`
}

// UnmanagedBranchInfo is reported when no management gateway fronts the host.
var UnmanagedBranchInfo = BranchInfo{RemoteBranch: "-1", RemoteLeaf: "-1"}

// HostRegistration is the payload sent when enrolling a host.
type HostRegistration struct {
	MachineID   string `json:"machine_id"`
	Hostname    string `json:"hostname"`
	DisplayName string `json:"display_name,omitempty"`
	Group       string `json:"group,omitempty"`
	BranchInfo
}

// HostRecord is the intake's view of a registered host.
type HostRecord struct {
	MachineID      string `json:"machine_id"`
	Hostname       string `json:"hostname"`
	DisplayName    string `json:"display_name"`
	AccountNumber  string `json:"account_number"`
	UnregisteredAt string `json:"unregistered_at"`
}

// Unregistered reports whether the intake has marked this host as
// unregistered server-side.
func (r *HostRecord) Unregistered() bool { return r.UnregisteredAt != "" }

// UploadResult carries the intake's acknowledgement of an archive upload.
type UploadResult struct {
	AccountNumber string `json:"account_number"`
}

// Client talks to the intake service. All methods classify failures as
// TransientError or PermanentError so callers can decide whether to retry.
type Client struct {
	http          *http.Client
	apiURL        string
	uploadURL     string
	branchInfoURL string
	username      string
	password      string
	systemID      string
	userAgent     string
}

// NewClient builds a Client from the resolved configuration. The *http.Client
// should come from httputils.NewHTTPClient so proxy and TLS settings apply.
func NewClient(cfg *config.Config, hc *http.Client) *Client {
	return &Client{
		http:          hc,
		apiURL:        cfg.APIURL(),
		uploadURL:     cfg.UploadURL(),
		branchInfoURL: cfg.BranchInfoURL(),
		username:      cfg.GetString("username"),
		password:      cfg.GetString("password"),
		systemID:      cfg.GetString("systemid"),
		userAgent:     fmt.Sprintf("hostinsight-agent/%s", version.AgentVersion),
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if c.systemID != "" {
		req.Header.Set("X-System-ID", c.systemID)
	}
	log.Tracef("%s %s", method, url)
	return req, nil
}

// BranchInfo queries the management topology. Failures degrade to the
// unmanaged sentinel so registration never blocks on this probe.
func (c *Client) BranchInfo(ctx context.Context) BranchInfo {
	req, err := c.newRequest(ctx, http.MethodGet, c.branchInfoURL, nil)
	if err != nil {
		return UnmanagedBranchInfo
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debugf("branch info probe failed: %v", err)
		return UnmanagedBranchInfo
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Debugf("branch info probe returned HTTP %d", resp.StatusCode)
		return UnmanagedBranchInfo
	}
	var bi BranchInfo
	if err := json.NewDecoder(resp.Body).Decode(&bi); err != nil {
		log.Debugf("branch info decode failed: %v", err)
		return UnmanagedBranchInfo
	}
	return bi
}

// RegisterHost enrolls the host with the intake. A conflict (the machine id
// is already known) surfaces as a PermanentError with status 409.
func (c *Client) RegisterHost(ctx context.Context, reg HostRegistration) (*HostRecord, error) {
	const op = "register host"
	payload, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.apiURL+"/v1/systems", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransport(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, classifyResponse(op, resp)
	}
	var rec HostRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &rec, nil
}

// UnregisterHost removes the host record from the intake. A 404 means the
// record is already gone and is treated as success.
func (c *Client) UnregisterHost(ctx context.Context, machineID string) error {
	const op = "unregister host"
	req, err := c.newRequest(ctx, http.MethodDelete, c.apiURL+"/v1/systems/"+machineID, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransport(op, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		log.Debugf("intake has no record for %s, nothing to unregister", machineID)
		return nil
	default:
		return classifyResponse(op, resp)
	}
}

// HostStatus fetches the intake's record for the host.
func (c *Client) HostStatus(ctx context.Context, machineID string) (*HostRecord, error) {
	const op = "host status"
	req, err := c.newRequest(ctx, http.MethodGet, c.apiURL+"/v1/systems/"+machineID, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransport(op, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrHostNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, classifyResponse(op, resp)
	}
	var rec HostRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &rec, nil
}

// Upload posts an archive to the intake as a multipart form. The archive is
// streamed, not buffered, so large archives stay off the heap. collectionTime
// is reported to the intake for ingest bookkeeping.
func (c *Client) Upload(ctx context.Context, machineID string, ar *archive.Archive, collectionTime time.Duration) (*UploadResult, error) {
	const op = "upload archive"
	f, err := ar.Open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file"; filename="%s"`, ar.Name()))
		hdr.Set("Content-Type", ar.Compression.ContentType())
		part, err := mw.CreatePart(hdr)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, c.uploadURL+"/"+machineID, pr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Collection-Time", fmt.Sprintf("%.2f", collectionTime.Seconds()))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransport(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted {
		return nil, classifyResponse(op, resp)
	}
	var result struct {
		Upload UploadResult `json:"upload"`
	}
	// Some intake versions reply with an empty body on 202.
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && !errors.Is(err, io.EOF) {
		log.Debugf("upload acknowledgement decode failed: %v", err)
	}
	return &result.Upload, nil
}
