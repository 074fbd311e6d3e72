// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package upload delivers collection archives to the intake service with a
// bounded exponential-backoff retry schedule.
package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/hostinsight/hostinsight-agent/pkg/api"
	"github.com/hostinsight/hostinsight-agent/pkg/archive"
	"github.com/hostinsight/hostinsight-agent/pkg/config"
	"github.com/hostinsight/hostinsight-agent/pkg/state"
	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
)

// Uploader is the subset of the API client the engine needs.
type Uploader interface {
	Upload(ctx context.Context, machineID string, ar *archive.Archive, collectionTime time.Duration) (*api.UploadResult, error)
}

// Engine uploads archives and records the last successful delivery. Only
// transient failures are retried; a permanent rejection aborts immediately.
type Engine struct {
	uploader    Uploader
	store       *state.Store
	clock       clock.Clock
	attempts    uint64
	backoffBase time.Duration
	backoffMax  time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithAttempts overrides the configured total attempt bound.
func WithAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.attempts = uint64(n)
		}
	}
}

// New builds an Engine from the resolved configuration.
func New(cfg *config.Config, uploader Uploader, store *state.Store, opts ...Option) *Engine {
	e := &Engine{
		uploader:    uploader,
		store:       store,
		clock:       clock.New(),
		attempts:    uint64(cfg.GetInt("upload_retries")),
		backoffBase: time.Duration(cfg.GetInt("upload_backoff_base")) * time.Second,
		backoffMax:  time.Duration(cfg.GetInt("upload_backoff_max")) * time.Second,
	}
	if e.attempts == 0 {
		e.attempts = 1
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Upload delivers the archive, making at most the configured number of
// attempts. On success the last-upload timestamp is updated; a failure to
// record it is logged but does not fail the upload.
func (e *Engine) Upload(ctx context.Context, machineID string, ar *archive.Archive, collectionTime time.Duration) (*api.UploadResult, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.backoffBase
	policy.MaxInterval = e.backoffMax
	policy.MaxElapsedTime = 0 // the attempt bound terminates the loop
	policy.Reset()

	var result *api.UploadResult
	var err error
	for attempt := uint64(1); ; attempt++ {
		log.Infof("uploading %s (attempt %d of %d)", ar.Name(), attempt, e.attempts)
		result, err = e.uploader.Upload(ctx, machineID, ar, collectionTime)
		if err == nil {
			break
		}
		if !api.IsTransient(err) {
			log.Errorf("upload rejected: %v", err)
			return nil, err
		}
		if attempt >= e.attempts {
			return nil, fmt.Errorf("upload failed after %d attempts: %w", e.attempts, err)
		}
		wait := policy.NextBackOff()
		log.Warnf("upload attempt %d failed (%v), retrying in %s", attempt, err, wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.clock.After(wait):
		}
	}

	if werr := e.store.WriteLastUpload(e.clock.Now()); werr != nil {
		log.Warnf("recording last upload time: %v", werr)
	}
	if result != nil && result.AccountNumber != "" {
		log.Infof("archive accepted for account %s", result.AccountNumber)
	} else {
		log.Info("archive accepted")
	}
	return result, nil
}
