// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package state

import (
	"errors"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another agent invocation holds the
// exclusivity guard. Callers exit immediately with the dedicated status
// rather than blocking or queuing.
var ErrAlreadyRunning = errors.New("another agent invocation is already running")

// Guard is the process-level exclusivity guard over the state directory.
type Guard struct {
	fl *flock.Flock
}

// AcquireGuard takes the advisory lock on the state directory without
// blocking. It must be held before any state-mutating operation.
func (s *Store) AcquireGuard() (*Guard, error) {
	fl := flock.New(s.path(lockFile))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	return &Guard{fl: fl}, nil
}

// Release drops the guard. Safe to call once per acquisition on any exit
// path.
func (g *Guard) Release() error {
	return g.fl.Unlock()
}
