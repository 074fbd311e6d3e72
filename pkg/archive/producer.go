// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package archive

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
)

// Collector fills stagingDir with the diagnostic data to package. Collection
// specifics are out of scope for the agent; the production implementation
// shells out to the configured collector command.
type Collector interface {
	Collect(ctx context.Context, stagingDir string) error
}

// CommandCollector runs an external collector binary with the staging
// directory as its only argument.
type CommandCollector struct {
	Command string
}

// Collect implements Collector.
func (c CommandCollector) Collect(ctx context.Context, stagingDir string) error {
	args := strings.Fields(c.Command)
	if len(args) == 0 {
		return fmt.Errorf("no collector command configured")
	}
	cmd := exec.CommandContext(ctx, args[0], append(args[1:], stagingDir)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("collector %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Producer stages collector output and packages it into an Archive.
type Producer struct {
	Collector   Collector
	Compression Compression
	// Hostname names the top-level directory inside the tarball.
	Hostname string
	// TmpRoot overrides the staging location; empty means the OS default.
	TmpRoot string
}

// Produce runs the collector and packages the result. On any error or
// cancellation the half-built archive is removed; it is never visible to the
// upload path.
func (p *Producer) Produce(ctx context.Context) (*Archive, error) {
	tmpDir, err := os.MkdirTemp(p.TmpRoot, "hostinsight-archive-")
	if err != nil {
		return nil, err
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	name := p.Hostname
	if name == "" {
		name, _ = os.Hostname()
	}
	name = fmt.Sprintf("%s-%s", name, time.Now().UTC().Format("20060102150405"))

	stagingDir := filepath.Join(tmpDir, name)
	if err := os.Mkdir(stagingDir, 0o700); err != nil {
		cleanup()
		return nil, err
	}

	log.Debugf("Collecting diagnostic data into %s", stagingDir)
	if err := p.Collector.Collect(ctx, stagingDir); err != nil {
		cleanup()
		return nil, fmt.Errorf("collecting diagnostic data: %w", err)
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return nil, err
	}

	destPath := filepath.Join(tmpDir, name+p.Compression.extension())
	if err := buildTarball(destPath, stagingDir, name, p.Compression); err != nil {
		cleanup()
		return nil, fmt.Errorf("packaging archive: %w", err)
	}
	// staging data is no longer needed once the tarball exists
	os.RemoveAll(stagingDir)

	info, err := os.Stat(destPath)
	if err != nil {
		cleanup()
		return nil, err
	}
	log.Debugf("Built archive %s (%d bytes)", destPath, info.Size())
	return &Archive{
		Path:        destPath,
		Size:        info.Size(),
		Compression: p.Compression,
		owned:       true,
		tmpDir:      tmpDir,
	}, nil
}

// Stage runs the collector without packaging, for keep-staging runs. The
// returned directory is left in place for inspection.
func (p *Producer) Stage(ctx context.Context) (string, error) {
	tmpDir, err := os.MkdirTemp(p.TmpRoot, "hostinsight-archive-")
	if err != nil {
		return "", err
	}
	if err := p.Collector.Collect(ctx, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return "", fmt.Errorf("collecting diagnostic data: %w", err)
	}
	return tmpDir, nil
}
