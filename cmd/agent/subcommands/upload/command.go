// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package upload implements 'hostinsight-agent upload'.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hostinsight/hostinsight-agent/cmd/agent/command"
	"github.com/hostinsight/hostinsight-agent/pkg/archive"
	"github.com/hostinsight/hostinsight-agent/pkg/upload"
	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
)

// cliParams are the command-line arguments for this subcommand
type cliParams struct {
	*command.GlobalParams

	payload   string
	output    string
	offline   bool
	noArchive bool
	retries   int
}

// Commands returns a slice of subcommands for the 'agent' command.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	cliParams := &cliParams{
		GlobalParams: globalParams,
	}
	uploadCommand := &cobra.Command{
		Use:   "upload",
		Short: "Collect an archive and upload it to the intake service",
		Long:  ``,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(cliParams)
		},
	}
	uploadCommand.Flags().StringVar(&cliParams.payload, "payload", "", "upload a pre-built archive instead of collecting ('-' reads stdin)")
	uploadCommand.Flags().StringVar(&cliParams.output, "output", "", "write the archive to a file instead of uploading ('-' writes stdout)")
	uploadCommand.Flags().BoolVar(&cliParams.offline, "offline", false, "build the archive without any network access")
	uploadCommand.Flags().BoolVar(&cliParams.noArchive, "no-archive", false, "leave the collected files in a staging directory instead of archiving")
	uploadCommand.Flags().IntVar(&cliParams.retries, "retries", 0, "override the configured upload attempt bound")
	uploadCommand.MarkFlagsMutuallyExclusive("payload", "output")
	uploadCommand.MarkFlagsMutuallyExclusive("payload", "no-archive")

	return []*cobra.Command{uploadCommand}
}

func run(cliParams *cliParams) error {
	cliParams.GlobalParams.Offline = cliParams.offline
	b, err := command.Setup(cliParams.GlobalParams)
	if err != nil {
		return err
	}
	defer b.Close()

	cfg := b.Config
	if !cfg.GetBool("schedule_enabled") && !cliParams.NoSchedule {
		log.Info("uploads are disabled by the schedule, nothing to do")
		return nil
	}

	// Writing the archive locally needs no enrollment.
	localOnly := cliParams.offline || cliParams.output != "" || cliParams.noArchive
	if err := b.Registrar.EnsureRegistered(localOnly); err != nil {
		return err
	}

	ctx := context.Background()
	producer := &archive.Producer{
		Collector: archive.CommandCollector{Command: cfg.GetString("collector_command")},
	}
	if producer.Compression, err = archive.ParseCompression(cfg.GetString("compressor")); err != nil {
		return err
	}
	if producer.Hostname, err = os.Hostname(); err != nil {
		return err
	}

	out := cliParams.UserOutput()

	if cliParams.noArchive {
		dir, err := producer.Stage(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Collected files left in %s\n", dir)
		return nil
	}

	collectStart := time.Now()
	ar, err := buildArchive(ctx, cliParams, producer)
	if err != nil {
		return err
	}
	collectionTime := time.Since(collectStart)

	if cliParams.output != "" {
		defer ar.Delete()
		return writeOut(ar, cliParams.output, out)
	}
	if cliParams.offline {
		// no network at all; the archive is left for the operator
		fmt.Fprintf(out, "Archive kept at %s\n", ar.Path)
		return nil
	}
	defer ar.Delete()

	machineID, err := b.Store.MachineID()
	if err != nil {
		return err
	}
	engine := upload.New(cfg, b.Client, b.Store, upload.WithAttempts(cliParams.retries))
	if _, err := engine.Upload(ctx, machineID, ar, collectionTime); err != nil {
		return err
	}
	fmt.Fprintln(out, color.GreenString("Archive uploaded successfully"))
	return nil
}

func buildArchive(ctx context.Context, cliParams *cliParams, producer *archive.Producer) (*archive.Archive, error) {
	switch cliParams.payload {
	case "":
		return producer.Produce(ctx)
	case "-":
		return archive.FromReader(os.Stdin, producer.Compression)
	default:
		return archive.FromFile(cliParams.payload)
	}
}

func writeOut(ar *archive.Archive, dest string, out io.Writer) error {
	if dest == "-" {
		_, err := ar.WriteTo(os.Stdout)
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := ar.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Archive written to %s\n", dest)
	return nil
}
