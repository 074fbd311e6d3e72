// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package status implements 'hostinsight-agent status'.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hostinsight/hostinsight-agent/cmd/agent/command"
	"github.com/hostinsight/hostinsight-agent/pkg/registration"
	"github.com/hostinsight/hostinsight-agent/pkg/state"
)

// cliParams are the command-line arguments for this subcommand
type cliParams struct {
	*command.GlobalParams

	localOnly bool
}

// Commands returns a slice of subcommands for the 'agent' command.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	cliParams := &cliParams{
		GlobalParams: globalParams,
	}
	statusCommand := &cobra.Command{
		Use:   "status",
		Short: "Print the registration status of this host",
		Long:  ``,
		RunE: func(_ *cobra.Command, _ []string) error {
			return printStatus(cliParams)
		},
	}
	statusCommand.Flags().BoolVar(&cliParams.localOnly, "local", false, "report the local record only, without querying the intake")

	return []*cobra.Command{statusCommand}
}

func printStatus(cliParams *cliParams) error {
	b, err := command.Setup(cliParams.GlobalParams)
	if err != nil {
		return err
	}
	defer b.Close()

	machineID, err := b.Store.MachineID()
	if err != nil {
		return err
	}
	fmt.Printf("Machine ID: %s\n", machineID)

	if cliParams.localOnly {
		return reportLocal(b.Store.ReadStatus())
	}

	status, err := b.Registrar.CheckStatus(context.Background())
	var drift *registration.DriftError
	switch {
	case errors.As(err, &drift):
		fmt.Printf("%s %v\n", color.YellowString("Warning:"), drift)
	case err != nil:
		// The intake could not be reached; fall back to the local record.
		fmt.Printf("%s intake unreachable (%v)\n", color.YellowString("Warning:"), err)
	}

	if t, ok := b.Store.ReadLastUpload(); ok {
		fmt.Printf("Last upload: %s\n", t.Format("2006-01-02 15:04:05 MST"))
	}
	return reportLocal(status)
}

// reportLocal prints the status line and maps an unregistered host to the
// matching exit code.
func reportLocal(status state.Status) error {
	if status == state.Registered {
		fmt.Printf("Status: %s\n", color.GreenString(status.String()))
		return nil
	}
	fmt.Printf("Status: %s\n", color.RedString(status.String()))
	return registration.ErrNotRegistered
}
