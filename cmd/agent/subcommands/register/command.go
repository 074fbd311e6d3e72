// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package register implements 'hostinsight-agent register'.
package register

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hostinsight/hostinsight-agent/cmd/agent/command"
	"github.com/hostinsight/hostinsight-agent/pkg/registration"
)

// cliParams are the command-line arguments for this subcommand
type cliParams struct {
	*command.GlobalParams

	displayName string
	group       string
}

// Commands returns a slice of subcommands for the 'agent' command.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	cliParams := &cliParams{
		GlobalParams: globalParams,
	}
	registerCommand := &cobra.Command{
		Use:   "register",
		Short: "Register this host with the intake service",
		Long:  ``,
		RunE: func(_ *cobra.Command, _ []string) error {
			return register(cliParams)
		},
	}
	registerCommand.Flags().StringVar(&cliParams.displayName, "display-name", "", "human-readable name shown for this host")
	registerCommand.Flags().StringVar(&cliParams.group, "group", "", "host group to register into")

	return []*cobra.Command{registerCommand}
}

func register(cliParams *cliParams) error {
	b, err := command.Setup(cliParams.GlobalParams)
	if err != nil {
		return err
	}
	defer b.Close()

	rec, err := b.Registrar.Register(context.Background(), registration.Options{
		DisplayName: cliParams.displayName,
		Group:       cliParams.group,
	})
	if err != nil {
		return err
	}
	out := cliParams.UserOutput()
	if rec != nil && rec.DisplayName != "" {
		fmt.Fprintf(out, "Successfully registered as %s\n", color.GreenString(rec.DisplayName))
	} else {
		fmt.Fprintln(out, color.GreenString("Successfully registered"))
	}
	return nil
}
