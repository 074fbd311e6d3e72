// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package unregister implements 'hostinsight-agent unregister'.
package unregister

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hostinsight/hostinsight-agent/cmd/agent/command"
)

// Commands returns a slice of subcommands for the 'agent' command.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	unregisterCommand := &cobra.Command{
		Use:   "unregister",
		Short: "Unregister this host from the intake service",
		Long:  ``,
		RunE: func(_ *cobra.Command, _ []string) error {
			return unregister(globalParams)
		},
	}
	return []*cobra.Command{unregisterCommand}
}

func unregister(globalParams *command.GlobalParams) error {
	b, err := command.Setup(globalParams)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Registrar.Unregister(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(globalParams.UserOutput(), color.GreenString("Successfully unregistered"))
	return nil
}
