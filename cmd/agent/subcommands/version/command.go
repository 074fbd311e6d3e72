// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package version implements 'hostinsight-agent version'.
package version

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hostinsight/hostinsight-agent/cmd/agent/command"
	"github.com/hostinsight/hostinsight-agent/pkg/version"
)

// Commands returns a slice of subcommands for the 'agent' command.
func Commands(_ *command.GlobalParams) []*cobra.Command {
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Print the version info",
		Long:  ``,
		Run: func(_ *cobra.Command, _ []string) {
			commit := ""
			if version.Commit != "" {
				commit = fmt.Sprintf(" - Commit: %s", color.GreenString(version.Commit))
			}
			fmt.Fprintf(color.Output, "Agent %s%s - Go version: %s\n",
				color.CyanString(version.AgentVersion),
				commit,
				color.RedString(runtime.Version()),
			)
		},
	}
	return []*cobra.Command{versionCommand}
}
