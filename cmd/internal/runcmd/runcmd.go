// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package runcmd executes the agent's root command and maps the outcome to
// an exit code.
package runcmd

import (
	"github.com/spf13/cobra"

	"github.com/hostinsight/hostinsight-agent/cmd/agent/command"
)

// Run executes cmd and returns the process exit code.
func Run(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err != nil {
		command.ReportError(err)
	}
	return command.ExitCode(err)
}
