// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package main

import (
	"os"

	"github.com/hostinsight/hostinsight-agent/cmd/agent/command"
	"github.com/hostinsight/hostinsight-agent/cmd/agent/subcommands"
	"github.com/hostinsight/hostinsight-agent/cmd/internal/runcmd"
)

func main() {
	os.Exit(runcmd.Run(command.MakeCommand(subcommands.AgentSubcommands())))
}
