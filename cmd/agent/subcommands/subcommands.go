// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package subcommands implement agent subcommands
package subcommands

import (
	"github.com/hostinsight/hostinsight-agent/cmd/agent/command"
	cmddiagnose "github.com/hostinsight/hostinsight-agent/cmd/agent/subcommands/diagnose"
	cmdregister "github.com/hostinsight/hostinsight-agent/cmd/agent/subcommands/register"
	cmdstatus "github.com/hostinsight/hostinsight-agent/cmd/agent/subcommands/status"
	cmdunregister "github.com/hostinsight/hostinsight-agent/cmd/agent/subcommands/unregister"
	cmdupload "github.com/hostinsight/hostinsight-agent/cmd/agent/subcommands/upload"
	cmdversion "github.com/hostinsight/hostinsight-agent/cmd/agent/subcommands/version"
)

// AgentSubcommands returns SubcommandFactories for the subcommands supported
// by the agent.
func AgentSubcommands() []command.SubcommandFactory {
	return []command.SubcommandFactory{
		cmddiagnose.Commands,
		cmdregister.Commands,
		cmdstatus.Commands,
		cmdunregister.Commands,
		cmdupload.Commands,
		cmdversion.Commands,
	}
}
