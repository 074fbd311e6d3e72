// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package command holds the factory for the agent's root command and the
// bootstrap shared by every subcommand.
package command

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hostinsight/hostinsight-agent/pkg/api"
	"github.com/hostinsight/hostinsight-agent/pkg/config"
	"github.com/hostinsight/hostinsight-agent/pkg/registration"
	"github.com/hostinsight/hostinsight-agent/pkg/state"
	httputils "github.com/hostinsight/hostinsight-agent/pkg/util/http"
	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
)

const (
	// ExitOK is the success exit code.
	ExitOK = 0
	// ExitFailure covers permanent failures and internal errors.
	ExitFailure = 1
	// ExitNotRegistered is returned when an operation needs an enrolled host.
	ExitNotRegistered = 2
	// ExitTransient is returned when retries against the intake were exhausted.
	ExitTransient = 3
	// ExitAlreadyRunning is returned when another agent holds the run lock.
	ExitAlreadyRunning = 4
)

// GlobalParams holds the flags shared by every subcommand.
type GlobalParams struct {
	ConfFilePath       string
	Quiet              bool
	Silent             bool
	Verbose            bool
	NoSchedule         bool
	InsecureSkipVerify bool

	// Offline is not a flag. Subcommands with a no-network mode set it
	// before Setup so configuration resolution skips the connectivity probe.
	Offline bool
}

// UserOutput returns the writer for human-facing success messages. Quiet
// and silent runs discard them so scheduled invocations stay silent unless
// something fails.
func (g *GlobalParams) UserOutput() io.Writer {
	if g.Quiet || g.Silent {
		return io.Discard
	}
	return os.Stdout
}

// SubcommandFactory builds subcommands from the shared flags.
type SubcommandFactory func(*GlobalParams) []*cobra.Command

// MakeCommand makes the top-level cobra command for the agent.
func MakeCommand(subcommandFactories []SubcommandFactory) *cobra.Command {
	globalParams := GlobalParams{}

	cmd := &cobra.Command{
		Use:           "hostinsight-agent [command]",
		Short:         "Hostinsight host agent.",
		Long:          `The Hostinsight agent registers this host with the intake service and uploads collection archives to it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addGlobalFlags(cmd.PersistentFlags(), &globalParams)

	for _, sf := range subcommandFactories {
		for _, subcmd := range sf(&globalParams) {
			cmd.AddCommand(subcmd)
		}
	}

	return cmd
}

func addGlobalFlags(fs *pflag.FlagSet, globalParams *GlobalParams) {
	fs.StringVarP(&globalParams.ConfFilePath, "config", "c", "", "path to hostinsight.yaml")
	fs.BoolVarP(&globalParams.Quiet, "quiet", "q", false, "only print errors to the console")
	fs.BoolVar(&globalParams.Silent, "silent", false, "print nothing to the console")
	fs.BoolVarP(&globalParams.Verbose, "verbose", "v", false, "enable debug logging")
	fs.BoolVar(&globalParams.NoSchedule, "no-schedule", false, "do not run under the periodic schedule gate")
	fs.BoolVar(&globalParams.InsecureSkipVerify, "insecure-skip-verify", false, "skip TLS certificate verification")
}

// Bootstrap groups everything a subcommand needs after the shared setup ran.
type Bootstrap struct {
	Config    *config.Config
	Store     *state.Store
	Guard     *state.Guard
	Registrar *registration.Registrar
	Client    *api.Client
}

// Close releases the run lock and flushes the logs.
func (b *Bootstrap) Close() {
	if b.Guard != nil {
		b.Guard.Release()
	}
	log.Flush()
}

// Setup resolves the configuration, sets up logging, acquires the run lock
// and opens the state store. Every mutating subcommand starts here.
func Setup(globalParams *GlobalParams) (*Bootstrap, error) {
	cfg, err := LoadConfig(globalParams)
	if err != nil {
		return nil, err
	}
	if err := setupLogger(cfg, globalParams); err != nil {
		return nil, err
	}

	store, err := state.Open(cfg.GetString("state_dir"),
		state.WithLegacyDir(cfg.GetString("legacy_state_dir")))
	if err != nil {
		return nil, err
	}
	guard, err := store.AcquireGuard()
	if err != nil {
		return nil, err
	}

	b := &Bootstrap{Config: cfg, Store: store, Guard: guard}

	// The signed fallback only tops up defaults, so a verification failure
	// leaves file, env and flag settings fully in force.
	blob, sig := store.FallbackPaths()
	if err := cfg.MergeVerifiedFallback(blob, sig, cfg.GetString("gpg_pubkey_path")); err != nil {
		log.Warnf("ignoring fallback configuration: %v", err)
	}

	client, err := httputils.NewHTTPClient(cfg)
	if err != nil {
		guard.Release()
		return nil, err
	}
	b.Client = api.NewClient(cfg, client)
	b.Registrar = registration.New(store, b.Client)
	return b, nil
}

// LoadConfig resolves the layered configuration without touching the state
// store or the network. Read-only subcommands use it directly.
func LoadConfig(globalParams *GlobalParams) (*config.Config, error) {
	cfg := config.NewConfig()
	confFile := globalParams.ConfFilePath
	if confFile == "" {
		confFile = config.DefaultConfFile
	}
	if err := cfg.LoadFile(confFile); err != nil {
		return nil, err
	}
	if globalParams.InsecureSkipVerify {
		cfg.Set("insecure_skip_verify", true)
	}
	if globalParams.NoSchedule {
		cfg.Set("schedule_enabled", false)
	}
	cfg.LoadProxyFromEnv()
	if cfg.GetBool("auto_config") && !globalParams.Offline {
		ac := config.NewAutoConfig()
		ac.Verify = verifyConnectivity
		ac.TryAutoConfiguration(cfg)
	}
	return cfg, cfg.ValidateEndpoints()
}

func setupLogger(cfg *config.Config, globalParams *GlobalParams) error {
	level := cfg.GetString("log_level")
	if globalParams.Verbose {
		level = "debug"
	}
	if cfg.GetBool("trace") {
		level = "trace"
	}
	return log.Setup(log.Options{
		Level:   level,
		LogFile: cfg.GetString("log_file"),
		Quiet:   globalParams.Quiet,
		Silent:  globalParams.Silent,
	})
}

// verifyConnectivity probes the branch-info endpoint with candidate
// auto-configuration settings applied. Auto-configuration is reverted when
// the probe cannot reach the intake.
func verifyConnectivity(cfg *config.Config) bool {
	hc, err := httputils.NewHTTPClient(cfg)
	if err != nil {
		return false
	}
	resp, err := hc.Get(cfg.BranchInfoURL())
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// ExitCode maps an error to the agent's documented exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, state.ErrAlreadyRunning):
		return ExitAlreadyRunning
	case errors.Is(err, registration.ErrNotRegistered):
		return ExitNotRegistered
	case api.IsTransient(err):
		return ExitTransient
	default:
		return ExitFailure
	}
}

// ReportError prints the failure for the operator and logs it.
func ReportError(err error) {
	if err == nil {
		return
	}
	log.Errorf("%v", err)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
