// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package diagnose implements 'hostinsight-agent diagnose'.
package diagnose

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/hostinsight/hostinsight-agent/cmd/agent/command"
	"github.com/hostinsight/hostinsight-agent/pkg/config"
	httputils "github.com/hostinsight/hostinsight-agent/pkg/util/http"
)

// Commands returns a slice of subcommands for the 'agent' command.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	diagnoseCommand := &cobra.Command{
		Use:   "diagnose",
		Short: "Check connectivity to the intake service",
		Long:  `Runs every connectivity probe and reports all failures, not just the first one.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return diagnose(globalParams)
		},
	}
	return []*cobra.Command{diagnoseCommand}
}

type check struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) error
}

var checks = []check{
	{"endpoint configuration", checkEndpoints},
	{"DNS resolution", checkDNS},
	{"TLS handshake", checkTLS},
	{"intake reachability", checkIntake},
}

func diagnose(globalParams *command.GlobalParams) error {
	cfg, err := command.LoadConfig(globalParams)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var result *multierror.Error
	for _, c := range checks {
		if err := c.run(ctx, cfg); err != nil {
			fmt.Printf("%s %s: %v\n", color.RedString("FAIL"), c.name, err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		fmt.Printf("%s %s\n", color.GreenString("PASS"), c.name)
	}
	if err := result.ErrorOrNil(); err != nil {
		fmt.Printf("\n%s\n", color.RedString("%d of %d checks failed", len(result.Errors), len(checks)))
		return err
	}
	fmt.Printf("\n%s\n", color.GreenString("All connectivity checks passed"))
	return nil
}

func checkEndpoints(_ context.Context, cfg *config.Config) error {
	return cfg.ValidateEndpoints()
}

func intakeHost(cfg *config.Config) (string, error) {
	u, err := url.Parse(cfg.BaseURL())
	if err != nil {
		return "", err
	}
	host, _, err := net.SplitHostPort(u.Host)
	if err != nil {
		// No explicit port in the URL.
		return u.Hostname(), nil
	}
	return host, nil
}

func checkDNS(ctx context.Context, cfg *config.Config) error {
	host, err := intakeHost(cfg)
	if err != nil {
		return err
	}
	_, err = net.DefaultResolver.LookupHost(ctx, host)
	return err
}

// checkTLS dials the intake directly, bypassing the proxy, so certificate
// problems are reported separately from reachability problems.
func checkTLS(ctx context.Context, cfg *config.Config) error {
	if cfg.GetBool("insecure_connection") {
		return nil
	}
	transport, err := httputils.CreateHTTPTransport(cfg)
	if err != nil {
		return err
	}
	host, err := intakeHost(cfg)
	if err != nil {
		return err
	}
	dialer := &tls.Dialer{Config: transport.TLSClientConfig}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "443"))
	if err != nil {
		return err
	}
	return conn.Close()
}

func checkIntake(ctx context.Context, cfg *config.Config) error {
	client, err := httputils.NewHTTPClient(cfg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BranchInfoURL(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("intake returned HTTP %d", resp.StatusCode)
	}
	return nil
}
