// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package httputils builds the HTTP client used for every intake connection,
// applying the resolved proxy policy and the TLS trust anchors.
package httputils

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hostinsight/hostinsight-agent/pkg/config"
	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
)

// CreateHTTPTransport returns a transport configured from the effective
// config: explicit proxy first, NO_PROXY bypass honored for the env proxy,
// and full certificate-chain verification against the configured trust
// anchor. Verification can only be disabled through the separately gated
// insecure_skip_verify flag, and doing so is loudly visible.
func CreateHTTPTransport(cfg *config.Config) (*http.Transport, error) {
	tlsConfig := &tls.Config{}

	if caFile := cfg.GetString("ca_cert_file"); caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle %s: %w", caFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificate in CA bundle %s", caFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.GetBool("insecure_skip_verify") {
		log.Warn("insecure_skip_verify is set: server certificate chains will NOT be verified")
		tlsConfig.InsecureSkipVerify = true
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if proxies := cfg.GetProxies(); proxies != nil {
		proxyURL, err := url.Parse(proxies.HTTPS)
		if err != nil || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", proxies.HTTPS)
		}
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			if proxies.Bypass(req.URL.Hostname()) {
				log.Debugf("NO_PROXY match for %s, connecting directly", req.URL.Hostname())
				return nil, nil
			}
			return proxyURL, nil
		}
	}

	return transport, nil
}

// NewHTTPClient creates the http.Client for intake connections. Every network
// operation carries the configured overall timeout; nothing blocks
// indefinitely.
func NewHTTPClient(cfg *config.Config) (*http.Client, error) {
	transport, err := CreateHTTPTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout:   time.Duration(cfg.GetInt("http_timeout")) * time.Second,
		Transport: transport,
	}, nil
}
