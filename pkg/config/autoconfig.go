// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package config

import (
	"bufio"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
)

// Path appended to a management server's base host when the intake is reached
// through it rather than directly.
const managedBasePath = "/hostinsight"

// hostedAPIHost is the direct intake host used when the management config
// points at the vendor's own subscription service.
const hostedAPIHost = "intake.hostinsight.io/r/agent"

// AutoConfig probes whether the host is enrolled in a systems-management
// product and, if so, derives endpoint and proxy values from that enrollment.
type AutoConfig struct {
	// SubMgrConfPath is the subscription-manager style INI config with
	// [server] hostname/port/proxy_* keys.
	SubMgrConfPath string
	// LegacyConfPath is the up2date style key=value config of the older
	// management stack.
	LegacyConfPath string
	// SystemIDPath identifies this host to the legacy management stack.
	SystemIDPath string
	// HostedHostnames are server hostnames that mean "directly connected",
	// in which case the intake is used as-is instead of routing through the
	// management server.
	HostedHostnames []string
	// Verify is the connectivity probe run before derived settings are
	// committed. A nil Verify accepts unconditionally (tests only).
	Verify func(c *Config) bool
}

// NewAutoConfig returns an AutoConfig with the production probe paths.
func NewAutoConfig() *AutoConfig {
	return &AutoConfig{
		SubMgrConfPath:  "/etc/rhsm/rhsm.conf",
		LegacyConfPath:  "/etc/sysconfig/rhn/up2date",
		SystemIDPath:    "/etc/sysconfig/rhn/systemid",
		HostedHostnames: []string{"subscription.hostinsight.io"},
	}
}

// TryAutoConfiguration attempts to derive configuration from a management
// enrollment. It returns true when derived settings were committed.
func (a *AutoConfig) TryAutoConfiguration(c *Config) bool {
	if a.trySubscriptionManager(c) {
		return true
	}
	return a.tryLegacyManagement(c)
}

func (a *AutoConfig) trySubscriptionManager(c *Config) bool {
	log.Debug("Trying subscription-manager auto configuration")
	f, err := os.Open(a.SubMgrConfPath)
	if err != nil {
		log.Debugf("No subscription-manager config: %v", err)
		return false
	}
	defer f.Close()

	ini := viper.New()
	ini.SetConfigType("ini")
	if err := ini.ReadConfig(f); err != nil {
		log.Debugf("Could not parse %s: %v", a.SubMgrConfPath, err)
		return false
	}

	hostname := strings.TrimSpace(ini.GetString("server.hostname"))
	if hostname == "" {
		log.Debug("subscription-manager config has no server hostname")
		return false
	}
	port := strings.TrimSpace(ini.GetString("server.port"))

	var proxy string
	if proxyHost := strings.TrimSpace(ini.GetString("server.proxy_hostname")); proxyHost != "" {
		proxyPort := strings.TrimSpace(ini.GetString("server.proxy_port"))
		proxyUser := strings.TrimSpace(ini.GetString("server.proxy_user"))
		proxyPass := strings.TrimSpace(ini.GetString("server.proxy_password"))
		proxy = "http://"
		if proxyUser != "" && proxyPass != "" {
			proxy += proxyUser + ":" + proxyPass + "@"
		}
		proxy += proxyHost
		if proxyPort != "" {
			proxy += ":" + proxyPort
		}
		log.Debugf("Found management proxy %s", scrubProxyURL(proxy))
	}

	caCert := strings.TrimSpace(ini.GetString("rhsm.repo_ca_cert"))

	if a.isHosted(hostname) {
		// Directly connected; talk to the intake with its own trust anchors.
		log.Debug("Directly connected to the hosted service, using the intake API")
		hostname = hostedAPIHost
		caCert = ""
	} else {
		if port != "" {
			hostname = hostname + ":" + port
		}
		hostname += managedBasePath
	}

	return a.commit(c, map[string]string{
		"base_url":     hostname,
		"ca_cert_file": caCert,
		"proxy":        proxy,
		"authmethod":   "CERT",
	})
}

func (a *AutoConfig) isHosted(hostname string) bool {
	for _, h := range a.HostedHostnames {
		if hostname == h {
			return true
		}
	}
	return false
}

// tryLegacyManagement parses the up2date style config: flat key=value lines,
// no sections, '#' comments.
func (a *AutoConfig) tryLegacyManagement(c *Config) bool {
	log.Debug("Trying legacy management auto configuration")
	f, err := os.Open(a.LegacyConfPath)
	if err != nil {
		log.Debugf("No legacy management config: %v", err)
		return false
	}
	defer f.Close()

	systemID, err := os.ReadFile(a.SystemIDPath)
	if err != nil {
		log.Debug("Could not find legacy management system id file")
		return false
	}

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		log.Debugf("Could not read %s: %v", a.LegacyConfPath, err)
		return false
	}

	serverURL := values["serverURL"]
	if serverURL == "" {
		log.Debug("Legacy management config has no serverURL")
		return false
	}
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		log.Debugf("Invalid serverURL in %s", a.LegacyConfPath)
		return false
	}
	hostname := u.Host + managedBasePath

	var proxy string
	if values["enableProxy"] == "1" && values["httpProxy"] != "" {
		proxy = "http://"
		if values["proxyUser"] != "" && values["proxyPassword"] != "" {
			proxy += values["proxyUser"] + ":" + values["proxyPassword"] + "@"
		}
		proxy += values["httpProxy"]
		log.Debugf("Found legacy management proxy %s", scrubProxyURL(proxy))
	}

	return a.commit(c, map[string]string{
		"base_url":     hostname,
		"ca_cert_file": values["sslCACert"],
		"proxy":        proxy,
		"systemid":     strings.TrimSpace(string(systemID)),
	})
}

// commit applies the derived settings, runs the connectivity probe, and
// reverts every derived key if the probe fails. A failed probe must leave
// no trace of the attempt, not just the endpoint keys.
func (a *AutoConfig) commit(c *Config, derived map[string]string) bool {
	log.Debugf("Attempting to auto configure base URL %s", derived["base_url"])
	saved := make(map[string]string, len(derived))
	for key := range derived {
		saved[key] = c.GetString(key)
	}
	for key, val := range derived {
		if val != "" {
			c.Set(key, val)
		}
	}
	c.LoadProxyFromEnv()

	if a.Verify != nil && !a.Verify(c) {
		log.Warn("Could not auto configure, falling back to static config")
		for key, val := range saved {
			c.Set(key, val)
		}
		c.LoadProxyFromEnv()
		return false
	}
	return true
}
