// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package config resolves the agent's effective configuration from, in
// precedence order: command-line overrides, the config file, environment
// derived proxy settings, the signature-verified fallback config, and
// hardcoded defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
)

// Default filesystem layout of the agent.
const (
	DefaultConfPath      = "/etc/hostinsight"
	DefaultConfFile      = DefaultConfPath + "/hostinsight.yaml"
	DefaultLogFile       = "/var/log/hostinsight/agent.log"
	DefaultLegacyConfDir = "/etc/hostinsight-client"
)

// DefaultSite is the default intake the agent sends data to.
const DefaultSite = "intake.hostinsight.io/r/agent"

const envPrefix = "HOSTINSIGHT"

// ConfigError reports malformed or unverifiable configuration input. It is
// recovered by falling back to defaults and is only fatal when no usable
// configuration remains.
type ConfigError struct {
	File string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.File, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Proxy represents the resolved outbound proxy settings.
type Proxy struct {
	HTTPS   string   `mapstructure:"https"`
	NoProxy []string `mapstructure:"no_proxy"`
}

// Bypass reports whether host must be reached directly, per the NO_PROXY
// convention: "*" disables the proxy for everything, a leading dot or star
// wildcard matches domain suffixes, anything else matches exactly.
func (p *Proxy) Bypass(host string) bool {
	for _, entry := range p.NoProxy {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case entry == "*":
			return true
		case strings.HasPrefix(entry, ".") || strings.HasPrefix(entry, "*"):
			if strings.HasSuffix(host, strings.TrimPrefix(entry, "*")) {
				return true
			}
		case entry == host:
			return true
		}
	}
	return false
}

// Config is the agent configuration. It embeds a viper instance so the usual
// Get/Set accessors are available directly.
type Config struct {
	*viper.Viper

	proxies *Proxy
}

// NewConfig builds a Config with the agent defaults applied and the
// environment bindings in place. Nothing is read from disk yet.
func NewConfig() *Config {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	c := &Config{Viper: v}
	c.initDefaults()
	return c
}

// BindEnvAndSetDefault sets a default for a key and binds it to
// HOSTINSIGHT_<KEY> in the environment.
func (c *Config) BindEnvAndSetDefault(key string, val interface{}) {
	c.SetDefault(key, val)
	c.BindEnv(key) //nolint:errcheck
}

func (c *Config) initDefaults() {
	// endpoints
	c.BindEnvAndSetDefault("base_url", DefaultSite)
	c.BindEnvAndSetDefault("api_url", "")
	c.BindEnvAndSetDefault("upload_url", "")
	c.BindEnvAndSetDefault("branch_info_url", "")
	c.BindEnvAndSetDefault("insecure_connection", false)

	// transport
	c.BindEnvAndSetDefault("proxy", "")
	c.BindEnvAndSetDefault("ca_cert_file", "")
	c.BindEnvAndSetDefault("insecure_skip_verify", false)
	c.BindEnvAndSetDefault("http_timeout", 120)

	// auth
	c.BindEnvAndSetDefault("authmethod", "BASIC")
	c.BindEnvAndSetDefault("username", "")
	c.BindEnvAndSetDefault("password", "")
	c.BindEnvAndSetDefault("systemid", "")

	// identity & registration
	c.BindEnvAndSetDefault("display_name", "")
	c.BindEnvAndSetDefault("group", "")

	// fallback config trust
	c.BindEnvAndSetDefault("auto_config", true)
	c.BindEnvAndSetDefault("gpg", true)
	c.BindEnvAndSetDefault("gpg_pubkey_path", DefaultConfPath+"/hostinsight.pub.asc")

	// collection & archive
	c.BindEnvAndSetDefault("collector_command", "/usr/libexec/hostinsight/collector")
	c.BindEnvAndSetDefault("compressor", "gz")

	// upload retry policy; the exact values are deliberately
	// configuration-exposed rather than hardcoded
	c.BindEnvAndSetDefault("upload_retries", 3)
	c.BindEnvAndSetDefault("upload_backoff_base", 2)
	c.BindEnvAndSetDefault("upload_backoff_max", 64)

	// scheduling & state
	c.BindEnvAndSetDefault("schedule_enabled", true)
	c.BindEnvAndSetDefault("state_dir", DefaultConfPath)
	c.BindEnvAndSetDefault("legacy_state_dir", DefaultLegacyConfDir)

	// logging
	c.BindEnvAndSetDefault("log_level", "info")
	c.BindEnvAndSetDefault("log_file", DefaultLogFile)
	c.BindEnvAndSetDefault("trace", false)
}

// LoadFile reads the config file at path. A missing file is not an error:
// the agent runs on defaults plus the verified fallback config.
func (c *Config) LoadFile(path string) error {
	c.SetConfigFile(path)
	if err := c.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Debugf("No config file at %s, using defaults", path)
			return nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debugf("No config file at %s, using defaults", path)
			return nil
		}
		return &ConfigError{File: path, Err: err}
	}
	return nil
}

// LoadProxyFromEnv resolves the outbound proxy. The config file's proxy beats
// the environment; NO_PROXY is only consulted for the environment proxy.
func (c *Config) LoadProxyFromEnv() {
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		v, _ := os.LookupEnv(strings.ToLower(key))
		return v
	}

	p := &Proxy{}
	if confProxy := c.GetString("proxy"); confProxy != "" && !strings.EqualFold(confProxy, "none") {
		p.HTTPS = confProxy
		if lookup("NO_PROXY") != "" {
			log.Debug("Both the proxy config setting and NO_PROXY are set; NO_PROXY will be ignored")
		}
	} else if envProxy := lookup("HTTPS_PROXY"); envProxy != "" {
		p.HTTPS = envProxy
		if noProxy := lookup("NO_PROXY"); noProxy != "" {
			p.NoProxy = strings.Split(noProxy, ",")
		}
	}

	if p.HTTPS == "" {
		c.proxies = nil
		return
	}
	log.Debugf("Using proxy %s for outbound connections", scrubProxyURL(p.HTTPS))
	c.proxies = p
}

// GetProxies returns the proxy settings resolved by LoadProxyFromEnv, or nil
// when connections are direct.
func (c *Config) GetProxies() *Proxy {
	return c.proxies
}

// scheme returns the URL scheme for intake connections. Plain HTTP really
// should not be used.
func (c *Config) scheme() string {
	if c.GetBool("insecure_connection") {
		return "http://"
	}
	return "https://"
}

// BaseURL returns the fully qualified intake base URL.
func (c *Config) BaseURL() string {
	return c.scheme() + c.GetString("base_url")
}

// APIURL returns the registration API endpoint.
func (c *Config) APIURL() string {
	if u := c.GetString("api_url"); u != "" {
		return u
	}
	return c.BaseURL()
}

// UploadURL returns the archive upload endpoint.
func (c *Config) UploadURL() string {
	if u := c.GetString("upload_url"); u != "" {
		return u
	}
	return c.BaseURL() + "/uploads"
}

// BranchInfoURL returns the management-topology probe endpoint.
func (c *Config) BranchInfoURL() string {
	if u := c.GetString("branch_info_url"); u != "" {
		return u
	}
	return c.BaseURL() + "/v1/branch_info"
}

// ValidateEndpoints checks that the resolved endpoints carry a scheme and a
// host, catching truncated config values before any network call.
func (c *Config) ValidateEndpoints() error {
	for _, raw := range []string{c.APIURL(), c.UploadURL(), c.BranchInfoURL()} {
		u, err := url.Parse(raw)
		if err != nil {
			return &ConfigError{File: raw, Err: err}
		}
		if u.Scheme == "" || u.Host == "" {
			return &ConfigError{File: raw, Err: fmt.Errorf("missing scheme or host")}
		}
	}
	return nil
}

func scrubProxyURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "********")
	return u.String()
}
