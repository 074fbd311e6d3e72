// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/spf13/viper"

	"github.com/hostinsight/hostinsight-agent/pkg/util/log"
)

// VerifyDetached checks an armored detached signature over signed against the
// armored keyring. It is a pure function: verification failures have no side
// effects beyond the returned error.
func VerifyDetached(keyring, signed, signature []byte) error {
	kr, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(keyring))
	if err != nil {
		return fmt.Errorf("reading public keyring: %w", err)
	}
	_, err = openpgp.CheckArmoredDetachedSignature(kr, bytes.NewReader(signed), bytes.NewReader(signature), nil)
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// MergeVerifiedFallback layers the cached fallback config at blobPath over
// the hardcoded defaults, but only after its detached signature at sigPath
// verifies against the public key at pubKeyPath. On verification failure the
// blob is ignored for this run: no key of it reaches the effective config.
//
// File and environment values still win over fallback values; only defaults
// are overridden.
func (c *Config) MergeVerifiedFallback(blobPath, sigPath, pubKeyPath string) error {
	blob, err := os.ReadFile(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("No cached fallback config at %s", blobPath)
			return nil
		}
		return &ConfigError{File: blobPath, Err: err}
	}

	if c.GetBool("gpg") {
		sig, err := os.ReadFile(sigPath)
		if err != nil {
			return &ConfigError{File: sigPath, Err: fmt.Errorf("fallback config present but unreadable signature: %w", err)}
		}
		key, err := os.ReadFile(pubKeyPath)
		if err != nil {
			return &ConfigError{File: pubKeyPath, Err: err}
		}
		if err := VerifyDetached(key, blob, sig); err != nil {
			return &ConfigError{File: blobPath, Err: err}
		}
	} else {
		log.Warn("GPG VERIFICATION DISABLED, trusting fallback config without a signature check")
	}

	fv := viper.New()
	fv.SetConfigType("yaml")
	if err := fv.ReadConfig(bytes.NewReader(blob)); err != nil {
		return &ConfigError{File: blobPath, Err: err}
	}
	for _, key := range fv.AllKeys() {
		c.SetDefault(key, fv.Get(key))
	}
	log.Debugf("Merged verified fallback config from %s", blobPath)
	return nil
}
