// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedFallback generates a throwaway key pair, signs blob with it, and
// writes blob, signature and public key into dir.
func signedFallback(t *testing.T, dir string, blob []byte) (blobPath, sigPath, pubPath string) {
	t.Helper()

	entity, err := openpgp.NewEntity("Hostinsight Test", "", "test@hostinsight.io", nil)
	require.NoError(t, err)

	var pub bytes.Buffer
	armorer, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(armorer))
	require.NoError(t, armorer.Close())

	var sig bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&sig, entity, bytes.NewReader(blob), nil))

	blobPath = filepath.Join(dir, ".fallback.yaml")
	sigPath = filepath.Join(dir, ".fallback.yaml.asc")
	pubPath = filepath.Join(dir, "hostinsight.pub.asc")
	require.NoError(t, os.WriteFile(blobPath, blob, 0o600))
	require.NoError(t, os.WriteFile(sigPath, sig.Bytes(), 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub.Bytes(), 0o644))
	return blobPath, sigPath, pubPath
}

func TestMergeVerifiedFallback(t *testing.T) {
	blob := []byte("base_url: fallback.example.com/agent\nupload_retries: 7\n")
	blobPath, sigPath, pubPath := signedFallback(t, t.TempDir(), blob)

	c := NewConfig()
	require.NoError(t, c.MergeVerifiedFallback(blobPath, sigPath, pubPath))

	assert.Equal(t, "fallback.example.com/agent", c.GetString("base_url"))
	assert.Equal(t, 7, c.GetInt("upload_retries"))
}

func TestFallbackNeverBeatsFileValues(t *testing.T) {
	blob := []byte("base_url: fallback.example.com/agent\n")
	blobPath, sigPath, pubPath := signedFallback(t, t.TempDir(), blob)

	path := filepath.Join(t.TempDir(), "hostinsight.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: file.example.com/agent\n"), 0o644))

	c := NewConfig()
	require.NoError(t, c.LoadFile(path))
	require.NoError(t, c.MergeVerifiedFallback(blobPath, sigPath, pubPath))

	assert.Equal(t, "file.example.com/agent", c.GetString("base_url"))
}

func TestTamperedFallbackIsIgnored(t *testing.T) {
	dir := t.TempDir()
	blob := []byte("base_url: fallback.example.com/agent\n")
	blobPath, sigPath, pubPath := signedFallback(t, dir, blob)

	// modify the blob after signing
	require.NoError(t, os.WriteFile(blobPath, []byte("base_url: evil.example.com/agent\n"), 0o600))

	c := NewConfig()
	err := c.MergeVerifiedFallback(blobPath, sigPath, pubPath)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)

	// not a single key of the tampered blob reaches the effective config
	assert.Equal(t, DefaultSite, c.GetString("base_url"))
}

func TestFallbackMissingSignature(t *testing.T) {
	dir := t.TempDir()
	blobPath, sigPath, pubPath := signedFallback(t, dir, []byte("base_url: x.example.com\n"))
	require.NoError(t, os.Remove(sigPath))

	c := NewConfig()
	err := c.MergeVerifiedFallback(blobPath, sigPath, pubPath)
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
	assert.Equal(t, DefaultSite, c.GetString("base_url"))
}

func TestFallbackUnverifiedWhenGPGDisabled(t *testing.T) {
	dir := t.TempDir()
	blobPath := filepath.Join(dir, ".fallback.yaml")
	require.NoError(t, os.WriteFile(blobPath, []byte("upload_retries: 9\n"), 0o600))

	c := NewConfig()
	c.Set("gpg", false)
	require.NoError(t, c.MergeVerifiedFallback(blobPath, blobPath+".asc", filepath.Join(dir, "absent.pub")))

	assert.Equal(t, 9, c.GetInt("upload_retries"))
}

func TestFallbackAbsentIsFine(t *testing.T) {
	dir := t.TempDir()
	c := NewConfig()
	assert.NoError(t, c.MergeVerifiedFallback(
		filepath.Join(dir, "absent.yaml"),
		filepath.Join(dir, "absent.yaml.asc"),
		filepath.Join(dir, "absent.pub")))
}

func TestVerifyDetachedRejectsForeignKey(t *testing.T) {
	dir := t.TempDir()
	blob := []byte("a: 1\n")
	_, sigPath, _ := signedFallback(t, dir, blob)

	// a different key pair than the one that signed
	otherDir := t.TempDir()
	_, _, otherPub := signedFallback(t, otherDir, blob)

	sig, err := os.ReadFile(sigPath)
	require.NoError(t, err)
	key, err := os.ReadFile(otherPub)
	require.NoError(t, err)

	assert.Error(t, VerifyDetached(key, blob, sig))
}
