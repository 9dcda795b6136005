package discordato

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminSetupPayloadValidation(t *testing.T) {
	t.Parallel()

	good := adminSetupPayload{
		Username:        "admin",
		Password:        "hunter22",
		ConfirmPassword: "hunter22",
	}
	require.NoError(t, structValidator.Struct(good))

	mismatch := good
	mismatch.ConfirmPassword = "hunter23"
	assert.Error(t, structValidator.Struct(mismatch))

	missing := adminSetupPayload{Username: "admin"}
	assert.Error(t, structValidator.Struct(missing))
}

func TestAPIConfigValidation(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.NoError(t, structValidator.Struct(cfg.API))

	bad := cfg.API
	bad.ListenNetwork = "carrier-pigeon"
	assert.Error(t, structValidator.Struct(bad))
}

func TestAPITLSConfigSelfSignedFallback(t *testing.T) {
	t.Parallel()
	config := &APIConfig{
		SSL: SSLConfig{TLSMinVersion: tls.VersionTLS12},
	}
	tlsCfg, err := apiTLSConfig(config, testLogger())
	require.NoError(t, err)
	require.Len(t, tlsCfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsCfg.MinVersion)
}

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cert, err := generateSelfSignedCert(
		filepath.Join(dir, "cert.pem"),
		filepath.Join(dir, "key.pem"),
	)
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)

	assert.FileExists(t, filepath.Join(dir, "cert.pem"))
	assert.FileExists(t, filepath.Join(dir, "key.pem"))
}
