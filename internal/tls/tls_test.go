package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTLSDisabled(t *testing.T) {
	cfg, err := SetupTLS(Config{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestSetupTLSAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	cfg, err := SetupTLS(Config{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.2"})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MaxVersion)

	for _, name := range []string{tlsCrt, tlsKey, tlsCaCrt} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)
}

func TestSetupTLSExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenerateSelfSignedCert(CertConfig{
		CommonName: "ark.local",
		CertPath:   filepath.Join(dir, "server.crt"),
		KeyPath:    filepath.Join(dir, "server.key"),
		NotAfter:   timeInDays(1),
	}))
	cfg, err := SetupTLS(Config{Enabled: true, CertFile: filepath.Join(dir, "server.crt"), KeyFile: filepath.Join(dir, "server.key")})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)

	_, err = SetupTLS(Config{Enabled: true, CertFile: filepath.Join(dir, "missing.crt"), KeyFile: filepath.Join(dir, "server.key")})
	assert.Error(t, err)
}

func TestSetupTLSErrors(t *testing.T) {
	_, err := SetupTLS(Config{Enabled: true})
	assert.Error(t, err)
	_, err = SetupTLS(Config{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestSafeReadFileOutsideBase(t *testing.T) {
	base := t.TempDir()
	_, err := safeReadFile(base, filepath.Join(base, "..", "escape.pem"))
	assert.Error(t, err)
}

func timeInDays(n int) time.Time { return time.Now().AddDate(0, 0, n) }
