package tls

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	c, err := Setup(Config{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetupAutoGenerates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	c, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true, Hosts: []string{"agent.local", "10.0.0.5"}})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, uint16(0x0304), c.MinVersion)

	cert, err := c.GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"agent.local"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "10.0.0.5", leaf.IPAddresses[0].String())

	fi, err := os.Stat(filepath.Join(dir, keyName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	// an existing pair is reused
	before, _ := os.ReadFile(filepath.Join(dir, certName))
	_, err = Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	after, _ := os.ReadFile(filepath.Join(dir, certName))
	assert.Equal(t, before, after)
}

func TestSetupExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	cp, kp := filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key")
	require.NoError(t, GenerateSelfSigned(CertConfig{CommonName: "x", Hosts: []string{"x"}, NotAfter: time.Now().Add(time.Hour), CertPath: cp, KeyPath: kp}))
	b, _ := os.ReadFile(cp)
	blk, _ := pem.Decode(b)
	require.NotNil(t, blk)

	c, err := Setup(Config{Enabled: true, CertFile: cp, KeyFile: kp, MinVersion: "1.2"})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0303), c.MinVersion)
}

func TestSetupErrors(t *testing.T) {
	_, err := Setup(Config{Enabled: true})
	assert.Error(t, err)
	_, err = Setup(Config{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err, "missing files without auto_generate")
	_, err = Setup(Config{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.0"})
	assert.Error(t, err)
}
