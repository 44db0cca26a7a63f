package remote

import (
	"crypto/tls"
	"testing"

	"github.com/GoCodeAlone/labmodular/internal/testutil/tlstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLSConfigDisabledNeedsNothing(t *testing.T) {
	var nilCfg *TLSConfig
	assert.NoError(t, nilCfg.ValidateServer())
	assert.NoError(t, nilCfg.ValidateClient())
	assert.NoError(t, (&TLSConfig{}).ValidateServer())
}

func TestTLSConfigServerValidation(t *testing.T) {
	assert.ErrorIs(t, (&TLSConfig{Enabled: true}).ValidateServer(), ErrTLSCertFileRequired)
	assert.ErrorIs(t, (&TLSConfig{Enabled: true, CertFile: "c"}).ValidateServer(), ErrTLSKeyFileRequired)
	assert.ErrorIs(t, (&TLSConfig{Enabled: true, Mutual: true, CertFile: "c", KeyFile: "k"}).ValidateServer(), ErrTLSCAFileRequired)
	assert.ErrorIs(t, (&TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.0"}).ValidateServer(), ErrTLSVersion)
	assert.ErrorIs(t, (&TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", CipherSuites: []string{"TLS_RSA_WITH_RC4_128_SHA"}}).ValidateServer(), ErrTLSCipherSuite)
}

func TestTLSConfigClientValidation(t *testing.T) {
	assert.ErrorIs(t, (&TLSConfig{Enabled: true}).ValidateClient(), ErrTLSCAFileRequired)
	assert.NoError(t, (&TLSConfig{Enabled: true, InsecureSkipVerify: true}).ValidateClient())
	assert.ErrorIs(t, (&TLSConfig{Enabled: true, Mutual: true, InsecureSkipVerify: true}).ValidateClient(), ErrTLSInsecureSkipNotAllow)
	assert.ErrorIs(t, (&TLSConfig{Enabled: true, Mutual: true, CAFile: "ca"}).ValidateClient(), ErrTLSCertFileRequired)
	assert.ErrorIs(t, (&TLSConfig{Enabled: true, Mutual: true, CAFile: "ca", CertFile: "c"}).ValidateClient(), ErrTLSKeyFileRequired)
}

func TestParseTLSVersion(t *testing.T) {
	for in, want := range map[string]uint16{"": tls.VersionTLS12, "1.2": tls.VersionTLS12, "TLS1.3": tls.VersionTLS13, "13": tls.VersionTLS13} {
		got, err := ParseTLSVersion(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseCipherSuites(t *testing.T) {
	ids, err := ParseCipherSuites([]string{"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256"})
	require.NoError(t, err)
	assert.Equal(t, []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256}, ids)

	ids, err = ParseCipherSuites(nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestServerAndClientConfigs(t *testing.T) {
	ca := tlstest.NewCA(t, "lab-ca")
	server := ca.Server(t, "lab-server")
	client := ca.Client(t, "lab-client")

	srv, err := (&TLSConfig{Enabled: true, Mutual: true, CertFile: server.CertFile, KeyFile: server.KeyFile, CAFile: ca.CAFile(), MinVersion: "1.3"}).ServerConfig()
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, srv.ClientAuth)
	assert.Equal(t, uint16(tls.VersionTLS13), srv.MinVersion)
	assert.NotNil(t, srv.ClientCAs)

	cli, err := (&TLSConfig{Enabled: true, Mutual: true, CertFile: client.CertFile, KeyFile: client.KeyFile, CAFile: ca.CAFile()}).ClientConfig()
	require.NoError(t, err)
	assert.Len(t, cli.Certificates, 1)
	assert.NotNil(t, cli.RootCAs)
}
