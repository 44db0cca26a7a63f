package remote

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// TLSConfig is the transport security of a service or client connection.
// A nil or disabled config means plain TCP.
type TLSConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`
	// Mutual requires and verifies the peer certificate on both sides.
	Mutual   bool   `yaml:"mutual" toml:"mutual" json:"mutual"`
	CertFile string `yaml:"cert_file" toml:"cert_file" json:"certFile"`
	KeyFile  string `yaml:"key_file" toml:"key_file" json:"keyFile"`
	CAFile   string `yaml:"ca_file" toml:"ca_file" json:"caFile"`
	// ServerName overrides the name the client verifies; defaults to the dial host.
	ServerName string `yaml:"server_name" toml:"server_name" json:"serverName"`
	// MinVersion is "1.2" (default) or "1.3".
	MinVersion string `yaml:"min_version" toml:"min_version" json:"minVersion"`
	// CipherSuites lists allowed suites by their crypto/tls names. Empty
	// means the Go defaults. Ignored for TLS 1.3.
	CipherSuites       []string `yaml:"cipher_suites" toml:"cipher_suites" json:"cipherSuites"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify" toml:"insecure_skip_verify" json:"insecureSkipVerify"`
}

func (c *TLSConfig) enabled() bool {
	return c != nil && c.Enabled
}

// ValidateServer checks the fields a listener needs.
func (c *TLSConfig) ValidateServer() error {
	if !c.enabled() {
		return nil
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	if c.Mutual && strings.TrimSpace(c.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return c.validateCommon()
}

// ValidateClient checks the fields a dialer needs.
func (c *TLSConfig) ValidateClient() error {
	if !c.enabled() {
		return nil
	}
	if c.Mutual && c.InsecureSkipVerify {
		return ErrTLSInsecureSkipNotAllow
	}
	if strings.TrimSpace(c.CAFile) == "" && !c.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if c.Mutual {
		if strings.TrimSpace(c.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return c.validateCommon()
}

func (c *TLSConfig) validateCommon() error {
	if _, err := ParseTLSVersion(c.MinVersion); err != nil {
		return err
	}
	_, err := ParseCipherSuites(c.CipherSuites)
	return err
}

// ServerConfig builds the crypto/tls listener configuration.
func (c *TLSConfig) ServerConfig() (*tls.Config, error) {
	if err := c.ValidateServer(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("remote: load server key pair: %w", err)
	}
	cfg, err := c.base()
	if err != nil {
		return nil, err
	}
	cfg.Certificates = []tls.Certificate{cert}
	cfg.ClientAuth = tls.NoClientCert
	if c.Mutual {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// ClientConfig builds the crypto/tls dialer configuration.
func (c *TLSConfig) ClientConfig() (*tls.Config, error) {
	if err := c.ValidateClient(); err != nil {
		return nil, err
	}
	cfg, err := c.base()
	if err != nil {
		return nil, err
	}
	cfg.ServerName = c.ServerName
	cfg.InsecureSkipVerify = c.InsecureSkipVerify
	if c.CAFile != "" {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if c.Mutual {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("remote: load client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (c *TLSConfig) base() (*tls.Config, error) {
	version, err := ParseTLSVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	suites, err := ParseCipherSuites(c.CipherSuites)
	if err != nil {
		return nil, err
	}
	return &tls.Config{MinVersion: version, CipherSuites: suites}, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("remote: read tls ca bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: %s", ErrTLSCAParse, path)
	}
	return pool, nil
}

// ParseTLSVersion maps "1.2" and "1.3" to crypto/tls constants. Empty means 1.2.
func ParseTLSVersion(s string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tls") {
	case "", "1.2", "12":
		return tls.VersionTLS12, nil
	case "1.3", "13":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrTLSVersion, s)
	}
}

// ParseCipherSuites maps crypto/tls suite names to ids. Insecure suites are
// rejected.
func ParseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrTLSCipherSuite, name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
