// Package credentials loads the agent's origin credentials and RSA key
// material from the config directory. Missing or unreadable files are
// configuration errors: fatal to the operation that needed them, surfaced as
// a server-side fault by the HTTP layer, and a reason to skip ingestor
// startup at boot.
package credentials

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotConfigured indicates the credential or key files are absent/invalid.
var ErrNotConfigured = errors.New("agent credentials not configured")

// Provider reads credential material from disk on every call, so files
// dropped in by the provisioning flow are picked up without a restart.
type Provider struct {
	configPath string
}

// New creates a Provider rooted at configPath.
func New(configPath string) *Provider {
	return &Provider{configPath: configPath}
}

// KeyPair returns the API key and secret used to authenticate against the
// origin. The credentials file holds them as two lines.
func (p *Provider) KeyPair() (key, secret string, err error) {
	data, err := os.ReadFile(filepath.Join(p.configPath, "credentials"))
	if err != nil {
		return "", "", fmt.Errorf("%w: read credentials: %v", ErrNotConfigured, err)
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return "", "", fmt.Errorf("%w: credentials file needs key and secret lines", ErrNotConfigured)
	}
	return strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1]), nil
}

// PrivateKey loads and parses the PEM-encoded RSA private key used by the
// envelope codec. Accepts both PKCS#1 and PKCS#8 encodings.
func (p *Provider) PrivateKey() (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(filepath.Join(p.configPath, "private.pem"))
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %v", ErrNotConfigured, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: private.pem is not valid PEM", ErrNotConfigured)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrNotConfigured, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private.pem does not hold an RSA key", ErrNotConfigured)
	}
	return key, nil
}

// Ready reports whether all files needed to run the ingestor exist.
func (p *Provider) Ready() bool {
	for _, name := range []string{"credentials", "public.pem", "private.pem"} {
		if _, err := os.Stat(filepath.Join(p.configPath, name)); err != nil {
			return false
		}
	}
	return true
}
