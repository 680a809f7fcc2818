// Package envelope decrypts origin notification envelopes into plain HTTP
// call descriptions. Pure functions, no I/O.
//
// An envelope carries three independently RSA-OAEP-encrypted secrets (AES key,
// IV, GCM tag) plus the AES-256-GCM ciphertext of a JSON call description.
// OAEP uses SHA-256 for both the digest and the MGF1 mask, with no label.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/eventqueue/agent/internal/domain"
)

// Decode recovers the call description from n. Every failure mode — OAEP
// decryption of a secret, the GCM integrity check on the payload, or a
// plaintext that is not a valid call description — surfaces as a
// *domain.DecryptError. A single corrupted bit in ciphertext or tag fails the
// GCM open; it can never produce silently wrong plaintext.
//
// After a successful open, any header named Host (in any casing) is dropped
// and replaced by the host of the destination URL, so the forwarded request
// matches its actual target rather than the caller's original host.
func Decode(n domain.Notification, key *rsa.PrivateKey) (domain.DecodedCall, error) {
	aesKey, err := decryptSecret(n.EncKey, key)
	if err != nil {
		return domain.DecodedCall{}, &domain.DecryptError{Err: fmt.Errorf("key: %w", err)}
	}
	iv, err := decryptSecret(n.EncIV, key)
	if err != nil {
		return domain.DecodedCall{}, &domain.DecryptError{Err: fmt.Errorf("iv: %w", err)}
	}
	tag, err := decryptSecret(n.EncTag, key)
	if err != nil {
		return domain.DecodedCall{}, &domain.DecryptError{Err: fmt.Errorf("tag: %w", err)}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(n.Ciphertext)
	if err != nil {
		return domain.DecodedCall{}, &domain.DecryptError{Err: fmt.Errorf("ciphertext: %w", err)}
	}

	plaintext, err := openGCM(aesKey, iv, tag, ciphertext)
	if err != nil {
		return domain.DecodedCall{}, &domain.DecryptError{Err: err}
	}

	var call domain.DecodedCall
	if err := json.Unmarshal(plaintext, &call); err != nil {
		return domain.DecodedCall{}, &domain.DecryptError{Err: fmt.Errorf("call description: %w", err)}
	}
	if call.Method == "" {
		return domain.DecodedCall{}, &domain.DecryptError{Err: fmt.Errorf("call description: missing method")}
	}

	host, err := destinationHost(n.DestinationURL)
	if err != nil {
		return domain.DecodedCall{}, &domain.DecryptError{Err: err}
	}
	call.Headers = rewriteHost(call.Headers, host)

	return call, nil
}

// decryptSecret base64-decodes s and opens it with label-less RSA-OAEP.
func decryptSecret(s string, key *rsa.PrivateKey) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, key, raw, nil)
}

// openGCM authenticates and decrypts ciphertext with AES-256-GCM. The origin
// transmits the tag separately; Go's GCM expects it appended to the ciphertext.
func openGCM(key, iv, tag, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, fmt.Errorf("gcm iv: %w", err)
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plaintext, nil
}

func destinationHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("destination url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("destination url %q has no host", rawURL)
	}
	return u.Hostname(), nil
}

// rewriteHost drops every Host header regardless of casing and sets the
// canonical one to the forwarding target's host.
func rewriteHost(headers map[string]string, host string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		if strings.EqualFold(k, "Host") {
			continue
		}
		out[k] = v
	}
	out["Host"] = host
	return out
}
