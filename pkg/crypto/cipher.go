// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto implements the at-rest field encryption used by the
// connectors library. Values are sealed with an AEAD and stored as three
// base64url segments joined by ":": IV, authentication tag, ciphertext. The
// format is normative so adapters written in other stacks can migrate keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/igniterhq/connectors/pkg/errors"
)

const (
	// SecretEnvVar is the environment variable holding the process-wide
	// encryption secret when none is injected through the builder.
	SecretEnvVar = "IGNITER_SECRET"

	// keySize is the AEAD key length. The secret is padded or truncated to
	// exactly this many bytes.
	keySize = 32

	// nonceSize is the IV length for both supported AEADs.
	nonceSize = 12

	// tagSize is the authentication tag length for both supported AEADs.
	tagSize = 16
)

// segmentPattern matches one base64-looking ciphertext segment. Both the
// url-safe and standard alphabets are accepted so records written by other
// runtimes still round-trip.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9+/_-]+={0,2}$`)

// Cipher seals and opens individual string values.
//
// Implementations must be safe for concurrent use; the manager shares one
// cipher across every request.
type Cipher interface {
	// Encrypt seals plain and returns the iv:tag:ciphertext encoding.
	Encrypt(plain string) (string, error)
	// Decrypt opens a value produced by Encrypt.
	Decrypt(encoded string) (string, error)
}

// EncryptFunc is a caller-supplied replacement for the built-in Encrypt.
type EncryptFunc func(plain string) (string, error)

// DecryptFunc is a caller-supplied replacement for the built-in Decrypt.
type DecryptFunc func(encoded string) (string, error)

// DeriveKey converts the process-wide secret into the fixed-size AEAD key by
// padding or truncating it to 32 bytes. An empty secret is an error: silent
// fallback keys would make every deployment share a key.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New(errors.CodeEncryptionSecretRequired,
			fmt.Sprintf("encryption secret is empty; set %s or supply a cipher", SecretEnvVar), nil)
	}
	key := make([]byte, keySize)
	copy(key, secret)
	return key, nil
}

// SecretFromEnv reads the encryption secret from the environment.
func SecretFromEnv() string {
	return os.Getenv(SecretEnvVar)
}

// aeadCipher implements Cipher over any AEAD with a 12-byte nonce and a
// 16-byte tag.
type aeadCipher struct {
	aead cipher.AEAD
}

var _ Cipher = (*aeadCipher)(nil)

// NewAESGCM returns the default cipher: AES-256-GCM keyed from secret.
func NewAESGCM(secret string) (Cipher, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.New(errors.CodeEncryptFailed, "failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.New(errors.CodeEncryptFailed, "failed to create GCM", err)
	}
	return &aeadCipher{aead: aead}, nil
}

// NewChaCha20Poly1305 returns an alternative AEAD cipher producing the same
// wire format. Useful on hosts without AES hardware support.
func NewChaCha20Poly1305(secret string) (Cipher, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.New(errors.CodeEncryptFailed, "failed to create chacha20poly1305", err)
	}
	return &aeadCipher{aead: aead}, nil
}

// Encrypt seals plain with a fresh random IV. Two calls with the same input
// produce different ciphertexts.
func (c *aeadCipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.New(errors.CodeEncryptFailed, "failed to generate IV", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plain), nil)
	// Seal appends the tag to the ciphertext; the wire format keeps them in
	// separate segments.
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		base64.RawURLEncoding.EncodeToString(nonce),
		base64.RawURLEncoding.EncodeToString(tag),
		base64.RawURLEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt opens an iv:tag:ciphertext value. Format violations and tag
// mismatches both surface as DECRYPT_FAILED.
func (c *aeadCipher) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", errors.Newf(errors.CodeDecryptFailed, "expected 3 ciphertext segments, got %d", len(parts))
	}

	nonce, err := decodeSegment(parts[0])
	if err != nil {
		return "", errors.New(errors.CodeDecryptFailed, "invalid IV segment", err)
	}
	tag, err := decodeSegment(parts[1])
	if err != nil {
		return "", errors.New(errors.CodeDecryptFailed, "invalid tag segment", err)
	}
	ciphertext, err := decodeSegment(parts[2])
	if err != nil {
		return "", errors.New(errors.CodeDecryptFailed, "invalid ciphertext segment", err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", errors.Newf(errors.CodeDecryptFailed, "invalid IV length %d", len(nonce))
	}

	plain, err := c.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", errors.New(errors.CodeDecryptFailed, "authentication failed", err)
	}
	return string(plain), nil
}

// decodeSegment decodes one base64 segment, accepting both the url-safe and
// standard alphabets with or without padding.
func decodeSegment(s string) ([]byte, error) {
	normalized := strings.NewReplacer("+", "-", "/", "_").Replace(strings.TrimRight(s, "="))
	return base64.RawURLEncoding.DecodeString(normalized)
}

// IsEncrypted reports whether s has the shape of a sealed value: exactly
// three non-empty base64-looking segments. It inspects shape only; a true
// result does not guarantee the value decrypts.
func IsEncrypted(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if !segmentPattern.MatchString(p) {
			return false
		}
	}
	return true
}

// Mask renders a sensitive value for display, keeping at most the trailing
// four characters.
func Mask(value string) string {
	const dots = "••••••••"
	if len(value) <= 8 {
		return dots
	}
	return dots + value[len(value)-4:]
}
