// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"strings"

	"github.com/igniterhq/connectors/pkg/errors"
)

// DefaultEncryptedFields is the encryption policy applied when the host does
// not configure one. Paths with dots traverse nested maps.
var DefaultEncryptedFields = []string{
	"apiKey",
	"apiSecret",
	"accessToken",
	"refreshToken",
	"token",
	"secret",
	"password",
	"privateKey",
	"oauth.accessToken",
	"oauth.refreshToken",
}

// Codec applies the encryption policy to whole config maps. It pairs an
// encrypt/decrypt implementation (built-in cipher or caller-supplied funcs)
// with the list of fields to protect.
type Codec struct {
	encrypt EncryptFunc
	decrypt DecryptFunc
	fields  []string
}

// NewCodec builds a Codec over a Cipher.
func NewCodec(c Cipher, fields []string) *Codec {
	return NewCodecWithFuncs(c.Encrypt, c.Decrypt, fields)
}

// NewCodecWithFuncs builds a Codec over caller-supplied encrypt/decrypt
// functions. The built-in key is never derived on this path.
func NewCodecWithFuncs(encrypt EncryptFunc, decrypt DecryptFunc, fields []string) *Codec {
	if fields == nil {
		fields = DefaultEncryptedFields
	}
	owned := make([]string, len(fields))
	copy(owned, fields)
	return &Codec{
		encrypt: encrypt,
		decrypt: decrypt,
		fields:  owned,
	}
}

// Fields returns a copy of the encryption policy.
func (c *Codec) Fields() []string {
	out := make([]string, len(c.fields))
	copy(out, c.fields)
	return out
}

// EncryptConfig returns a copy of cfg with every policy field that holds a
// plain string replaced by its sealed form. Values already recognized as
// ciphertext are left alone, so round-tripped configs never double-encrypt.
func (c *Codec) EncryptConfig(cfg map[string]any) (map[string]any, error) {
	out := copyMap(cfg)
	for _, field := range c.fields {
		value, ok := lookupPath(out, field)
		if !ok {
			continue
		}
		plain, ok := value.(string)
		if !ok || IsEncrypted(plain) {
			continue
		}
		sealed, err := c.encrypt(plain)
		if err != nil {
			if _, ok := errors.As(err); ok {
				return nil, err
			}
			return nil, errors.New(errors.CodeEncryptFailed, "encrypting field "+field, err)
		}
		setPath(out, field, sealed)
	}
	return out, nil
}

// DecryptConfig returns a copy of cfg with every policy field that passes
// IsEncrypted replaced by its plain form.
func (c *Codec) DecryptConfig(cfg map[string]any) (map[string]any, error) {
	out := copyMap(cfg)
	for _, field := range c.fields {
		value, ok := lookupPath(out, field)
		if !ok {
			continue
		}
		sealed, ok := value.(string)
		if !ok || !IsEncrypted(sealed) {
			continue
		}
		plain, err := c.decrypt(sealed)
		if err != nil {
			if _, ok := errors.As(err); ok {
				return nil, err
			}
			return nil, errors.New(errors.CodeDecryptFailed, "decrypting field "+field, err)
		}
		setPath(out, field, plain)
	}
	return out, nil
}

// lookupPath resolves a dot-separated path through nested string-keyed maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	current := m
	for i, seg := range segments {
		value, ok := current[seg]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return value, true
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

// setPath writes a value at a dot-separated path. Intermediate maps must
// already exist; lookupPath succeeding beforehand guarantees that.
func setPath(m map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	current := m
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

// copyMap deep-copies nested maps and slices so codec output never aliases
// caller-owned config.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return copyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
