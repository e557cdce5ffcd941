// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		secret  []byte
		payload []byte
		prefix  string
	}{
		{
			name:    "basic payload",
			secret:  []byte("my-secret"),
			payload: []byte(`{"event":"charge.succeeded"}`),
			prefix:  DefaultSignaturePrefix,
		},
		{
			name:    "empty payload",
			secret:  []byte("my-secret"),
			payload: []byte{},
			prefix:  DefaultSignaturePrefix,
		},
		{
			name:    "bare hex digest",
			secret:  []byte("another-secret"),
			payload: []byte(`{"id":42}`),
			prefix:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sig := Sign(tt.secret, tt.payload, tt.prefix)
			assert.NotEmpty(t, sig)
			if tt.prefix != "" {
				assert.Contains(t, sig, tt.prefix)
			}

			// Round-trip: signature must verify.
			assert.True(t, VerifySignature(tt.secret, tt.payload, sig, tt.prefix),
				"signature round-trip verification failed")
		})
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	secret := []byte("test-secret")
	payload := []byte(`{"event":"ping"}`)
	valid := Sign(secret, payload, DefaultSignaturePrefix)

	tests := []struct {
		name      string
		secret    []byte
		payload   []byte
		signature string
		want      bool
	}{
		{
			name:      "valid signature",
			secret:    secret,
			payload:   payload,
			signature: valid,
			want:      true,
		},
		{
			name:      "wrong secret",
			secret:    []byte("other-secret"),
			payload:   payload,
			signature: valid,
			want:      false,
		},
		{
			name:      "tampered payload",
			secret:    secret,
			payload:   []byte(`{"event":"pong"}`),
			signature: valid,
			want:      false,
		},
		{
			name:      "missing prefix",
			secret:    secret,
			payload:   payload,
			signature: "deadbeef",
			want:      false,
		},
		{
			name:      "invalid hex",
			secret:    secret,
			payload:   payload,
			signature: DefaultSignaturePrefix + "not-hex!",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want,
				VerifySignature(tt.secret, tt.payload, tt.signature, DefaultSignaturePrefix))
		})
	}
}
