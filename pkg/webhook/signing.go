// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package webhook implements payload signing and the ready-made verifier
// functions connectors plug into their webhook definitions.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultSignatureHeader is the header most providers carry their HMAC
// signature in when nothing more specific is configured.
const DefaultSignatureHeader = "X-Webhook-Signature"

// DefaultSignaturePrefix is the conventional prefix for hex HMAC-SHA256
// signature values.
const DefaultSignaturePrefix = "sha256="

// Sign computes an HMAC-SHA256 signature over payload and returns it as
// "<prefix><hex>". Used by tests and by hosts that simulate provider
// deliveries.
func Sign(secret, payload []byte, prefix string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an HMAC-SHA256 signature in "<prefix><hex>" form
// against payload. Comparison is constant time.
func VerifySignature(secret, payload []byte, signature, prefix string) bool {
	if prefix != "" && !strings.HasPrefix(signature, prefix) {
		return false
	}

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)

	return hmac.Equal(mac.Sum(nil), sigBytes)
}
