// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Request is the inbound webhook delivery as the verifier sees it: the raw
// body plus the transport metadata a signature may cover.
type Request struct {
	// Method is the HTTP method of the delivery
	Method string

	// Path is the request path as received
	Path string

	// Headers are the request headers
	Headers http.Header

	// Body is the raw, unparsed request body
	Body []byte
}

// VerifyFunc decides whether a webhook delivery is authentic. It receives
// the raw request and the decrypted connection config; returning false
// rejects the delivery with a verification failure.
type VerifyFunc func(req *Request, config map[string]any) bool

// secretFromConfig reads a signing secret out of the decrypted config by
// dot-separated path.
func secretFromConfig(config map[string]any, field string) (string, bool) {
	var current any = config
	for _, seg := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current = m[seg]
	}
	secret, ok := current.(string)
	return secret, ok && secret != ""
}

// HMACVerifier returns a VerifyFunc checking a hex HMAC-SHA256 signature
// over the raw body. The signature is read from header, the secret from the
// decrypted config at secretField ("signingSecret", "webhook.signingSecret",
// ...). prefix is stripped from the header value before comparison; pass ""
// for providers that send the bare hex digest.
func HMACVerifier(header, secretField, prefix string) VerifyFunc {
	return func(req *Request, config map[string]any) bool {
		secret, ok := secretFromConfig(config, secretField)
		if !ok {
			return false
		}
		signature := req.Headers.Get(header)
		if signature == "" {
			return false
		}
		return VerifySignature([]byte(secret), req.Body, signature, prefix)
	}
}

// JWTVerifier returns a VerifyFunc for providers that sign deliveries with
// an HS256 JWT carried in header (with or without a "Bearer " prefix). The
// signing secret comes from the decrypted config at secretField. Claims are
// not inspected beyond the registered validation jwt/v5 applies (exp, nbf).
func JWTVerifier(header, secretField string) VerifyFunc {
	return func(req *Request, config map[string]any) bool {
		secret, ok := secretFromConfig(config, secretField)
		if !ok {
			return false
		}
		raw := strings.TrimPrefix(req.Headers.Get(header), "Bearer ")
		if raw == "" {
			return false
		}
		token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		return err == nil && token.Valid
	}
}
