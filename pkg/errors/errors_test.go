// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without cause",
			err:      New(CodeConnectorNotFound, "connector slack is not registered", nil),
			expected: "CONNECTOR_NOT_FOUND: connector slack is not registered",
		},
		{
			name:     "with cause",
			err:      New(CodeDatabaseFailed, "save failed", stderrors.New("disk full")),
			expected: "DATABASE_FAILED: save failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("root cause")
	err := New(CodeEncryptFailed, "sealing failed", cause)

	assert.True(t, stderrors.Is(err, cause))
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code   Code
		status int
	}{
		{CodeConnectorNotFound, http.StatusNotFound},
		{CodeConnectorNotConnected, http.StatusBadRequest},
		{CodeConnectorAlreadyConnected, http.StatusConflict},
		{CodeActionNotFound, http.StatusNotFound},
		{CodeActionFailed, http.StatusInternalServerError},
		{CodeOAuthStateInvalid, http.StatusBadRequest},
		{CodeWebhookVerificationFailed, http.StatusUnauthorized},
		{CodeEncryptionSecretRequired, http.StatusInternalServerError},
		{CodeCancelled, 499},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.status, New(tt.code, "x", nil).HTTPStatus())
		})
	}
}

func TestHTTPStatusOfWrappedError(t *testing.T) {
	t.Parallel()

	inner := New(CodeActionInputInvalid, "bad input", nil)
	wrapped := fmt.Errorf("calling action: %w", inner)

	assert.Equal(t, http.StatusBadRequest, HTTPStatusOf(wrapped))
	assert.Equal(t, CodeActionInputInvalid, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeActionInputInvalid))
}

func TestHTTPStatusOfUnknownError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusInternalServerError, HTTPStatusOf(stderrors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(stderrors.New("plain")))
}

func TestWithMeta(t *testing.T) {
	t.Parallel()

	err := New(CodeActionFailed, "handler blew up", nil).
		WithMeta("connector", "slack").
		WithMeta("action", "post")

	assert.Equal(t, "slack", err.Meta["connector"])
	assert.Equal(t, "post", err.Meta["action"])
}

func TestNewOAuthTokenExpired(t *testing.T) {
	t.Parallel()

	err := NewOAuthTokenExpired("mailchimp")
	assert.Equal(t, CodeOAuthRefreshFailed, err.Code)
	assert.Equal(t, http.StatusUnauthorized, err.HTTPStatus())
	assert.Equal(t, "mailchimp", err.Meta["connector"])
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	assert.NoError(t, FromContext(nil))

	err := FromContext(context.Canceled)
	require.Error(t, err)
	assert.Equal(t, CodeCancelled, CodeOf(err))
	assert.True(t, IsCancelled(err))

	plain := stderrors.New("not a context error")
	assert.Same(t, plain, FromContext(plain))
}

func TestIsValidation(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValidation(New(CodeConnectorConfigInvalid, "x", nil)))
	assert.True(t, IsValidation(New(CodeActionInputInvalid, "x", nil)))
	assert.True(t, IsValidation(New(CodeWebhookValidationFailed, "x", nil)))
	assert.False(t, IsValidation(New(CodeConnectorNotFound, "x", nil)))
	assert.False(t, IsValidation(stderrors.New("plain")))
}
