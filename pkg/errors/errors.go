// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the stable error taxonomy for the connectors
// library. Every failure that crosses a package boundary carries one of the
// codes below; hosts dispatch on the code, never the message.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, machine-readable identifier of an error class.
type Code string

// Error codes
const (
	// CodeConnectorNotFound is returned when a connector key is not registered
	CodeConnectorNotFound Code = "CONNECTOR_NOT_FOUND"

	// CodeConnectorNotConnected is returned when no record exists for (scope, identity, provider)
	CodeConnectorNotConnected Code = "CONNECTOR_NOT_CONNECTED"

	// CodeConnectorAlreadyConnected is returned when a record already exists and the operation forbids it
	CodeConnectorAlreadyConnected Code = "CONNECTOR_ALREADY_CONNECTED"

	// CodeConnectorConfigInvalid is returned when a connector config fails schema or hook validation
	CodeConnectorConfigInvalid Code = "CONNECTOR_CONFIG_INVALID"

	// CodeConnectorDefaultConfigRequired is returned when a non-scoped action needs a default config
	CodeConnectorDefaultConfigRequired Code = "CONNECTOR_DEFAULT_CONFIG_REQUIRED"

	// CodeActionNotFound is returned when an action name is not defined on the connector
	CodeActionNotFound Code = "ACTION_NOT_FOUND"

	// CodeActionInputInvalid is returned when action input fails schema validation
	CodeActionInputInvalid Code = "ACTION_INPUT_INVALID"

	// CodeActionOutputInvalid is returned when action output fails schema validation
	CodeActionOutputInvalid Code = "ACTION_OUTPUT_INVALID"

	// CodeActionFailed is returned when an action handler fails
	CodeActionFailed Code = "ACTION_FAILED"

	// CodeScopeInvalid is returned when a scope key is not registered
	CodeScopeInvalid Code = "SCOPE_INVALID"

	// CodeScopeIdentifierRequired is returned when a required scope is derived without an identity
	CodeScopeIdentifierRequired Code = "SCOPE_IDENTIFIER_REQUIRED"

	// CodeDatabaseRequired is returned when the storage adapter is missing
	CodeDatabaseRequired Code = "DATABASE_REQUIRED"

	// CodeDatabaseFailed is returned when the storage adapter fails
	CodeDatabaseFailed Code = "DATABASE_FAILED"

	// CodeOAuthNotConfigured is returned when OAuth is used on a connector without OAuth options
	CodeOAuthNotConfigured Code = "OAUTH_NOT_CONFIGURED"

	// CodeOAuthStateInvalid is returned when a callback state is missing, expired, or already consumed
	CodeOAuthStateInvalid Code = "OAUTH_STATE_INVALID"

	// CodeOAuthTokenFailed is returned when the token endpoint rejects the exchange
	CodeOAuthTokenFailed Code = "OAUTH_TOKEN_FAILED"

	// CodeOAuthParseTokenFailed is returned when a token response carries no recognizable access token
	CodeOAuthParseTokenFailed Code = "OAUTH_PARSE_TOKEN_FAILED"

	// CodeOAuthParseUserInfoFailed is returned when the user-info response cannot be parsed
	CodeOAuthParseUserInfoFailed Code = "OAUTH_PARSE_USERINFO_FAILED"

	// CodeOAuthRefreshFailed is returned when tokens are expired and refresh is impossible or failed
	CodeOAuthRefreshFailed Code = "OAUTH_REFRESH_FAILED"

	// CodeWebhookNotConfigured is returned when a webhook request targets a connector without a webhook block
	CodeWebhookNotConfigured Code = "WEBHOOK_NOT_CONFIGURED"

	// CodeWebhookValidationFailed is returned when a webhook payload fails schema validation
	CodeWebhookValidationFailed Code = "WEBHOOK_VALIDATION_FAILED"

	// CodeWebhookVerificationFailed is returned when the webhook secret or signature does not verify
	CodeWebhookVerificationFailed Code = "WEBHOOK_VERIFICATION_FAILED"

	// CodeEncryptFailed is returned when field encryption fails
	CodeEncryptFailed Code = "ENCRYPT_FAILED"

	// CodeDecryptFailed is returned when field decryption fails (format or tag mismatch)
	CodeDecryptFailed Code = "DECRYPT_FAILED"

	// CodeEncryptionSecretRequired is returned when built-in crypto is used without a secret
	CodeEncryptionSecretRequired Code = "ENCRYPTION_SECRET_REQUIRED"

	// CodeBuildConfigRequired is returned when Build is called without a storage adapter
	CodeBuildConfigRequired Code = "BUILD_CONFIG_REQUIRED"

	// CodeBuildScopesRequired is returned when Build is called without scope definitions
	CodeBuildScopesRequired Code = "BUILD_SCOPES_REQUIRED"

	// CodeBuildConnectorsRequired is returned when Build is called without connectors
	CodeBuildConnectorsRequired Code = "BUILD_CONNECTORS_REQUIRED"

	// CodeCancelled is returned when the ambient context is cancelled mid-operation
	CodeCancelled Code = "CANCELLED"
)

// statusCodes maps every error code to the HTTP status a host should answer
// with when the error reaches its boundary.
var statusCodes = map[Code]int{
	CodeConnectorNotFound:              http.StatusNotFound,
	CodeConnectorNotConnected:          http.StatusBadRequest,
	CodeConnectorAlreadyConnected:      http.StatusConflict,
	CodeConnectorConfigInvalid:         http.StatusBadRequest,
	CodeConnectorDefaultConfigRequired: http.StatusBadRequest,
	CodeActionNotFound:                 http.StatusNotFound,
	CodeActionInputInvalid:             http.StatusBadRequest,
	CodeActionOutputInvalid:            http.StatusInternalServerError,
	CodeActionFailed:                   http.StatusInternalServerError,
	CodeScopeInvalid:                   http.StatusBadRequest,
	CodeScopeIdentifierRequired:        http.StatusBadRequest,
	CodeDatabaseRequired:               http.StatusInternalServerError,
	CodeDatabaseFailed:                 http.StatusInternalServerError,
	CodeOAuthNotConfigured:             http.StatusBadRequest,
	CodeOAuthStateInvalid:              http.StatusBadRequest,
	CodeOAuthTokenFailed:               http.StatusInternalServerError,
	CodeOAuthParseTokenFailed:          http.StatusInternalServerError,
	CodeOAuthParseUserInfoFailed:       http.StatusInternalServerError,
	CodeOAuthRefreshFailed:             http.StatusInternalServerError,
	CodeWebhookNotConfigured:           http.StatusBadRequest,
	CodeWebhookValidationFailed:        http.StatusBadRequest,
	CodeWebhookVerificationFailed:      http.StatusUnauthorized,
	CodeEncryptFailed:                  http.StatusInternalServerError,
	CodeDecryptFailed:                  http.StatusInternalServerError,
	CodeEncryptionSecretRequired:       http.StatusInternalServerError,
	CodeBuildConfigRequired:            http.StatusInternalServerError,
	CodeBuildScopesRequired:            http.StatusInternalServerError,
	CodeBuildConnectorsRequired:        http.StatusInternalServerError,
	CodeCancelled:                      499, // client closed request
}

// Error represents a failure in the connectors library.
type Error struct {
	// Code is the stable error code
	Code Code

	// Message is the human-readable error message
	Message string

	// Meta carries structured metadata about the failure (scope, connector, action, ...)
	Meta map[string]any

	// Cause is the underlying error
	Cause error

	// status overrides the code's default HTTP status when non-zero
	status int
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status for this error.
func (e *Error) HTTPStatus() int {
	if e.status != 0 {
		return e.status
	}
	if s, ok := statusCodes[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithMeta attaches one metadata key-value pair and returns the error.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// WithStatus overrides the HTTP status derived from the code.
func (e *Error) WithStatus(status int) *Error {
	e.status = status
	return e
}

// New creates a new error with the given code.
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Newf creates a new error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// As unwraps err to an *Error if one is anywhere in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := stderrors.As(err, &e)
	return e, ok
}

// CodeOf returns the code of the first *Error in the chain, or "" when none.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// HTTPStatusOf returns the HTTP status for err, defaulting to 500 for errors
// outside the taxonomy.
func HTTPStatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsCode checks whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsConnectorNotFound checks if the error is a connector not found error.
func IsConnectorNotFound(err error) bool {
	return IsCode(err, CodeConnectorNotFound)
}

// IsConnectorNotConnected checks if the error is a connector not connected error.
func IsConnectorNotConnected(err error) bool {
	return IsCode(err, CodeConnectorNotConnected)
}

// IsValidation checks if the error is one of the validation failures.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeConnectorConfigInvalid, CodeActionInputInvalid,
		CodeActionOutputInvalid, CodeWebhookValidationFailed:
		return true
	default:
		return false
	}
}

// IsOAuthStateInvalid checks if the error is an invalid OAuth state error.
func IsOAuthStateInvalid(err error) bool {
	return IsCode(err, CodeOAuthStateInvalid)
}

// IsCancelled checks if the error is a cancellation error.
func IsCancelled(err error) bool {
	return IsCode(err, CodeCancelled)
}

// NewOAuthTokenExpired creates the error for tokens that are expired with no
// way to refresh them. It keeps the refresh-failed code but answers 401.
func NewOAuthTokenExpired(connector string) *Error {
	return New(CodeOAuthRefreshFailed, "OAuth tokens are expired and no refresh token is available", nil).
		WithMeta("connector", connector).
		WithStatus(http.StatusUnauthorized)
}

// FromContext converts a context error into a taxonomy error; other errors
// pass through unchanged.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return New(CodeCancelled, "operation cancelled", err)
	}
	return err
}
