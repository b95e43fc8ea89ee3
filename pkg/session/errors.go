package session

import (
	"errors"
	"fmt"
)

// ErrEmptyCredential is returned by Login and Verify when a required value is
// empty. No request is sent and the state is left unchanged.
var ErrEmptyCredential = errors.New("login, password and verification code must not be empty")

// TransportError reports that no usable HTTP response was received: either
// the request failed (Status 0) or the status was not 200.
type TransportError struct {
	Status int
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request failed: %s", e.Reason)
	}
	return fmt.Sprintf("got unexpected status code %d %s", e.Status, e.Reason)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApplicationError is a failure reported by the server in the errorDto of an
// otherwise successful response.
type ApplicationError struct {
	Code    string
	Message string
}

func (e *ApplicationError) Error() string {
	return e.Message
}

// SessionIntegrityError reports a response whose session identifier does
// not match the established session.
type SessionIntegrityError struct {
	Expected string
	Actual   string
}

func (e *SessionIntegrityError) Error() string {
	return fmt.Sprintf("response belongs to session %q, expected session %q", e.Actual, e.Expected)
}

// DecryptionError reports a field of a handshake response that could not
// be decoded or decrypted.
type DecryptionError struct {
	Field string
	Err   error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("failed to decrypt %s: %s", e.Field, e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// EncryptionError reports a request field that could not be encrypted.
type EncryptionError struct {
	Field string
	Err   error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("failed to encrypt %s: %s", e.Field, e.Err)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

// ProtocolStateError is returned when an operation is called in a state
// that does not allow it. No request is sent.
type ProtocolStateError struct {
	Operation string
	State     State
}

func (e *ProtocolStateError) Error() string {
	return fmt.Sprintf("%s is not allowed in state %s", e.Operation, e.State)
}

// ConcurrentOperationError is returned when an operation is started while
// another one is still in flight on the same client.
type ConcurrentOperationError struct {
	Operation string
}

func (e *ConcurrentOperationError) Error() string {
	return fmt.Sprintf("cannot start %s: another operation is in progress", e.Operation)
}

// MalformedResponseError reports a response body that is not a valid
// envelope, or that lacks a required field.
type MalformedResponseError struct {
	Endpoint string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s endpoint: %s", e.Endpoint, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
