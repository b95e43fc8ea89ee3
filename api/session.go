// Package api defines the JSON bodies exchanged with the document server's
// session endpoints.
package api

import "encoding/json"

// HandshakeRequest is posted to the handshake endpoint. RSAKey carries the
// client's public key in whatever encoding its key agent publishes.
type HandshakeRequest struct {
	RSAKey     string `json:"rsaKey"`
	Encryption bool   `json:"encryption"`
	PostCode   bool   `json:"postCode"`
	// KeyType is only sent when the key is not an RSA key.
	KeyType string `json:"keyType,omitempty"`
}

// HandshakeData is the data of a successful handshake response. AESKey and
// IVector are base64 encoded and encrypted to the client's public key.
type HandshakeData struct {
	SessionID string `json:"sessionId"`
	AESKey    string `json:"aesKey"`
	IVector   string `json:"ivector"`
}

// LoginRequest is posted to the login endpoint. When encryption was
// negotiated Login and Password hold the base64 encoded session cipher
// output instead of the plaintext.
type LoginRequest struct {
	SessionID string `json:"sessionId"`
	Login     string `json:"login"`
	Password  string `json:"password"`
}

// VerifyRequest is posted to the verify endpoint.
type VerifyRequest struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

// SecretData is the data of a login or verify response. Secret is the
// base64 encoded access token; it is absent from a login response when a
// verification code is still required.
type SecretData struct {
	SessionID string `json:"sessionId"`
	Secret    string `json:"secret,omitempty"`
}

// SessionData is used to read just the session identifier from any
// response data.
type SessionData struct {
	SessionID *string `json:"sessionId"`
}

// Envelope wraps every response body.
type Envelope struct {
	Data     json.RawMessage `json:"data"`
	ErrorDTO *ErrorDTO       `json:"errorDto"`
}

// ErrorDTO describes an application level failure. A nil Code means no error.
type ErrorDTO struct {
	Code    *string `json:"code"`
	Message *string `json:"message"`
}

// SessionIDHeader carries the session identifier on authenticated document
// calls, next to the bearer token.
const SessionIDHeader = "X-Session-Id"

// EchoData is returned by the reference server's echo endpoint.
type EchoData struct {
	SessionID string `json:"sessionId"`
	Login     string `json:"login"`
	Body      string `json:"body"`
}

// Error codes returned by the reference server.
const (
	ErrorCodeBadRequest         = "BAD_REQUEST"
	ErrorCodeUnknownSession     = "UNKNOWN_SESSION"
	ErrorCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrorCodeInvalidCode        = "INVALID_CODE"
	ErrorCodeUnexpectedStep     = "UNEXPECTED_STEP"
	ErrorCodeUnsupportedKey     = "UNSUPPORTED_KEY"
	ErrorCodeDecryptionFailed   = "DECRYPTION_FAILED"
)

// NewErrorEnvelope returns an envelope carrying only an error.
func NewErrorEnvelope(code, message string) Envelope {
	return Envelope{
		Data:     json.RawMessage("null"),
		ErrorDTO: &ErrorDTO{Code: &code, Message: &message},
	}
}

// NewDataEnvelope returns an envelope carrying data and a null error code,
// which is how the document server reports success.
func NewDataEnvelope(data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Data: raw, ErrorDTO: &ErrorDTO{}}, nil
}
