package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jetstack/securesession/api"
	"github.com/jetstack/securesession/internal/keyagent"
	"github.com/jetstack/securesession/internal/keyagent/hpke"
	"github.com/jetstack/securesession/internal/keyagent/rsa"
	"github.com/jetstack/securesession/internal/symmetric"
	"github.com/jetstack/securesession/pkg/logs"
)

const (
	endpointHandshake = "handshake"
	endpointLogin     = "login"
	endpointVerify    = "verify"
	endpointEcho      = "echo"

	outcomeOK = "ok"
)

// appError is reported to the client in the errorDto of a 200 response.
type appError struct {
	code    string
	message string
}

func (e *appError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func badRequest(format string, args ...any) *appError {
	return &appError{code: api.ErrorCodeBadRequest, message: fmt.Sprintf(format, args...)}
}

type handlerFunc func(body []byte) (any, error)

// post adapts a handlerFunc to the envelope conventions of the document
// server: application failures are reported with status 200.
func (s *Server) post(endpoint string, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.WithValues("endpoint", endpoint)

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			s.finish(r, endpoint, "method_not_allowed")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
		if err != nil {
			s.finish(r, endpoint, "unreadable_body")
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		outcome := outcomeOK
		data, err := h(body)

		var envelope api.Envelope
		if err != nil {
			var appErr *appError
			if !errors.As(err, &appErr) {
				logger.Error(err, "request failed")
				s.finish(r, endpoint, "internal_error")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			logger.V(logs.Debug).Info("request rejected", "code", appErr.code, "reason", appErr.message)
			outcome = appErr.code
			envelope = api.NewErrorEnvelope(appErr.code, appErr.message)
		} else if envelope, err = api.NewDataEnvelope(data); err != nil {
			logger.Error(err, "failed to marshal response data")
			s.finish(r, endpoint, "internal_error")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		s.finish(r, endpoint, outcome)
		writeJSON(w, http.StatusOK, envelope)
	}
}

func (s *Server) finish(r *http.Request, endpoint, outcome string) {
	metricRequests.WithLabelValues(endpoint, strings.ToLower(outcome)).Inc()
	s.printRequest(r, outcome)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fieldEncryptor interface {
	EncryptField(plaintext []byte) ([]byte, error)
}

func (s *Server) encryptorFor(keyType string, publicKey []byte) (fieldEncryptor, error) {
	switch keyType {
	case "", keyagent.AlgorithmRSAOAEP:
		return rsa.NewEncryptorFromWire(publicKey, s.oaepHash)
	case hpke.KeyType:
		return hpke.NewEncryptorFromWire(publicKey)
	default:
		return nil, fmt.Errorf("unknown key type %q", keyType)
	}
}

func (s *Server) handleHandshake(body []byte) (any, error) {
	var req api.HandshakeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, badRequest("invalid handshake request: %s", err)
	}

	if req.RSAKey == "" {
		return nil, badRequest("rsaKey is required")
	}

	if req.PostCode && s.code == "" {
		return nil, badRequest("verification codes are not enabled on this server")
	}

	encryptor, err := s.encryptorFor(req.KeyType, []byte(req.RSAKey))
	if err != nil {
		return nil, &appError{code: api.ErrorCodeUnsupportedKey, message: fmt.Sprintf("unsupported public key: %s", err)}
	}

	key := make([]byte, aesKeySize)
	iv := make([]byte, 16)
	defer clear(key)
	defer clear(iv)

	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate session IV: %w", err)
	}

	cipher, err := symmetric.New(key, iv)
	if err != nil {
		return nil, err
	}

	encryptedKey, err := encryptor.EncryptField(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt session key: %w", err)
	}

	encryptedIV, err := encryptor.EncryptField(iv)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt session IV: %w", err)
	}

	record := &sessionRecord{
		id:           uuid.NewString(),
		cipher:       cipher,
		encryption:   req.Encryption,
		verification: req.PostCode,
		step:         stepAwaitingLogin,
	}
	s.store(record)

	s.logger.V(logs.Debug).Info("session created", "sessionID", record.id, "encryption", record.encryption, "verification", record.verification)

	return api.HandshakeData{
		SessionID: record.id,
		AESKey:    base64.StdEncoding.EncodeToString(encryptedKey),
		IVector:   base64.StdEncoding.EncodeToString(encryptedIV),
	}, nil
}

func (s *Server) handleLogin(body []byte) (any, error) {
	var req api.LoginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, badRequest("invalid login request: %s", err)
	}

	record, ok := s.lookup(req.SessionID)
	if !ok {
		return nil, unknownSession()
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	if record.step == stepAuthenticated {
		return nil, &appError{code: api.ErrorCodeUnexpectedStep, message: "Session is already authenticated"}
	}

	login, err := record.open("login", req.Login)
	if err != nil {
		return nil, err
	}

	password, err := record.open("password", req.Password)
	if err != nil {
		return nil, err
	}

	user, ok := s.users[login]
	if !ok || subtle.ConstantTimeCompare([]byte(password), []byte(user.Password)) != 1 {
		return nil, &appError{code: api.ErrorCodeInvalidCredentials, message: "Invalid login or password"}
	}

	record.login = login

	if record.verification {
		record.step = stepAwaitingCode
		s.store(record)

		return api.SecretData{SessionID: record.id}, nil
	}

	return s.authenticate(record)
}

func (s *Server) handleVerify(body []byte) (any, error) {
	var req api.VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, badRequest("invalid verify request: %s", err)
	}

	record, ok := s.lookup(req.SessionID)
	if !ok {
		return nil, unknownSession()
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	if record.step != stepAwaitingCode {
		return nil, &appError{code: api.ErrorCodeUnexpectedStep, message: "No verification code is expected for this session"}
	}

	code, err := record.open("code", req.Code)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(s.code)) != 1 {
		return nil, &appError{code: api.ErrorCodeInvalidCode, message: "Invalid verification code"}
	}

	return s.authenticate(record)
}

// authenticate issues the token. record.mu must be held.
func (s *Server) authenticate(record *sessionRecord) (any, error) {
	token, err := s.issueToken(record.login)
	if err != nil {
		return nil, err
	}

	record.token = token
	record.step = stepAuthenticated
	s.store(record)

	s.logger.V(logs.Debug).Info("session authenticated", "sessionID", record.id, "login", record.login)

	return api.SecretData{
		SessionID: record.id,
		Secret:    base64.StdEncoding.EncodeToString(token),
	}, nil
}

func unknownSession() *appError {
	return &appError{code: api.ErrorCodeUnknownSession, message: "Unknown or expired session"}
}

// open returns the plaintext of a request field, decrypting it when the
// session negotiated encryption. record.mu must be held.
func (r *sessionRecord) open(field, value string) (string, error) {
	if !r.encryption {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", &appError{code: api.ErrorCodeDecryptionFailed, message: fmt.Sprintf("%s is not valid base64", field)}
	}

	plaintext, err := r.cipher.Decrypt(raw)
	if err != nil {
		return "", &appError{code: api.ErrorCodeDecryptionFailed, message: fmt.Sprintf("failed to decrypt %s", field)}
	}

	return plaintext, nil
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	record, code, err := s.checkAuthorization(w, r)
	if err != nil {
		s.finish(r, endpointEcho, "unauthorized")
		writeError(w, err.Error(), code)
		return
	}

	if r.Method != http.MethodPost {
		s.finish(r, endpointEcho, "method_not_allowed")
		writeError(w, fmt.Sprintf("invalid method. Expected POST, received %s", r.Method), http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		s.finish(r, endpointEcho, "unreadable_body")
		writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	record.mu.Lock()
	data := api.EchoData{SessionID: record.id, Login: record.login, Body: string(body)}
	record.mu.Unlock()

	envelope, err := api.NewDataEnvelope(data)
	if err != nil {
		s.finish(r, endpointEcho, "internal_error")
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.finish(r, endpointEcho, outcomeOK)
	writeJSON(w, http.StatusOK, envelope)
}

// checkAuthorization requires a bearer token issued to the session named in
// the session header.
func (s *Server) checkAuthorization(w http.ResponseWriter, r *http.Request) (*sessionRecord, int, error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="securesession"`)

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 {
		return nil, http.StatusBadRequest, fmt.Errorf("bad request: malformed Authorization header")
	}

	if parts[0] != "Bearer" {
		return nil, http.StatusUnauthorized, fmt.Errorf("not authorized")
	}

	token, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, http.StatusUnauthorized, fmt.Errorf("not authorized")
	}

	record, ok := s.lookup(r.Header.Get(api.SessionIDHeader))
	if !ok {
		return nil, http.StatusUnauthorized, fmt.Errorf("not authorized")
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	if record.step != stepAuthenticated || subtle.ConstantTimeCompare(token, record.token) != 1 {
		return nil, http.StatusUnauthorized, fmt.Errorf("not authorized")
	}

	return record, 0, nil
}

func writeError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{"error": msg, "code": code})
}
