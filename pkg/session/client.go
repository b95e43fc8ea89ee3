// Package session implements the client side of the document server's
// secure session protocol.
//
// A Client first runs a handshake (Connect) in which it publishes a freshly
// generated public key and receives a session identifier plus symmetric key
// material encrypted to that key. It then logs in (Login) and, if the session
// was negotiated with verification, submits a second factor code (Verify).
// The final response carries an opaque access token.
//
// When encryption is negotiated, credentials are sent encrypted with the
// session cipher. Every response after the handshake must carry the session
// identifier issued during the handshake.
//
// A Client runs at most one operation at a time; a second call while one is
// in flight fails fast with a *ConcurrentOperationError. The read accessors
// never block on the network.
package session

import (
	"context"
	"crypto/aes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"k8s.io/klog/v2"

	"github.com/jetstack/securesession/api"
	"github.com/jetstack/securesession/internal/keyagent"
	"github.com/jetstack/securesession/internal/symmetric"
	"github.com/jetstack/securesession/pkg/logs"
)

const (
	// DefaultHandshakePath, DefaultLoginPath and DefaultVerifyPath are the
	// endpoint paths used when Options leaves them empty.
	DefaultHandshakePath = "rsakey"
	DefaultLoginPath     = "login"
	DefaultVerifyPath    = "verify"

	fieldAESKey   = "aesKey"
	fieldIVector  = "ivector"
	fieldLogin    = "login"
	fieldPassword = "password"
	fieldCode     = "code"

	operationConnect = "connect"
	operationLogin   = "login"
	operationVerify  = "verify"
)

// State is the protocol state of a Client.
type State int

const (
	StateUninitialized State = iota
	StateHandshaking
	StateEstablished
	StateVerifying
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateHandshaking:
		return "Handshaking"
	case StateEstablished:
		return "Established"
	case StateVerifying:
		return "Verifying"
	case StateAuthenticated:
		return "Authenticated"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Capabilities are the optional protocol features requested in a handshake.
type Capabilities struct {
	// Encryption requests that credentials be sent encrypted with the
	// session cipher.
	Encryption bool
	// Verification requests a second factor code after login.
	Verification bool
}

// DefaultCapabilities requests encryption and no verification.
func DefaultCapabilities() Capabilities {
	return Capabilities{Encryption: true}
}

// Endpoints holds the endpoint paths relative to the base URL.
type Endpoints struct {
	Handshake string
	Login     string
	Verify    string
}

// Options configures a Client.
type Options struct {
	// BaseURL is the document server URL that endpoint paths are joined to.
	BaseURL string
	// Endpoints defaults to rsakey, login and verify.
	Endpoints Endpoints
	// Capabilities are used by the first Connect. Use DefaultCapabilities
	// for the usual settings.
	Capabilities Capabilities
}

// KeyAgent owns the client keypair. Implementations live in the keyagent
// packages.
type KeyAgent interface {
	Algorithm() string
	PublicKey() ([]byte, error)
	DecryptFields(payload map[string][]byte, fields []string) (map[string][]byte, error)
	Wipe()
}

// Transport posts a JSON body and returns the raw response. It returns an
// error only when no HTTP response was received.
type Transport interface {
	Post(ctx context.Context, url string, body any) (*Response, error)
}

// Response is a raw HTTP response as seen by the session layer.
type Response struct {
	Status int
	Reason string
	Body   []byte
}

// Client is a secure session with one document server.
type Client struct {
	transport Transport
	agent     KeyAgent
	urls      Endpoints

	// opMu is held for the whole of Connect, Login and Verify.
	opMu sync.Mutex

	// mu guards the fields below. It is never held across a network call.
	mu         sync.RWMutex
	state      State
	requested  Capabilities
	negotiated Capabilities
	sessionID  string
	cipher     *symmetric.Cipher
	token      []byte
}

// New returns an unconnected Client. The client takes ownership of agent
// and wipes it on Close.
func New(transport Transport, agent KeyAgent, opts Options) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	if agent == nil {
		return nil, fmt.Errorf("key agent cannot be nil")
	}

	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if opts.Endpoints.Handshake == "" {
		opts.Endpoints.Handshake = DefaultHandshakePath
	}
	if opts.Endpoints.Login == "" {
		opts.Endpoints.Login = DefaultLoginPath
	}
	if opts.Endpoints.Verify == "" {
		opts.Endpoints.Verify = DefaultVerifyPath
	}

	var urls Endpoints
	for _, e := range []struct {
		path string
		dst  *string
	}{
		{opts.Endpoints.Handshake, &urls.Handshake},
		{opts.Endpoints.Login, &urls.Login},
		{opts.Endpoints.Verify, &urls.Verify},
	} {
		u, err := url.JoinPath(opts.BaseURL, e.path)
		if err != nil {
			return nil, fmt.Errorf("failed to create URL for endpoint %q: %s", e.path, err)
		}
		*e.dst = u
	}

	return &Client{
		transport: transport,
		agent:     agent,
		urls:      urls,
		state:     StateUninitialized,
		requested: opts.Capabilities,
	}, nil
}

// SetCapabilities sets the capabilities requested by the next Connect. The
// capabilities of an established session do not change.
func (c *Client) SetCapabilities(caps Capabilities) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requested = caps
}

// Connect runs the handshake. It may be called in any state other than
// Closed; a previous session is discarded whether or not the handshake
// succeeds. On failure the client is left Uninitialized.
func (c *Client) Connect(ctx context.Context) (err error) {
	if !c.opMu.TryLock() {
		return c.record(operationConnect, &ConcurrentOperationError{Operation: operationConnect})
	}
	defer c.opMu.Unlock()
	defer func() { c.record(operationConnect, err) }()

	logger := klog.FromContext(ctx).WithValues("source", "session.Connect")

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return &ProtocolStateError{Operation: operationConnect, State: StateClosed}
	}
	caps := c.requested
	c.resetLocked(StateHandshaking)
	c.mu.Unlock()

	sessionID, cipher, err := c.handshake(ctx, caps)
	if err != nil {
		c.mu.Lock()
		c.state = StateUninitialized
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.state = StateEstablished
	c.sessionID = sessionID
	c.cipher = cipher
	c.negotiated = caps
	c.token = nil
	c.mu.Unlock()

	logger.V(logs.Debug).Info("session established", "sessionID", sessionID, "encryption", caps.Encryption, "verification", caps.Verification)

	return nil
}

func (c *Client) handshake(ctx context.Context, caps Capabilities) (string, *symmetric.Cipher, error) {
	publicKey, err := c.agent.PublicKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get public key from key agent: %w", err)
	}

	request := api.HandshakeRequest{
		RSAKey:     string(publicKey),
		Encryption: caps.Encryption,
		PostCode:   caps.Verification,
	}
	if algorithm := c.agent.Algorithm(); algorithm != keyagent.AlgorithmRSAOAEP {
		request.KeyType = algorithm
	}

	data, err := c.post(ctx, operationConnect, c.urls.Handshake, request, "")
	if err != nil {
		return "", nil, err
	}

	var handshake api.HandshakeData
	if err := decodeData(data, &handshake); err != nil {
		return "", nil, &MalformedResponseError{Endpoint: operationConnect, Err: err}
	}

	fields := []struct {
		name  string
		value string
	}{
		{"sessionId", handshake.SessionID},
		{fieldAESKey, handshake.AESKey},
		{fieldIVector, handshake.IVector},
	}
	for _, f := range fields {
		if f.value == "" {
			return "", nil, &MalformedResponseError{Endpoint: operationConnect, Err: fmt.Errorf("missing %s", f.name)}
		}
	}

	encrypted := map[string][]byte{}
	for _, f := range fields[1:] {
		raw, err := base64.StdEncoding.DecodeString(f.value)
		if err != nil {
			return "", nil, &DecryptionError{Field: f.name, Err: fmt.Errorf("invalid base64: %w", err)}
		}
		encrypted[f.name] = raw
	}

	decrypted, err := c.agent.DecryptFields(encrypted, []string{fieldAESKey, fieldIVector})
	if err != nil {
		field := fieldAESKey
		var fieldErr *keyagent.FieldError
		if errors.As(err, &fieldErr) {
			field = fieldErr.Field
		}
		return "", nil, &DecryptionError{Field: field, Err: err}
	}
	defer func() {
		clear(decrypted[fieldAESKey])
		clear(decrypted[fieldIVector])
	}()

	if len(decrypted[fieldIVector]) != aes.BlockSize {
		return "", nil, &DecryptionError{Field: fieldIVector, Err: fmt.Errorf("IV must be %d bytes, got %d bytes", aes.BlockSize, len(decrypted[fieldIVector]))}
	}

	cipher, err := symmetric.New(decrypted[fieldAESKey], decrypted[fieldIVector])
	if err != nil {
		return "", nil, &DecryptionError{Field: fieldAESKey, Err: err}
	}

	return handshake.SessionID, cipher, nil
}

// Login submits the credentials. It is allowed once a session is
// established, and again while a verification code is pending. When the
// session was negotiated with verification the client moves to Verifying;
// otherwise the response carries the token and the client is Authenticated.
//
// A failed login leaves the state unchanged so the caller may retry, except
// for a *SessionIntegrityError, which discards the session.
func (c *Client) Login(ctx context.Context, identifier, password string) (err error) {
	if !c.opMu.TryLock() {
		return c.record(operationLogin, &ConcurrentOperationError{Operation: operationLogin})
	}
	defer c.opMu.Unlock()
	defer func() { c.record(operationLogin, err) }()

	logger := klog.FromContext(ctx).WithValues("source", "session.Login")

	sessionID, caps, err := c.snapshot(operationLogin, StateEstablished, StateVerifying)
	if err != nil {
		return err
	}

	if identifier == "" || password == "" {
		return ErrEmptyCredential
	}

	request := api.LoginRequest{SessionID: sessionID}
	if request.Login, err = c.protect(caps, fieldLogin, identifier); err != nil {
		return err
	}
	if request.Password, err = c.protect(caps, fieldPassword, password); err != nil {
		return err
	}

	data, err := c.post(ctx, operationLogin, c.urls.Login, request, sessionID)
	if err != nil {
		c.teardownOnIntegrityError(err)
		return err
	}

	if caps.Verification {
		c.mu.Lock()
		c.state = StateVerifying
		c.mu.Unlock()

		logger.V(logs.Debug).Info("login accepted, verification code required", "sessionID", sessionID)
		return nil
	}

	if err := c.acceptToken(operationLogin, data); err != nil {
		return err
	}

	logger.V(logs.Debug).Info("login accepted", "sessionID", sessionID)
	return nil
}

// Verify submits the second factor code. It is only allowed after a login
// on a session negotiated with verification. On success the client is
// Authenticated. Failures behave as for Login.
func (c *Client) Verify(ctx context.Context, code string) (err error) {
	if !c.opMu.TryLock() {
		return c.record(operationVerify, &ConcurrentOperationError{Operation: operationVerify})
	}
	defer c.opMu.Unlock()
	defer func() { c.record(operationVerify, err) }()

	logger := klog.FromContext(ctx).WithValues("source", "session.Verify")

	sessionID, caps, err := c.snapshot(operationVerify, StateVerifying)
	if err != nil {
		return err
	}

	if code == "" {
		return ErrEmptyCredential
	}

	request := api.VerifyRequest{SessionID: sessionID}
	if request.Code, err = c.protect(caps, fieldCode, code); err != nil {
		return err
	}

	data, err := c.post(ctx, operationVerify, c.urls.Verify, request, sessionID)
	if err != nil {
		c.teardownOnIntegrityError(err)
		return err
	}

	if err := c.acceptToken(operationVerify, data); err != nil {
		return err
	}

	logger.V(logs.Debug).Info("verification code accepted", "sessionID", sessionID)
	return nil
}

// snapshot returns the session identity and negotiated capabilities if the
// client is in one of the allowed states.
func (c *Client) snapshot(operation string, allowed ...State) (string, Capabilities, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range allowed {
		if c.state == s {
			return c.sessionID, c.negotiated, nil
		}
	}

	return "", Capabilities{}, &ProtocolStateError{Operation: operation, State: c.state}
}

// protect returns the wire form of a credential field: the plaintext, or the
// base64 encoded session cipher output when encryption was negotiated.
func (c *Client) protect(caps Capabilities, field, value string) (string, error) {
	if !caps.Encryption {
		return value, nil
	}

	c.mu.RLock()
	cipher := c.cipher
	c.mu.RUnlock()

	if cipher == nil {
		return "", &EncryptionError{Field: field, Err: errors.New("no session cipher")}
	}

	ciphertext, err := cipher.Encrypt(value)
	if err != nil {
		return "", &EncryptionError{Field: field, Err: err}
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// acceptToken decodes the secret from a login or verify response and moves
// the client to Authenticated.
func (c *Client) acceptToken(operation string, data json.RawMessage) error {
	var secret api.SecretData
	if err := decodeData(data, &secret); err != nil {
		return &MalformedResponseError{Endpoint: operation, Err: err}
	}

	if secret.Secret == "" {
		return &MalformedResponseError{Endpoint: operation, Err: errors.New("missing secret")}
	}

	token, err := base64.StdEncoding.DecodeString(secret.Secret)
	if err != nil {
		return &MalformedResponseError{Endpoint: operation, Err: fmt.Errorf("secret is not valid base64: %w", err)}
	}

	c.mu.Lock()
	c.token = token
	c.state = StateAuthenticated
	c.mu.Unlock()

	return nil
}

func (c *Client) teardownOnIntegrityError(err error) {
	var integrityErr *SessionIntegrityError
	if !errors.As(err, &integrityErr) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateClosed {
		c.resetLocked(StateUninitialized)
	}
}

// resetLocked discards the current session and moves to state. c.mu must be
// held.
func (c *Client) resetLocked(state State) {
	if c.cipher != nil {
		c.cipher.Wipe()
	}
	clear(c.token)

	c.cipher = nil
	c.token = nil
	c.sessionID = ""
	c.negotiated = Capabilities{}
	c.state = state
}

// post sends one request and validates the response.
func (c *Client) post(ctx context.Context, operation, endpoint string, body any, expectedSession string) (json.RawMessage, error) {
	logger := klog.FromContext(ctx).WithValues("source", "session."+operation)

	resp, err := c.transport.Post(ctx, endpoint, body)
	if err != nil {
		return nil, &TransportError{Status: 0, Reason: err.Error(), Err: err}
	}

	logger.V(logs.Trace).Info("received response", "url", endpoint, "status", resp.Status)

	return validateResponse(operation, resp.Status, resp.Reason, resp.Body, expectedSession)
}

func (c *Client) record(operation string, err error) error {
	metricOperations.WithLabelValues(operation, resultLabel(err)).Inc()
	return err
}

// decodeData unmarshals response data that must be a JSON object.
func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("response has no data")
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}

	return nil
}

// State returns the current protocol state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// Established reports whether a handshake has completed and the session has
// not been discarded since.
func (c *Client) Established() bool {
	switch c.State() {
	case StateEstablished, StateVerifying, StateAuthenticated:
		return true
	}
	return false
}

// Authenticated reports whether the client holds an access token.
func (c *Client) Authenticated() bool {
	return c.State() == StateAuthenticated
}

// SessionID returns the identifier of the established session, or "".
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.sessionID
}

// Token returns a copy of the access token, or nil before authentication.
func (c *Client) Token() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == nil {
		return nil
	}
	return append([]byte(nil), c.token...)
}

// Capabilities returns the capabilities negotiated by the current session.
// Before a handshake completes this is the zero value.
func (c *Client) Capabilities() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.negotiated
}

// AuthenticateRequest adds the access token to req as a bearer token and
// returns the session identifier, which document calls also need. It fails
// unless the client is Authenticated.
func (c *Client) AuthenticateRequest(req *http.Request) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateAuthenticated {
		return "", &ProtocolStateError{Operation: "authenticate request", State: c.state}
	}

	req.Header.Set("Authorization", "Bearer "+base64.StdEncoding.EncodeToString(c.token))

	return c.sessionID, nil
}

// Close discards the session and wipes the private key. The client cannot
// be used afterwards. Close waits for an operation in flight to finish.
func (c *Client) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}

	c.resetLocked(StateClosed)
	c.agent.Wipe()
}
