// Package server is a reference implementation of the document server's
// session endpoints. It backs the end-to-end tests and the serve command.
package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/pmylund/go-cache"

	"github.com/jetstack/securesession/internal/keyagent/rsa"
	"github.com/jetstack/securesession/internal/symmetric"
	"github.com/jetstack/securesession/pkg/config"
	"github.com/jetstack/securesession/pkg/session"
)

const (
	// DefaultSessionTTL is how long an idle session is kept.
	DefaultSessionTTL = 10 * time.Minute

	// EchoPath is the path of the authenticated echo endpoint.
	EchoPath = "/echo"

	aesKeySize = 32

	// maxRequestBodySize bounds every request body.
	maxRequestBodySize = 64 * 1024
)

// Options configures a Server.
type Options struct {
	// Users are the accounts that may log in. At least one is required.
	Users []config.User
	// Code is the verification code expected by the verify endpoint. Clients
	// requesting verification are refused when it is empty.
	Code string
	// OAEPHash is used for PEM encoded RSA keys, and for JWK keys without an
	// alg. Defaults to SHA-1.
	OAEPHash string
	// SessionTTL defaults to DefaultSessionTTL.
	SessionTTL time.Duration
	// Logger defaults to a logger that discards everything.
	Logger logr.Logger
	// Out receives a coloured line per request. Nothing is printed when nil.
	Out io.Writer
}

// step is how far a session has progressed.
type step int

const (
	stepAwaitingLogin step = iota
	stepAwaitingCode
	stepAuthenticated
)

type sessionRecord struct {
	mu sync.Mutex

	id           string
	cipher       *symmetric.Cipher
	encryption   bool
	verification bool
	step         step
	login        string
	token        []byte
}

// Server serves the handshake, login, verify and echo endpoints.
type Server struct {
	users    map[string]config.User
	code     string
	oaepHash string
	ttl      time.Duration
	logger   logr.Logger
	out      io.Writer

	sessions *cache.Cache
	mux      *http.ServeMux
}

// New returns a Server for opts.
func New(opts Options) (*Server, error) {
	if len(opts.Users) == 0 {
		return nil, fmt.Errorf("at least one user is required")
	}

	users := make(map[string]config.User, len(opts.Users))
	for _, u := range opts.Users {
		if u.Secret != "" {
			if _, err := base64.StdEncoding.DecodeString(u.Secret); err != nil {
				return nil, fmt.Errorf("secret of user %q is not valid base64: %s", u.Login, err)
			}
		}
		users[u.Login] = u
	}

	if opts.OAEPHash == "" {
		opts.OAEPHash = rsa.HashSHA1
	}

	if opts.OAEPHash != rsa.HashSHA1 && opts.OAEPHash != rsa.HashSHA256 {
		return nil, fmt.Errorf("unsupported OAEP hash %q", opts.OAEPHash)
	}

	if opts.SessionTTL == 0 {
		opts.SessionTTL = DefaultSessionTTL
	}

	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}

	if opts.Out == nil {
		opts.Out = io.Discard
	}

	s := &Server{
		users:    users,
		code:     opts.Code,
		oaepHash: opts.OAEPHash,
		ttl:      opts.SessionTTL,
		logger:   opts.Logger,
		out:      opts.Out,
		sessions: cache.New(opts.SessionTTL, opts.SessionTTL/2),
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("/"+session.DefaultHandshakePath, s.post(endpointHandshake, s.handleHandshake))
	s.mux.HandleFunc("/"+session.DefaultLoginPath, s.post(endpointLogin, s.handleLogin))
	s.mux.HandleFunc("/"+session.DefaultVerifyPath, s.post(endpointVerify, s.handleVerify))
	s.mux.HandleFunc(EchoPath, s.handleEcho)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) lookup(id string) (*sessionRecord, bool) {
	if id == "" {
		return nil, false
	}

	o, ok := s.sessions.Get(id)
	if !ok {
		return nil, false
	}

	return o.(*sessionRecord), true
}

func (s *Server) store(record *sessionRecord) {
	s.sessions.Set(record.id, record, cache.DefaultExpiration)
}

// issueToken returns the configured secret of the user, or a random token.
func (s *Server) issueToken(login string) ([]byte, error) {
	if secret := s.users[login].Secret; secret != "" {
		return base64.StdEncoding.DecodeString(secret)
	}

	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, nil
}

// printRequest writes the coloured request log line.
func (s *Server) printRequest(r *http.Request, outcome string) {
	c := color.New(color.FgGreen)
	if outcome != outcomeOK {
		c = color.New(color.FgYellow)
	}

	_, _ = c.Fprintf(s.out, "-- %s %s -> %s\n", r.Method, r.URL.Path, strings.ToLower(outcome))
}
