package server_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/ktesting"

	"github.com/jetstack/securesession/api"
	"github.com/jetstack/securesession/internal/keyagent/hpke"
	keyagentrsa "github.com/jetstack/securesession/internal/keyagent/rsa"
	"github.com/jetstack/securesession/pkg/config"
	"github.com/jetstack/securesession/pkg/server"
	"github.com/jetstack/securesession/pkg/session"
	"github.com/jetstack/securesession/pkg/transport"
)

const testCode = "424242"

var (
	testUsers = []config.User{
		{Credentials: config.Credentials{Login: "alice", Password: "hunter2"}, Secret: "YWxpY2UtdG9rZW4="},
		{Credentials: config.Credentials{Login: "bob", Password: "swordfish"}},
	}

	testKeyOnce sync.Once
	testKeyDER  []byte
)

func newRSAAgent(t *testing.T, opts keyagentrsa.Options) *keyagentrsa.Agent {
	t.Helper()

	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic("failed to generate test RSA key: " + err.Error())
		}
		testKeyDER = x509.MarshalPKCS1PrivateKey(key)
	})

	key, err := x509.ParsePKCS1PrivateKey(testKeyDER)
	require.NoError(t, err)

	agent, err := keyagentrsa.NewAgent(key, opts)
	require.NoError(t, err)
	return agent
}

type testEnv struct {
	ctx    context.Context
	url    string
	client *session.Client
}

func setup(t *testing.T, agent session.KeyAgent, caps session.Capabilities, opts server.Options) testEnv {
	t.Helper()

	logger := ktesting.NewLogger(t, ktesting.DefaultConfig)

	opts.Users = testUsers
	opts.Logger = logger
	s, err := server.New(opts)
	require.NoError(t, err)

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	client, err := session.New(transport.NewHTTP(0), agent, session.Options{
		BaseURL:      srv.URL,
		Capabilities: caps,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return testEnv{
		ctx:    klog.NewContext(t.Context(), logger),
		url:    srv.URL,
		client: client,
	}
}

// echo calls the authenticated echo endpoint with the client's token.
func (e testEnv) echo(t *testing.T, body string) (int, api.EchoData) {
	t.Helper()

	req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, e.url+server.EchoPath, strings.NewReader(body))
	require.NoError(t, err)

	sessionID, err := e.client.AuthenticateRequest(req)
	require.NoError(t, err)
	req.Header.Set(api.SessionIDHeader, sessionID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, api.EchoData{}
	}

	var envelope api.Envelope
	require.NoError(t, json.Unmarshal(raw, &envelope))

	var data api.EchoData
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	return resp.StatusCode, data
}

func TestEndToEnd(t *testing.T) {
	tests := map[string]struct {
		agent     func(t *testing.T) session.KeyAgent
		caps      session.Capabilities
		oaepHash  string
		login     string
		password  string
		wantToken []byte
	}{
		"RSA PEM with encryption": {
			agent:     func(t *testing.T) session.KeyAgent { return newRSAAgent(t, keyagentrsa.Options{}) },
			caps:      session.Capabilities{Encryption: true},
			login:     "alice",
			password:  "hunter2",
			wantToken: []byte("alice-token"),
		},
		"RSA PEM without encryption": {
			agent:     func(t *testing.T) session.KeyAgent { return newRSAAgent(t, keyagentrsa.Options{}) },
			caps:      session.Capabilities{},
			login:     "alice",
			password:  "hunter2",
			wantToken: []byte("alice-token"),
		},
		"RSA PEM with SHA-256 on both ends": {
			agent: func(t *testing.T) session.KeyAgent {
				return newRSAAgent(t, keyagentrsa.Options{OAEPHash: keyagentrsa.HashSHA256})
			},
			caps:     session.Capabilities{Encryption: true},
			oaepHash: keyagentrsa.HashSHA256,
			login:    "bob",
			password: "swordfish",
		},
		"RSA JWK with SHA-256 and a SHA-1 server default": {
			agent: func(t *testing.T) session.KeyAgent {
				return newRSAAgent(t, keyagentrsa.Options{OAEPHash: keyagentrsa.HashSHA256, Encoding: keyagentrsa.EncodingJWK})
			},
			caps:      session.Capabilities{Encryption: true},
			login:     "alice",
			password:  "hunter2",
			wantToken: []byte("alice-token"),
		},
		"HPKE with encryption": {
			agent: func(t *testing.T) session.KeyAgent {
				agent, err := hpke.GenerateAgent()
				require.NoError(t, err)
				return agent
			},
			caps:      session.Capabilities{Encryption: true},
			login:     "alice",
			password:  "hunter2",
			wantToken: []byte("alice-token"),
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			env := setup(t, test.agent(t), test.caps, server.Options{OAEPHash: test.oaepHash})

			require.NoError(t, env.client.Connect(env.ctx))
			assert.Equal(t, session.StateEstablished, env.client.State())
			assert.Equal(t, test.caps, env.client.Capabilities())

			require.NoError(t, env.client.Login(env.ctx, test.login, test.password))
			assert.Equal(t, session.StateAuthenticated, env.client.State())

			token := env.client.Token()
			if test.wantToken != nil {
				assert.Equal(t, test.wantToken, token)
			} else {
				assert.Len(t, token, 32)
			}

			status, data := env.echo(t, "hello")
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, api.EchoData{SessionID: env.client.SessionID(), Login: test.login, Body: "hello"}, data)
		})
	}
}

func TestEndToEnd_Verification(t *testing.T) {
	for name, encryption := range map[string]bool{"encrypted": true, "plaintext": false} {
		t.Run(name, func(t *testing.T) {
			caps := session.Capabilities{Encryption: encryption, Verification: true}
			env := setup(t, newRSAAgent(t, keyagentrsa.Options{}), caps, server.Options{Code: testCode})

			require.NoError(t, env.client.Connect(env.ctx))
			require.NoError(t, env.client.Login(env.ctx, "alice", "hunter2"))
			assert.Equal(t, session.StateVerifying, env.client.State())
			assert.Nil(t, env.client.Token())

			err := env.client.Verify(env.ctx, "000000")
			var appErr *session.ApplicationError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, api.ErrorCodeInvalidCode, appErr.Code)
			assert.Equal(t, session.StateVerifying, env.client.State())

			require.NoError(t, env.client.Verify(env.ctx, testCode))
			assert.Equal(t, session.StateAuthenticated, env.client.State())
			assert.Equal(t, []byte("alice-token"), env.client.Token())

			status, _ := env.echo(t, "")
			assert.Equal(t, http.StatusOK, status)
		})
	}
}

func TestEndToEnd_InvalidCredentials(t *testing.T) {
	env := setup(t, newRSAAgent(t, keyagentrsa.Options{}), session.DefaultCapabilities(), server.Options{})

	require.NoError(t, env.client.Connect(env.ctx))

	err := env.client.Login(env.ctx, "alice", "wrong")
	var appErr *session.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, api.ErrorCodeInvalidCredentials, appErr.Code)
	assert.Equal(t, "Invalid login or password", err.Error())
	assert.Equal(t, session.StateEstablished, env.client.State())

	require.NoError(t, env.client.Login(env.ctx, "alice", "hunter2"))
	assert.True(t, env.client.Authenticated())
}

func TestEndToEnd_VerificationNotEnabled(t *testing.T) {
	caps := session.Capabilities{Encryption: true, Verification: true}
	env := setup(t, newRSAAgent(t, keyagentrsa.Options{}), caps, server.Options{})

	err := env.client.Connect(env.ctx)
	var appErr *session.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, api.ErrorCodeBadRequest, appErr.Code)
	assert.Equal(t, session.StateUninitialized, env.client.State())
}

func TestEndToEnd_Reconnect(t *testing.T) {
	env := setup(t, newRSAAgent(t, keyagentrsa.Options{}), session.DefaultCapabilities(), server.Options{})

	require.NoError(t, env.client.Connect(env.ctx))
	require.NoError(t, env.client.Login(env.ctx, "alice", "hunter2"))
	first := env.client.SessionID()

	require.NoError(t, env.client.Connect(env.ctx))
	assert.NotEqual(t, first, env.client.SessionID())
	assert.Equal(t, session.StateEstablished, env.client.State())
	assert.Nil(t, env.client.Token())

	require.NoError(t, env.client.Login(env.ctx, "bob", "swordfish"))
	status, data := env.echo(t, "again")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bob", data.Login)
}

func TestEndToEnd_TokenIsBoundToSession(t *testing.T) {
	env := setup(t, newRSAAgent(t, keyagentrsa.Options{}), session.DefaultCapabilities(), server.Options{})

	require.NoError(t, env.client.Connect(env.ctx))
	require.NoError(t, env.client.Login(env.ctx, "alice", "hunter2"))

	req, err := http.NewRequestWithContext(env.ctx, http.MethodPost, env.url+server.EchoPath, strings.NewReader("x"))
	require.NoError(t, err)
	_, err = env.client.AuthenticateRequest(req)
	require.NoError(t, err)
	req.Header.Set(api.SessionIDHeader, "some-other-session")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
