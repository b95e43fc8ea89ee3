package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetstack/securesession/internal/keyagent"
	"github.com/jetstack/securesession/internal/keyagent/rsa"
	"github.com/jetstack/securesession/pkg/session"
)

func TestParseConfig_Defaults(t *testing.T) {
	config, err := ParseConfig([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, DefaultURL, config.Server.URL)
	assert.Equal(t, DefaultTimeout, config.Server.Timeout)
	assert.Equal(t, Endpoints{Handshake: "rsakey", Login: "login", Verify: "verify"}, config.Server.Endpoints)
	require.NotNil(t, config.Session.Encryption)
	assert.True(t, *config.Session.Encryption)
	assert.False(t, config.Session.Verification)
	assert.Equal(t, KeyExchange{
		Algorithm:         keyagent.AlgorithmRSAOAEP,
		RSAKeySize:        2048,
		OAEPHash:          rsa.HashSHA1,
		PublicKeyEncoding: rsa.EncodingPEM,
	}, config.KeyExchange)

	assert.Equal(t, Default(), config)
}

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(`
server:
  url: https://docs.example.com/api/
  timeout: 3s
  endpoints:
    handshake: session/key
session:
  encryption: false
  verification: true
keyExchange:
  algorithm: rsa-oaep
  rsaKeySize: 3072
  oaepHash: sha256
  publicKeyEncoding: jwk
`))
	require.NoError(t, err)

	assert.Equal(t, "https://docs.example.com/api/", config.Server.URL)
	assert.Equal(t, 3*time.Second, config.Server.Timeout)
	assert.Equal(t, Endpoints{Handshake: "session/key", Login: "login", Verify: "verify"}, config.Server.Endpoints)
	require.NotNil(t, config.Session.Encryption)
	assert.False(t, *config.Session.Encryption)
	assert.True(t, config.Session.Verification)
	assert.Equal(t, KeyExchange{
		Algorithm:         keyagent.AlgorithmRSAOAEP,
		RSAKeySize:        3072,
		OAEPHash:          rsa.HashSHA256,
		PublicKeyEncoding: rsa.EncodingJWK,
	}, config.KeyExchange)

	assert.Equal(t, session.Options{
		BaseURL: "https://docs.example.com/api/",
		Endpoints: session.Endpoints{
			Handshake: "session/key",
			Login:     "login",
			Verify:    "verify",
		},
		Capabilities: session.Capabilities{Encryption: false, Verification: true},
	}, config.SessionOptions())
}

func TestParseConfig_HPKE(t *testing.T) {
	config, err := ParseConfig([]byte(`
keyExchange:
  algorithm: hpke-x25519
`))
	require.NoError(t, err)

	assert.Equal(t, KeyExchange{Algorithm: keyagent.AlgorithmHPKEX25519}, config.KeyExchange)

	agent, err := config.NewKeyAgent()
	require.NoError(t, err)
	defer agent.Wipe()
	assert.Equal(t, keyagent.AlgorithmHPKEX25519, agent.Algorithm())
}

func TestParseConfig_Errors(t *testing.T) {
	tests := map[string]struct {
		input   string
		wantErr []string
	}{
		"unknown field": {
			input:   "server:\n  address: foo\n",
			wantErr: []string{"failed to parse config", "address"},
		},
		"bad url scheme": {
			input:   "server:\n  url: ftp://example.com/\n",
			wantErr: []string{`server.url must use http or https, got "ftp"`},
		},
		"url without host": {
			input:   "server:\n  url: http:///path\n",
			wantErr: []string{"server.url must include a host"},
		},
		"negative timeout": {
			input:   "server:\n  timeout: -1s\n",
			wantErr: []string{"server.timeout cannot be negative"},
		},
		"unknown algorithm": {
			input:   "keyExchange:\n  algorithm: dh\n",
			wantErr: []string{`keyExchange.algorithm must be "rsa-oaep" or "hpke-x25519", got "dh"`},
		},
		"several RSA problems": {
			input: "keyExchange:\n  rsaKeySize: 1024\n  oaepHash: md5\n  publicKeyEncoding: der\n",
			wantErr: []string{
				"3 errors occurred",
				"keyExchange.rsaKeySize must be at least 2048, got 1024",
				`keyExchange.oaepHash must be "sha1" or "sha256", got "md5"`,
				`keyExchange.publicKeyEncoding must be "pem" or "jwk", got "der"`,
			},
		},
		"RSA options with HPKE": {
			input:   "keyExchange:\n  algorithm: hpke-x25519\n  oaepHash: sha256\n",
			wantErr: []string{"only apply to rsa-oaep"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(test.input))
			require.Error(t, err)
			for _, want := range test.wantErr {
				assert.ErrorContains(t, err, want)
			}
		})
	}
}

func TestDump(t *testing.T) {
	config := Default()

	dump, err := config.Dump()
	require.NoError(t, err)

	assert.Contains(t, dump, "url: http://127.0.0.1:8080/")
	assert.Contains(t, dump, "timeout: 10s")
	assert.Contains(t, dump, "algorithm: rsa-oaep")

	parsed, err := ParseConfig([]byte(dump))
	require.NoError(t, err)
	assert.Equal(t, config, parsed)
}

func TestSessionOptions_DefaultsToEncryption(t *testing.T) {
	var config Config
	assert.True(t, config.SessionOptions().Capabilities.Encryption)
}

func TestNewKeyAgent_RSA(t *testing.T) {
	config := Default()
	config.KeyExchange.PublicKeyEncoding = rsa.EncodingJWK

	agent, err := config.NewKeyAgent()
	require.NoError(t, err)
	defer agent.Wipe()

	assert.Equal(t, keyagent.AlgorithmRSAOAEP, agent.Algorithm())

	publicKey, err := agent.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, byte('{'), publicKey[0])
}

func TestNewKeyAgent_Unsupported(t *testing.T) {
	config := Default()
	config.KeyExchange.Algorithm = "dh"

	_, err := config.NewKeyAgent()
	require.EqualError(t, err, `unsupported key exchange algorithm "dh"`)
}

func TestNewClient(t *testing.T) {
	config := Default()
	config.KeyExchange = KeyExchange{Algorithm: keyagent.AlgorithmHPKEX25519}

	client, err := config.NewClient()
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, session.StateUninitialized, client.State())
	assert.Equal(t, session.Capabilities{}, client.Capabilities())
}
