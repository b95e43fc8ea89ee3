// Package config reads the securesession client configuration file and the
// credentials and users files.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/jetstack/securesession/internal/keyagent"
	"github.com/jetstack/securesession/internal/keyagent/hpke"
	"github.com/jetstack/securesession/internal/keyagent/rsa"
	"github.com/jetstack/securesession/pkg/session"
	"github.com/jetstack/securesession/pkg/transport"
)

const (
	// DefaultURL matches the document server's default listen address.
	DefaultURL = "http://127.0.0.1:8080/"

	DefaultTimeout = 10 * time.Second
)

// Config wraps the options for a client session.
type Config struct {
	Server      Server      `yaml:"server"`
	Session     Session     `yaml:"session"`
	KeyExchange KeyExchange `yaml:"keyExchange"`
}

// Server is the configuration of the document server.
type Server struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	Endpoints Endpoints     `yaml:"endpoints"`
}

// Endpoints are paths relative to Server.URL.
type Endpoints struct {
	Handshake string `yaml:"handshake"`
	Login     string `yaml:"login"`
	Verify    string `yaml:"verify"`
}

// Session holds the capabilities requested in the handshake. Encryption is
// a pointer so that an explicit false can be told apart from unset.
type Session struct {
	Encryption   *bool `yaml:"encryption"`
	Verification bool  `yaml:"verification"`
}

// KeyExchange selects and configures the key agent.
type KeyExchange struct {
	Algorithm         string `yaml:"algorithm"`
	RSAKeySize        int    `yaml:"rsaKeySize,omitempty"`
	OAEPHash          string `yaml:"oaepHash,omitempty"`
	PublicKeyEncoding string `yaml:"publicKeyEncoding,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.URL == "" {
		c.Server.URL = DefaultURL
	}

	if c.Server.Timeout == 0 {
		c.Server.Timeout = DefaultTimeout
	}

	if c.Server.Endpoints.Handshake == "" {
		c.Server.Endpoints.Handshake = session.DefaultHandshakePath
	}

	if c.Server.Endpoints.Login == "" {
		c.Server.Endpoints.Login = session.DefaultLoginPath
	}

	if c.Server.Endpoints.Verify == "" {
		c.Server.Endpoints.Verify = session.DefaultVerifyPath
	}

	if c.Session.Encryption == nil {
		encryption := true
		c.Session.Encryption = &encryption
	}

	if c.KeyExchange.Algorithm == "" {
		c.KeyExchange.Algorithm = keyagent.AlgorithmRSAOAEP
	}

	if c.KeyExchange.Algorithm == keyagent.AlgorithmRSAOAEP {
		if c.KeyExchange.RSAKeySize == 0 {
			c.KeyExchange.RSAKeySize = rsa.DefaultKeySize
		}

		if c.KeyExchange.OAEPHash == "" {
			c.KeyExchange.OAEPHash = rsa.HashSHA1
		}

		if c.KeyExchange.PublicKeyEncoding == "" {
			c.KeyExchange.PublicKeyEncoding = rsa.EncodingPEM
		}
	}
}

// Dump generates a YAML string of the Config object
func (c *Config) Dump() (string, error) {
	d, err := yaml.Marshal(&c)

	if err != nil {
		return "", errors.Wrap(err, "failed to generate YAML dump of config")
	}

	return string(d), nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.URL == "" {
		result = multierror.Append(result, fmt.Errorf("server.url is required"))
	} else if u, err := url.Parse(c.Server.URL); err != nil {
		result = multierror.Append(result, fmt.Errorf("server.url is invalid: %s", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		result = multierror.Append(result, fmt.Errorf("server.url must use http or https, got %q", u.Scheme))
	} else if u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("server.url must include a host"))
	}

	if c.Server.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("server.timeout cannot be negative"))
	}

	if c.Server.Endpoints.Handshake == "" {
		result = multierror.Append(result, fmt.Errorf("server.endpoints.handshake is required"))
	}

	if c.Server.Endpoints.Login == "" {
		result = multierror.Append(result, fmt.Errorf("server.endpoints.login is required"))
	}

	if c.Server.Endpoints.Verify == "" {
		result = multierror.Append(result, fmt.Errorf("server.endpoints.verify is required"))
	}

	kx := c.KeyExchange
	switch kx.Algorithm {
	case keyagent.AlgorithmRSAOAEP:
		if kx.RSAKeySize < rsa.DefaultKeySize {
			result = multierror.Append(result, fmt.Errorf("keyExchange.rsaKeySize must be at least %d, got %d", rsa.DefaultKeySize, kx.RSAKeySize))
		}

		if kx.OAEPHash != rsa.HashSHA1 && kx.OAEPHash != rsa.HashSHA256 {
			result = multierror.Append(result, fmt.Errorf("keyExchange.oaepHash must be %q or %q, got %q", rsa.HashSHA1, rsa.HashSHA256, kx.OAEPHash))
		}

		if kx.PublicKeyEncoding != rsa.EncodingPEM && kx.PublicKeyEncoding != rsa.EncodingJWK {
			result = multierror.Append(result, fmt.Errorf("keyExchange.publicKeyEncoding must be %q or %q, got %q", rsa.EncodingPEM, rsa.EncodingJWK, kx.PublicKeyEncoding))
		}

	case keyagent.AlgorithmHPKEX25519:
		if kx.RSAKeySize != 0 || kx.OAEPHash != "" || kx.PublicKeyEncoding != "" {
			result = multierror.Append(result, fmt.Errorf("keyExchange.rsaKeySize, oaepHash and publicKeyEncoding only apply to %s", keyagent.AlgorithmRSAOAEP))
		}

	default:
		result = multierror.Append(result, fmt.Errorf("keyExchange.algorithm must be %q or %q, got %q", keyagent.AlgorithmRSAOAEP, keyagent.AlgorithmHPKEX25519, kx.Algorithm))
	}

	return result.ErrorOrNil()
}

// ParseConfig reads a YAML configuration, fills in defaults and validates
// the result.
func ParseConfig(data []byte) (Config, error) {
	var config Config

	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return config, errors.Wrap(err, "failed to parse config")
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// SessionOptions converts the configuration into session.Options.
func (c *Config) SessionOptions() session.Options {
	encryption := c.Session.Encryption == nil || *c.Session.Encryption

	return session.Options{
		BaseURL: c.Server.URL,
		Endpoints: session.Endpoints{
			Handshake: c.Server.Endpoints.Handshake,
			Login:     c.Server.Endpoints.Login,
			Verify:    c.Server.Endpoints.Verify,
		},
		Capabilities: session.Capabilities{
			Encryption:   encryption,
			Verification: c.Session.Verification,
		},
	}
}

// NewKeyAgent generates the keypair selected by the configuration.
func (c *Config) NewKeyAgent() (session.KeyAgent, error) {
	switch c.KeyExchange.Algorithm {
	case keyagent.AlgorithmHPKEX25519:
		return hpke.GenerateAgent()
	case keyagent.AlgorithmRSAOAEP, "":
		return rsa.GenerateAgent(rsa.Options{
			KeySize:  c.KeyExchange.RSAKeySize,
			OAEPHash: c.KeyExchange.OAEPHash,
			Encoding: c.KeyExchange.PublicKeyEncoding,
		})
	default:
		return nil, fmt.Errorf("unsupported key exchange algorithm %q", c.KeyExchange.Algorithm)
	}
}

// NewClient returns an unconnected session client with a fresh key agent and
// an HTTP transport using the configured timeout.
func (c *Config) NewClient() (*session.Client, error) {
	agent, err := c.NewKeyAgent()
	if err != nil {
		return nil, fmt.Errorf("failed to create key agent: %w", err)
	}

	client, err := session.New(transport.NewHTTP(c.Server.Timeout), agent, c.SessionOptions())
	if err != nil {
		agent.Wipe()
		return nil, err
	}

	return client, nil
}
