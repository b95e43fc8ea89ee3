package rsa

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/jetstack/securesession/internal/keyagent"
)

var _ keyagent.Agent = (*Agent)(nil)

// Options configures an Agent. The zero value gives a 2048 bit key, OAEP
// with SHA-1 and a PEM encoded public key.
type Options struct {
	KeySize  int
	OAEPHash string
	Encoding string
}

// Agent holds an RSA keypair and decrypts RSA-OAEP encrypted fields.
type Agent struct {
	mu       sync.RWMutex
	key      *rsa.PrivateKey
	hash     crypto.Hash
	encoding string
}

// GenerateAgent generates a fresh keypair and returns an Agent for it.
func GenerateAgent(opts Options) (*Agent, error) {
	if opts.KeySize == 0 {
		opts.KeySize = DefaultKeySize
	}

	if opts.KeySize < minRSAKeySize {
		return nil, fmt.Errorf("RSA key size must be at least %d bits, got %d bits", minRSAKeySize, opts.KeySize)
	}

	if _, err := hashFor(opts.OAEPHash); err != nil {
		return nil, err
	}

	key, err := rsa.GenerateKey(rand.Reader, opts.KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	return NewAgent(key, opts)
}

// NewAgent returns an Agent for an existing private key. The agent takes
// ownership of the key and zeroes it on Wipe.
func NewAgent(key *rsa.PrivateKey, opts Options) (*Agent, error) {
	if key == nil {
		return nil, fmt.Errorf("RSA private key cannot be nil")
	}

	if err := validateKeySize(&key.PublicKey); err != nil {
		return nil, err
	}

	hash, err := hashFor(opts.OAEPHash)
	if err != nil {
		return nil, err
	}

	switch opts.Encoding {
	case "":
		opts.Encoding = EncodingPEM
	case EncodingPEM, EncodingJWK:
	default:
		return nil, fmt.Errorf("unsupported public key encoding %q (expected %q or %q)", opts.Encoding, EncodingPEM, EncodingJWK)
	}

	return &Agent{
		key:      key,
		hash:     hash,
		encoding: opts.Encoding,
	}, nil
}

func (a *Agent) Algorithm() string {
	return keyagent.AlgorithmRSAOAEP
}

// PublicKey returns the public key in the configured encoding.
func (a *Agent) PublicKey() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.key == nil {
		return nil, keyagent.ErrWiped
	}

	if a.encoding == EncodingJWK {
		return encodeJWK(&a.key.PublicKey, a.hash)
	}

	return encodePEM(&a.key.PublicKey)
}

func (a *Agent) DecryptFields(payload map[string][]byte, fields []string) (map[string][]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return keyagent.DecryptFields(payload, fields, func(ciphertext []byte) ([]byte, error) {
		if a.key == nil {
			return nil, keyagent.ErrWiped
		}

		plaintext, err := rsa.DecryptOAEP(a.hash.New(), rand.Reader, a.key, ciphertext, nil)
		if err != nil {
			return nil, err
		}

		return plaintext, nil
	})
}

// Wipe zeroes the private exponent and primes and drops the key.
func (a *Agent) Wipe() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.key == nil {
		return
	}

	a.key.D.SetInt64(0)
	for _, p := range a.key.Primes {
		p.SetInt64(0)
	}
	a.key = nil
}
