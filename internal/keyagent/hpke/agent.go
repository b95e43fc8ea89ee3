package hpke

import (
	"fmt"
	"sync"

	"filippo.io/hpke"

	"github.com/jetstack/securesession/internal/keyagent"
)

var _ keyagent.Agent = (*Agent)(nil)

// Agent holds an X25519 keypair and opens HPKE sealed fields.
type Agent struct {
	mu         sync.RWMutex
	privateKey hpke.PrivateKey
	publicKey  hpke.PublicKey
	kdf        hpke.KDF
	aead       hpke.AEAD
}

// GenerateAgent generates a fresh keypair and returns an Agent for it.
func GenerateAgent() (*Agent, error) {
	_, privateKey, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	return NewAgent(privateKey)
}

// NewAgent creates a new Agent with the provided HPKE private key.
func NewAgent(privateKey hpke.PrivateKey) (*Agent, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("HPKE private key cannot be nil")
	}

	return &Agent{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
		kdf:        DefaultKDF(),
		aead:       DefaultAEAD(),
	}, nil
}

func (a *Agent) Algorithm() string {
	return keyagent.AlgorithmHPKEX25519
}

func (a *Agent) PublicKey() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.privateKey == nil {
		return nil, keyagent.ErrWiped
	}

	return EncodePublicKey(a.publicKey), nil
}

func (a *Agent) DecryptFields(payload map[string][]byte, fields []string) (map[string][]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return keyagent.DecryptFields(payload, fields, a.open)
}

func (a *Agent) open(field []byte) ([]byte, error) {
	if a.privateKey == nil {
		return nil, keyagent.ErrWiped
	}

	if len(field) <= encapsulatedKeySize {
		return nil, fmt.Errorf("ciphertext is too short")
	}

	// Cap the encapsulated key slice: the KEM appends to it while decapsulating.
	encapsulatedKey := field[:encapsulatedKeySize:encapsulatedKeySize]

	recipient, err := hpke.NewRecipient(encapsulatedKey, a.privateKey, a.kdf, a.aead, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HPKE recipient: %w", err)
	}

	plaintext, err := recipient.Open(nil, field[encapsulatedKeySize:])
	if err != nil {
		return nil, fmt.Errorf("failed to open HPKE ciphertext: %w", err)
	}

	return plaintext, nil
}

// Wipe drops the private key. The underlying ecdh key offers no way to zero
// its scalar in place.
func (a *Agent) Wipe() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.privateKey = nil
}
