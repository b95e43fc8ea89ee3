package hpke

import (
	"fmt"

	"filippo.io/hpke"
)

// Encryptor seals fields to a client's HPKE public key.
type Encryptor struct {
	publicKey hpke.PublicKey
	kdf       hpke.KDF
	aead      hpke.AEAD
}

// NewEncryptor creates a new Encryptor with the provided HPKE public key.
func NewEncryptor(publicKey hpke.PublicKey) (*Encryptor, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("HPKE public key cannot be nil")
	}

	return &Encryptor{
		publicKey: publicKey,
		kdf:       DefaultKDF(),
		aead:      DefaultAEAD(),
	}, nil
}

// NewEncryptorFromWire parses a published public key and returns an
// Encryptor for it.
func NewEncryptorFromWire(data []byte) (*Encryptor, error) {
	publicKey, err := ParsePublicKey(data)
	if err != nil {
		return nil, err
	}

	return NewEncryptor(publicKey)
}

// EncryptField seals plaintext with a fresh sender context and returns the
// encapsulated key followed by the ciphertext.
func (e *Encryptor) EncryptField(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("data to encrypt cannot be empty")
	}

	encapsulatedKey, sender, err := hpke.NewSender(e.publicKey, e.kdf, e.aead, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HPKE sender: %w", err)
	}

	ciphertext, err := sender.Seal(nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to seal data with HPKE: %w", err)
	}

	return append(encapsulatedKey, ciphertext...), nil
}
