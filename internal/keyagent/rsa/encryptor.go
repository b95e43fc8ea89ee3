package rsa

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// Encryptor encrypts fields to a client's RSA public key with RSA-OAEP.
type Encryptor struct {
	publicKey *rsa.PublicKey
	hash      crypto.Hash
}

// NewEncryptor creates a new Encryptor with the provided RSA public key.
// The RSA key must be at least minRSAKeySize bits.
func NewEncryptor(publicKey *rsa.PublicKey, oaepHash string) (*Encryptor, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("RSA public key cannot be nil")
	}

	if err := validateKeySize(publicKey); err != nil {
		return nil, err
	}

	hash, err := hashFor(oaepHash)
	if err != nil {
		return nil, err
	}

	return &Encryptor{
		publicKey: publicKey,
		hash:      hash,
	}, nil
}

// NewEncryptorFromWire parses a published public key and returns an
// Encryptor for it. A JWK alg header overrides defaultHash.
func NewEncryptorFromWire(data []byte, defaultHash string) (*Encryptor, error) {
	pub, hash, err := ParsePublicKey(data)
	if err != nil {
		return nil, err
	}

	if hash == "" {
		hash = defaultHash
	}

	return NewEncryptor(pub, hash)
}

// EncryptField encrypts a single value. The value must fit in one OAEP
// block, which is ample for symmetric key material.
func (e *Encryptor) EncryptField(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("data to encrypt cannot be empty")
	}

	ciphertext, err := rsa.EncryptOAEP(e.hash.New(), rand.Reader, e.publicKey, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt data: %w", err)
	}

	return ciphertext, nil
}
