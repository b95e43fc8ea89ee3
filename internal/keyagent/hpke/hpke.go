// Package hpke implements an opt-in key agent based on HPKE (RFC 9180) with
// DHKEM(X25519), HKDF-SHA256 and AES-256-GCM.
//
// The public key is published as the standard base64 encoding of the raw KEM
// public key. Each encrypted field is the encapsulated key followed by the
// AEAD ciphertext.
package hpke

import (
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
	"strings"

	"filippo.io/hpke"
)

// KeyType is sent in the handshake request so the server knows to encrypt
// with HPKE instead of RSA-OAEP.
const KeyType = "hpke-x25519"

// encapsulatedKeySize is the length of the DHKEM(X25519) encapsulated key.
const encapsulatedKeySize = 32

// DefaultKEM returns the KEM used by the agent: X25519 Diffie-Hellman.
func DefaultKEM() hpke.KEM {
	return hpke.DHKEM(ecdh.X25519())
}

// DefaultKDF returns HKDF with SHA-256.
func DefaultKDF() hpke.KDF {
	return hpke.HKDFSHA256()
}

// DefaultAEAD returns AES-256-GCM.
func DefaultAEAD() hpke.AEAD {
	return hpke.AES256GCM()
}

// GenerateKeyPair generates a new HPKE key pair using the default KEM.
func GenerateKeyPair() (hpke.PublicKey, hpke.PrivateKey, error) {
	privateKey, err := DefaultKEM().GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate HPKE key pair: %w", err)
	}

	return privateKey.PublicKey(), privateKey, nil
}

// EncodePublicKey returns the wire encoding of publicKey.
func EncodePublicKey(publicKey hpke.PublicKey) []byte {
	return []byte(base64.StdEncoding.EncodeToString(publicKey.Bytes()))
}

// ParsePublicKey reverses EncodePublicKey.
func ParsePublicKey(data []byte) (hpke.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode HPKE public key: %w", err)
	}

	publicKey, err := DefaultKEM().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HPKE public key: %w", err)
	}

	return publicKey, nil
}
