// Package keyagent holds the asymmetric half of the session handshake.
//
// An Agent owns one keypair for the lifetime of a client. The public key is
// sent to the server in the clear and the server uses it to encrypt the
// symmetric key material it hands back. The private key never leaves the
// agent; callers can only ask it to decrypt named fields of a response.
//
// Two implementations exist: RSA-OAEP in the rsa subpackage, which is what
// servers expect by default, and HPKE over X25519 in the hpke subpackage.
package keyagent

import (
	"errors"
	"fmt"
)

const (
	// AlgorithmRSAOAEP identifies the RSA-OAEP agent.
	AlgorithmRSAOAEP = "rsa-oaep"

	// AlgorithmHPKEX25519 identifies the HPKE agent using DHKEM(X25519),
	// HKDF-SHA256 and AES-256-GCM.
	AlgorithmHPKEX25519 = "hpke-x25519"
)

var (
	// ErrDecryption is wrapped by every field decryption failure.
	ErrDecryption = errors.New("field decryption failed")

	// ErrWiped is returned once an agent's private key has been wiped.
	ErrWiped = errors.New("private key has been wiped")
)

// Agent generates and holds a keypair and decrypts response fields that were
// encrypted to its public key.
type Agent interface {
	// Algorithm returns one of the Algorithm constants.
	Algorithm() string

	// PublicKey returns the wire encoding of the public key.
	PublicKey() ([]byte, error)

	// DecryptFields returns a copy of payload in which each named field has
	// been decrypted. Fields not named are copied unchanged.
	DecryptFields(payload map[string][]byte, fields []string) (map[string][]byte, error)

	// Wipe destroys the private key. Later calls to DecryptFields fail.
	Wipe()
}

// FieldError reports which field could not be decrypted. It matches
// ErrDecryption with errors.Is.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("failed to decrypt field %q: %s", e.Field, e.Err)
}

func (e *FieldError) Unwrap() []error {
	return []error{ErrDecryption, e.Err}
}

// DecryptFields implements the shared part of Agent.DecryptFields: it copies
// payload and replaces each named field with the output of decrypt. A field
// that is missing or empty is an error.
func DecryptFields(payload map[string][]byte, fields []string, decrypt func([]byte) ([]byte, error)) (map[string][]byte, error) {
	out := make(map[string][]byte, len(payload))
	for k, v := range payload {
		out[k] = v
	}

	for _, field := range fields {
		ciphertext, ok := payload[field]
		if !ok {
			return nil, &FieldError{Field: field, Err: errors.New("field is missing")}
		}

		if len(ciphertext) == 0 {
			return nil, &FieldError{Field: field, Err: errors.New("field is empty")}
		}

		plaintext, err := decrypt(ciphertext)
		if err != nil {
			return nil, &FieldError{Field: field, Err: err}
		}

		out[field] = plaintext
	}

	return out, nil
}
