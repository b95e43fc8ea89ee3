package rsa

import (
	"crypto"
	"crypto/rsa"
	_ "crypto/sha1"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

const (
	// minRSAKeySize is the minimum RSA key size in bits; 2048 is a sane floor
	// to enforce to ensure that a weak key can't accidentally be used
	minRSAKeySize = 2048

	// DefaultKeySize is used when no key size is configured.
	DefaultKeySize = 2048

	HashSHA1   = "sha1"
	HashSHA256 = "sha256"

	EncodingPEM = "pem"
	EncodingJWK = "jwk"
)

// hashFor maps a configured OAEP hash name to the crypto.Hash used for both
// the OAEP digest and MGF1.
func hashFor(name string) (crypto.Hash, error) {
	switch name {
	case "", HashSHA1:
		return crypto.SHA1, nil
	case HashSHA256:
		return crypto.SHA256, nil
	default:
		return 0, fmt.Errorf("unsupported OAEP hash %q (expected %q or %q)", name, HashSHA1, HashSHA256)
	}
}

func jwkAlgorithm(hash crypto.Hash) jwa.KeyEncryptionAlgorithm {
	if hash == crypto.SHA256 {
		return jwa.RSA_OAEP_256()
	}
	return jwa.RSA_OAEP()
}

// encodePEM returns the PKIX "PUBLIC KEY" PEM encoding of pub.
func encodePEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RSA public key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// encodeJWK returns the JSON JWK encoding of pub with the alg header set to
// the OAEP variant in use.
func encodeJWK(pub *rsa.PublicKey, hash crypto.Hash) ([]byte, error) {
	key, err := jwk.Import(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to import RSA public key as JWK: %w", err)
	}

	if err := key.Set(jwk.AlgorithmKey, jwkAlgorithm(hash)); err != nil {
		return nil, fmt.Errorf("failed to set JWK algorithm: %w", err)
	}

	out, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JWK: %w", err)
	}

	return out, nil
}

// ParsePublicKey parses an RSA public key from its wire encoding, which is
// either a PEM block ("PUBLIC KEY" or "RSA PUBLIC KEY") or a JWK. When the
// key is a JWK carrying an alg header, the matching OAEP hash name is
// returned too; otherwise the returned hash name is empty.
func ParsePublicKey(data []byte) (*rsa.PublicKey, string, error) {
	trimmed := strings.TrimSpace(string(data))

	if strings.HasPrefix(trimmed, "{") {
		return parseJWK([]byte(trimmed))
	}

	pub, err := parsePEM([]byte(trimmed))
	if err != nil {
		return nil, "", err
	}

	return pub, "", nil
}

func parsePEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	switch block.Type {
	case "PUBLIC KEY":
		pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
		}

		rsaKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA public key, got %T", pubKey)
		}

		return rsaKey, nil

	case "RSA PUBLIC KEY":
		rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS1 RSA public key: %w", err)
		}

		return rsaKey, nil
	}

	return nil, fmt.Errorf("unsupported PEM block type: %s (expected PUBLIC KEY or RSA PUBLIC KEY)", block.Type)
}

func parseJWK(data []byte) (*rsa.PublicKey, string, error) {
	key, err := jwk.ParseKey(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse JWK: %w", err)
	}

	var pub rsa.PublicKey
	if err := jwk.Export(key, &pub); err != nil {
		return nil, "", fmt.Errorf("key is not an RSA public key: %w", err)
	}

	hash := ""
	if alg, ok := key.Algorithm(); ok {
		switch alg.String() {
		case jwa.RSA_OAEP().String():
			hash = HashSHA1
		case jwa.RSA_OAEP_256().String():
			hash = HashSHA256
		default:
			return nil, "", fmt.Errorf("unsupported JWK algorithm %q", alg.String())
		}
	}

	return &pub, hash, nil
}

func validateKeySize(pub *rsa.PublicKey) error {
	keySize := pub.N.BitLen()
	if keySize < minRSAKeySize {
		return fmt.Errorf("RSA key size must be at least %d bits, got %d bits", minRSAKeySize, keySize)
	}
	return nil
}
