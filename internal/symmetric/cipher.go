package symmetric

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"
)

var (
	// ErrEncryption is wrapped by every error returned from Cipher.Encrypt.
	ErrEncryption = errors.New("symmetric encryption failed")

	// ErrDecryption is wrapped by every error returned from Cipher.Decrypt.
	ErrDecryption = errors.New("symmetric decryption failed")

	errWiped = errors.New("cipher key material has been wiped")
)

// Cipher encrypts and decrypts field values with a fixed AES key and IV.
// It is safe for concurrent use.
type Cipher struct {
	mu    sync.Mutex
	key   []byte
	iv    []byte
	block cipher.Block
}

// New returns a Cipher for the given key and IV. The key must be 16, 24 or 32
// bytes long and the IV must be exactly one AES block. Both are copied, so the
// caller may wipe its own buffers afterwards.
func New(key, iv []byte) (*Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("AES key must be 16, 24 or 32 bytes, got %d bytes", len(key))
	}

	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("IV must be %d bytes, got %d bytes", aes.BlockSize, len(iv))
	}

	c := &Cipher{
		key: append([]byte(nil), key...),
		iv:  append([]byte(nil), iv...),
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	c.block = block

	return c, nil
}

// Encrypt pads plaintext to a whole number of blocks and encrypts it with the
// session key and IV.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	if !utf8.ValidString(plaintext) {
		return nil, fmt.Errorf("%w: plaintext is not valid UTF-8", ErrEncryption)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.block == nil {
		return nil, fmt.Errorf("%w: %s", ErrEncryption, errWiped)
	}

	padded := pad([]byte(plaintext))

	mode := cipher.NewCBCEncrypter(c.block, c.iv)
	ciphertext := make([]byte, len(padded))
	mode.CryptBlocks(ciphertext, padded)

	return ciphertext, nil
}

// Decrypt reverses Encrypt. It fails if the ciphertext is not a whole number
// of blocks, if the padding is invalid, or if the result is not UTF-8.
func (c *Cipher) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a whole number of blocks", ErrDecryption)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.block == nil {
		return "", fmt.Errorf("%w: %s", ErrDecryption, errWiped)
	}

	mode := cipher.NewCBCDecrypter(c.block, c.iv)
	padded := make([]byte, len(ciphertext))
	mode.CryptBlocks(padded, ciphertext)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecryption, err)
	}

	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrDecryption)
	}

	return string(plaintext), nil
}

// Wipe zeroes the key and IV. Every later call to Encrypt or Decrypt fails.
func (c *Cipher) Wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()

	zero(c.key)
	zero(c.iv)
	c.block = nil
}

// pad applies PKCS#7 padding; a full block of padding is added when the input
// is already block aligned.
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	for i := 0; i < n; i++ {
		out = append(out, byte(n))
	}
	return out
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.New("padding error")
	}

	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("padding error")
		}
	}

	return b[:len(b)-n], nil
}

func zero(b []byte) {
	clear(b)
}
