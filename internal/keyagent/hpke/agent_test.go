package hpke_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetstack/securesession/internal/keyagent"
	"github.com/jetstack/securesession/internal/keyagent/hpke"
)

func TestNewAgent_NilKey(t *testing.T) {
	agent, err := hpke.NewAgent(nil)
	require.Error(t, err)
	require.Nil(t, agent)
	require.Contains(t, err.Error(), "cannot be nil")
}

func TestNewEncryptor_NilKey(t *testing.T) {
	enc, err := hpke.NewEncryptor(nil)
	require.Error(t, err)
	require.Nil(t, enc)
	require.Contains(t, err.Error(), "cannot be nil")
}

func TestDecryptFields_RoundTrip(t *testing.T) {
	agent, err := hpke.GenerateAgent()
	require.NoError(t, err)
	assert.Equal(t, keyagent.AlgorithmHPKEX25519, agent.Algorithm())

	published, err := agent.PublicKey()
	require.NoError(t, err)

	enc, err := hpke.NewEncryptorFromWire(published)
	require.NoError(t, err)

	aesKey, err := enc.EncryptField([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	iv, err := enc.EncryptField([]byte("fedcba9876543210"))
	require.NoError(t, err)

	got, err := agent.DecryptFields(map[string][]byte{
		"aesKey":    aesKey,
		"ivector":   iv,
		"sessionId": []byte("S1"),
	}, []string{"aesKey", "ivector"})
	require.NoError(t, err)

	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), got["aesKey"])
	assert.Equal(t, []byte("fedcba9876543210"), got["ivector"])
	assert.Equal(t, []byte("S1"), got["sessionId"])
}

func TestDecryptFields_LeavesPayloadUntouched(t *testing.T) {
	agent, err := hpke.GenerateAgent()
	require.NoError(t, err)

	published, err := agent.PublicKey()
	require.NoError(t, err)

	enc, err := hpke.NewEncryptorFromWire(published)
	require.NoError(t, err)

	sealed, err := enc.EncryptField([]byte("0123456789abcdef"))
	require.NoError(t, err)
	original := bytes.Clone(sealed)

	got, err := agent.DecryptFields(map[string][]byte{"ivector": sealed}, []string{"ivector"})
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), got["ivector"])
	assert.Equal(t, original, sealed)

	// A second open of the same buffer only works if the first left it intact.
	got, err = agent.DecryptFields(map[string][]byte{"ivector": sealed}, []string{"ivector"})
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), got["ivector"])
}

func TestEncryptField_NonDeterministic(t *testing.T) {
	publicKey, _, err := hpke.GenerateKeyPair()
	require.NoError(t, err)

	enc, err := hpke.NewEncryptor(publicKey)
	require.NoError(t, err)

	first, err := enc.EncryptField([]byte("same"))
	require.NoError(t, err)
	second, err := enc.EncryptField([]byte("same"))
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestDecryptFields_WrongKey(t *testing.T) {
	publicKey1, _, err := hpke.GenerateKeyPair()
	require.NoError(t, err)

	agent, err := hpke.GenerateAgent()
	require.NoError(t, err)

	enc, err := hpke.NewEncryptor(publicKey1)
	require.NoError(t, err)

	ciphertext, err := enc.EncryptField([]byte("test data"))
	require.NoError(t, err)

	_, err = agent.DecryptFields(map[string][]byte{"aesKey": ciphertext}, []string{"aesKey"})
	require.ErrorIs(t, err, keyagent.ErrDecryption)

	var fieldErr *keyagent.FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "aesKey", fieldErr.Field)
}

func TestDecryptFields_Tampered(t *testing.T) {
	agent, err := hpke.GenerateAgent()
	require.NoError(t, err)

	published, err := agent.PublicKey()
	require.NoError(t, err)
	enc, err := hpke.NewEncryptorFromWire(published)
	require.NoError(t, err)

	ciphertext, err := enc.EncryptField([]byte("test data"))
	require.NoError(t, err)

	tests := map[string][]byte{
		"flipped bit": append(append([]byte(nil), ciphertext[:len(ciphertext)-1]...), ciphertext[len(ciphertext)-1]^1),
		"too short":   ciphertext[:16],
	}

	for name, field := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := agent.DecryptFields(map[string][]byte{"ivector": field}, []string{"ivector"})
			require.ErrorIs(t, err, keyagent.ErrDecryption)
		})
	}
}

func TestWipe(t *testing.T) {
	agent, err := hpke.GenerateAgent()
	require.NoError(t, err)

	published, err := agent.PublicKey()
	require.NoError(t, err)
	enc, err := hpke.NewEncryptorFromWire(published)
	require.NoError(t, err)
	ciphertext, err := enc.EncryptField([]byte("secret"))
	require.NoError(t, err)

	agent.Wipe()

	_, err = agent.PublicKey()
	require.ErrorIs(t, err, keyagent.ErrWiped)

	_, err = agent.DecryptFields(map[string][]byte{"aesKey": ciphertext}, []string{"aesKey"})
	require.ErrorIs(t, err, keyagent.ErrWiped)
}

func TestParsePublicKey_Errors(t *testing.T) {
	_, err := hpke.ParsePublicKey([]byte("not base64!"))
	require.ErrorContains(t, err, "failed to decode HPKE public key")

	_, err = hpke.ParsePublicKey([]byte("AAAA"))
	require.ErrorContains(t, err, "failed to parse HPKE public key")
}
