package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCreds struct {
	Provider  string `json:"provider"`
	SecretKey string `json:"secret_key"`
	Env       string `json:"env"`
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := New("test-enc-key")

	in := testCreds{Provider: "flutterwave", SecretKey: "FLWSECK_TEST-abc", Env: "sandbox"}
	ct, err := v.Encrypt(in)
	require.NoError(t, err)
	assert.NotContains(t, ct, "FLWSECK_TEST-abc")

	var out testCreds
	require.NoError(t, v.Decrypt(ct, &out))
	assert.Equal(t, in, out)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	v := New("test-enc-key")

	a, err := v.Encrypt(map[string]string{"k": "v"})
	require.NoError(t, err)
	b, err := v.Encrypt(map[string]string{"k": "v"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "same plaintext must not produce identical ciphertext")
}

func TestMissingKeyFailsClosed(t *testing.T) {
	v := New("")
	assert.False(t, v.Ready())

	_, err := v.Encrypt(map[string]string{"k": "v"})
	assert.ErrorIs(t, err, ErrNoKey)

	var out map[string]string
	assert.ErrorIs(t, v.Decrypt("anything", &out), ErrNoKey)
}

func TestTamperedCiphertextRejected(t *testing.T) {
	v := New("test-enc-key")

	ct, err := v.Encrypt(testCreds{Provider: "mtn"})
	require.NoError(t, err)

	// Flip a character in the middle of the base64 payload.
	bad := []byte(ct)
	mid := len(bad) / 2
	if bad[mid] == 'A' {
		bad[mid] = 'B'
	} else {
		bad[mid] = 'A'
	}

	var out testCreds
	assert.ErrorIs(t, v.Decrypt(string(bad), &out), ErrCiphertext)
}

func TestWrongKeyRejected(t *testing.T) {
	ct, err := New("key-one").Encrypt(testCreds{Provider: "mtn"})
	require.NoError(t, err)

	var out testCreds
	assert.ErrorIs(t, New("key-two").Decrypt(ct, &out), ErrCiphertext)
}
