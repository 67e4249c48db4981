package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.EncryptValue("s3cret-password")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))
	assert.NotContains(t, sealed, "s3cret-password")

	plain, err := c.DecryptValue(sealed)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-password", plain)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()

	c1, err := NewCipher(key1)
	require.NoError(t, err)
	c2, err := NewCipher(key2)
	require.NoError(t, err)

	sealed, err := c1.EncryptValue("value")
	require.NoError(t, err)

	_, err = c2.DecryptValue(sealed)
	require.Error(t, err)
}

func TestNewCipherRejectsBadKeys(t *testing.T) {
	_, err := NewCipher("not-base64!!!")
	require.Error(t, err)

	_, err = NewCipher("c2hvcnQ=") // valid base64, wrong length
	require.Error(t, err)
}

func TestIsEncrypted(t *testing.T) {
	assert.True(t, IsEncrypted("ENC(abc)"))
	assert.False(t, IsEncrypted("abc"))
	assert.False(t, IsEncrypted("ENC(abc"))
	assert.False(t, IsEncrypted("abc)"))
}

func TestDecryptRejectsMalformedEnvelopes(t *testing.T) {
	key, _ := GenerateKey()
	c, err := NewCipher(key)
	require.NoError(t, err)

	_, err = c.DecryptValue("plaintext")
	require.Error(t, err)

	_, err = c.DecryptValue("ENC(%%%)")
	require.Error(t, err)

	_, err = c.DecryptValue("ENC(YQ==)") // shorter than a nonce
	require.Error(t, err)
}
