package signer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMasterKeyCipher_SealOpenRoundTrip(t *testing.T) {
	key, err := GenerateMasterKey()
	require.NoError(t, err)

	c, err := NewMasterKeyCipher(key)
	require.NoError(t, err)

	secret := []byte("01234567890123456789012345678901") // 33 bytes, arbitrary payload
	sealed, err := c.Seal(secret)
	require.NoError(t, err)
	require.NotEmpty(t, sealed)

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, secret, opened)
}

func TestMasterKeyCipher_WrongKeyFailsToOpen(t *testing.T) {
	key1, err := GenerateMasterKey()
	require.NoError(t, err)
	key2, err := GenerateMasterKey()
	require.NoError(t, err)

	c1, err := NewMasterKeyCipher(key1)
	require.NoError(t, err)
	c2, err := NewMasterKeyCipher(key2)
	require.NoError(t, err)

	sealed, err := c1.Seal([]byte("top secret"))
	require.NoError(t, err)

	_, err = c2.Open(sealed)
	require.Error(t, err)
}

func TestNewMasterKeyCipher_RejectsWrongLength(t *testing.T) {
	_, err := NewMasterKeyCipher([]byte("too short"))
	require.Error(t, err)
}

func TestMasterKeyFromBase64_RoundTrip(t *testing.T) {
	key, err := GenerateMasterKey()
	require.NoError(t, err)

	encoded := MasterKeyToBase64(key)
	decoded, err := MasterKeyFromBase64(encoded)
	require.NoError(t, err)
	require.Equal(t, key, decoded)
}
