package service

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = Params{N: 1 << 10, R: 8, P: 1}

func TestVault_RoundTrip(t *testing.T) {
	v := NewWithParams("correct horse", testParams)

	ct, err := v.Encrypt("okx-secret-123")
	require.NoError(t, err)
	assert.NotContains(t, ct, "okx-secret-123")

	pt, err := v.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "okx-secret-123", pt)
}

func TestVault_FreshSaltPerEncrypt(t *testing.T) {
	v := NewWithParams("pass", testParams)
	a, err := v.Encrypt("same")
	require.NoError(t, err)
	b, err := v.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVault_WrongPassphrase(t *testing.T) {
	ct, err := NewWithParams("one", testParams).Encrypt("secret")
	require.NoError(t, err)

	_, err = NewWithParams("two", testParams).Decrypt(ct)
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func TestVault_Tampered(t *testing.T) {
	v := NewWithParams("pass", testParams)
	ct, err := v.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = v.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.True(t, errors.Is(err, ErrCorrupted))

	_, err = v.Decrypt("not base64 !!")
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func TestVault_NoPassphrase(t *testing.T) {
	_, err := NewWithParams("", testParams).Encrypt("x")
	assert.True(t, errors.Is(err, ErrNoPassphrase))
}
