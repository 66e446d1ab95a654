package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	version  byte = 1
	saltSize      = 16
	keySize       = chacha20poly1305.KeySize
)

var (
	ErrNoPassphrase = errors.New("vault: passphrase is not configured")
	ErrCorrupted    = errors.New("vault: ciphertext is corrupted or key is wrong")
)

// Params scrypt cost. Tests lower N.
type Params struct {
	N, R, P int
}

var DefaultParams = Params{N: 1 << 15, R: 8, P: 1}

// Vault шифрует API-секреты на диске. Формат:
// base64(version | salt | nonce | sealed).
type Vault struct {
	passphrase []byte
	params     Params
}

func New(passphrase string) *Vault {
	return NewWithParams(passphrase, DefaultParams)
}

func NewWithParams(passphrase string, params Params) *Vault {
	return &Vault{passphrase: []byte(passphrase), params: params}
}

func (v *Vault) deriveKey(salt []byte) ([]byte, error) {
	if len(v.passphrase) == 0 {
		return nil, ErrNoPassphrase
	}
	key, err := scrypt.Key(v.passphrase, salt, v.params.N, v.params.R, v.params.P, keySize)
	if err != nil {
		return nil, errors.Wrap(err, "vault: derive key")
	}
	return key, nil
}

// Encrypt ...
func (v *Vault) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "vault: salt")
	}
	key, err := v.deriveKey(salt)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", errors.Wrap(err, "vault: cipher")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "vault: nonce")
	}

	out := make([]byte, 0, 1+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, version)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), []byte{version})
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt ...
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	nonceSize := chacha20poly1305.NonceSizeX
	if len(raw) < 1+saltSize+nonceSize+chacha20poly1305.Overhead {
		return "", ErrCorrupted
	}
	if raw[0] != version {
		return "", fmt.Errorf("%w: unsupported version %d", ErrCorrupted, raw[0])
	}
	salt := raw[1 : 1+saltSize]
	nonce := raw[1+saltSize : 1+saltSize+nonceSize]
	sealed := raw[1+saltSize+nonceSize:]

	key, err := v.deriveKey(salt)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", errors.Wrap(err, "vault: cipher")
	}
	plain, err := aead.Open(nil, nonce, sealed, []byte{version})
	if err != nil {
		return "", ErrCorrupted
	}
	return string(plain), nil
}
