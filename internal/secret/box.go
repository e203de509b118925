package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// Prefix marks sealed values so plain values written before a key was configured stay readable.
const Prefix = "sealed:"

const nonceSize = 24

var ErrEmptyKey = errors.New("secret key is empty")

// Box seals config values with NaCl secretbox under a key derived from a passphrase.
type Box struct {
	key [32]byte
}

func NewBox(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, ErrEmptyKey
	}
	box := &Box{}
	derived := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("go-poll global config"))
	if _, err := io.ReadFull(derived, box.key[:]); err != nil {
		return nil, fmt.Errorf("failed deriving secret key: %w", err)
	}
	return box, nil
}

func (b *Box) Seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &b.key)
	return Prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the prefix are returned as they are.
func (b *Box) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("failed decoding sealed value: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", errors.New("sealed value is truncated")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", errors.New("failed opening sealed value, wrong secret key?")
	}
	return string(plain), nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}
