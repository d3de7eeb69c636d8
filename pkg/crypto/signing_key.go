package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretBytes is the shortest master secret accepted for key derivation.
const MinSecretBytes = 32

const signingKeyInfo = "pospay/payload-signing/"

var (
	ErrSecretTooShort = errors.New("signing secret must be at least 32 bytes")

	randomRead = rand.Read
)

// DecodeSecretHex parses a hex encoded master secret.
func DecodeSecretHex(secretHex string) ([]byte, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signing secret hex: %w", err)
	}
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	return secret, nil
}

// DeriveSigningKey derives the Ed25519 payload signing key for keyID from the
// master secret. The same secret and keyID always yield the same key, so every
// server replica signs with identical material without sharing a key file.
func DeriveSigningKey(secret []byte, keyID string) (ed25519.PrivateKey, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(signingKeyInfo+keyID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("failed to derive signing seed: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// GenerateRandomToken generates a random token of specified length
func GenerateRandomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := randomRead(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateSigningSecret returns a fresh hex encoded master secret.
func GenerateSigningSecret() (string, error) {
	return GenerateRandomToken(MinSecretBytes)
}
