package state

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
)

// KeyEnv names the variable holding the state passphrase. When it is set,
// state is sealed with AES-256-GCM before it leaves the process.
const KeyEnv = "PICKLR_STATE_ENCRYPTION_KEY"

// sealedPrefix marks sealed state and doubles as the AEAD additional data,
// so a body cannot be moved under a different header.
var sealedPrefix = []byte("picklr-aws:sealed:v1\n")

// Sealer encrypts and decrypts state documents. A nil *Sealer passes
// content through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a key from passphrase. An empty passphrase yields nil.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, nil
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// SealerFromEnv builds a Sealer from KeyEnv.
func SealerFromEnv() (*Sealer, error) {
	return NewSealer(os.Getenv(KeyEnv))
}

// IsSealed reports whether content was produced by Seal.
func IsSealed(content []byte) bool {
	return bytes.HasPrefix(content, sealedPrefix)
}

func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	if s == nil {
		return plain, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	body := s.aead.Seal(nonce, nonce, plain, sealedPrefix)

	out := make([]byte, 0, len(sealedPrefix)+base64.StdEncoding.EncodedLen(len(body))+1)
	out = append(out, sealedPrefix...)
	out = base64.StdEncoding.AppendEncode(out, body)
	return append(out, '\n'), nil
}

// Open reverses Seal. Content that is not sealed is returned as is.
func (s *Sealer) Open(content []byte) ([]byte, error) {
	if !IsSealed(content) {
		return content, nil
	}
	if s == nil {
		return nil, errdefs.Configf(KeyEnv, "state is encrypted but no key is set")
	}
	body, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(content[len(sealedPrefix):])))
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted state: %w", err)
	}
	n := s.aead.NonceSize()
	if len(body) < n {
		return nil, fmt.Errorf("encrypted state is truncated")
	}
	plain, err := s.aead.Open(nil, body[:n], body[n:], sealedPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state, check %s: %w", KeyEnv, err)
	}
	return plain, nil
}
