// Package secrets encrypts provider credentials at rest.
package secrets

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "sms-dispatch/provider-credentials/v1"

var ErrInvalidCiphertext = errors.New("invalid credential ciphertext")

// Cipher seals credentials with XChaCha20-Poly1305 under a key derived from the
// master key, and tags every token with HMAC-SHA256 under the signing key.
type Cipher struct {
	aead       cipher.AEAD
	signingKey []byte
}

func NewCipher(masterKey, signingKey string) (*Cipher, error) {
	if strings.TrimSpace(masterKey) == "" {
		return nil, fmt.Errorf("master key is required")
	}
	if strings.TrimSpace(signingKey) == "" {
		return nil, fmt.Errorf("signing key is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	return &Cipher{aead: aead, signingKey: []byte(signingKey)}, nil
}

// Encrypt returns "<sealed>.<tag>" in unpadded base64url.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)

	return base64.RawURLEncoding.EncodeToString(sealed) + "." +
		base64.RawURLEncoding.EncodeToString(c.tag(sealed)), nil
}

func (c *Cipher) Decrypt(token string) ([]byte, error) {
	sealedPart, tagPart, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return nil, ErrInvalidCiphertext
	}
	sealed, err := base64.RawURLEncoding.DecodeString(sealedPart)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	tag, err := base64.RawURLEncoding.DecodeString(tagPart)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	if !hmac.Equal(tag, c.tag(sealed)) {
		return nil, ErrInvalidCiphertext
	}
	if len(sealed) < c.aead.NonceSize() {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

func (c *Cipher) EncryptCredentials(creds domain.Credentials) (string, error) {
	if creds == nil {
		creds = domain.Credentials{}
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}
	return c.Encrypt(raw)
}

// DecryptCredentials treats an empty token as "no credentials".
func (c *Cipher) DecryptCredentials(token string) (domain.Credentials, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Credentials{}, nil
	}
	raw, err := c.Decrypt(token)
	if err != nil {
		return nil, err
	}
	var creds domain.Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return creds, nil
}

func (c *Cipher) tag(data []byte) []byte {
	mac := hmac.New(sha256.New, c.signingKey)
	mac.Write(data)
	return mac.Sum(nil)
}
