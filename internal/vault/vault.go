package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrMalformed covers both format and integrity failures on Open; callers
// treat it as "credential absent", never as plaintext.
var ErrMalformed = errors.New("vault: malformed or tampered blob")

const gcmTagSize = 16

// Vault seals and opens credential tokens with AES-256-GCM. The sealed form
// is a delimited hex triple nonce:tag:ciphertext.
type Vault struct {
	aead cipher.AEAD
	log  zerolog.Logger
}

// New normalizes the configured key to the 32 bytes AES-256 requires. A
// missing or wrong-size key is hashed into a best-effort runtime key with a
// loud warning; sealed values then do not survive a restart.
func New(key string, log zerolog.Logger) *Vault {
	kb := []byte(key)
	if len(kb) != 32 {
		if key == "" {
			log.Warn().Msg("vault: VAULT_KEY not set, deriving volatile runtime key; stored credentials will not survive restarts")
			buf := make([]byte, 32)
			_, _ = rand.Read(buf)
			kb = buf
		} else {
			log.Warn().Int("len", len(kb)).Msg("vault: VAULT_KEY is not 32 bytes, deriving key via sha256")
			sum := sha256.Sum256(kb)
			kb = sum[:]
		}
	}
	block, err := aes.NewCipher(kb)
	if err != nil {
		// unreachable with a 32-byte key, but keep the constructor total
		sum := sha256.Sum256(kb)
		block, _ = aes.NewCipher(sum[:])
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		log.Fatal().Err(err).Msg("vault: cannot construct AEAD")
	}
	return &Vault{aead: aead, log: log}
}

// Seal encrypts plaintext under a fresh random nonce.
func (v *Vault) Seal(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Open decrypts a sealed triple. Any format or authentication failure comes
// back as ErrMalformed.
func (v *Vault) Open(opaque string) (string, error) {
	parts := strings.Split(opaque, ":")
	if len(parts) != 3 {
		return "", ErrMalformed
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != v.aead.NonceSize() {
		return "", ErrMalformed
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != gcmTagSize {
		return "", ErrMalformed
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformed
	}
	plain, err := v.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}
