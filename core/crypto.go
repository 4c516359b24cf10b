package core

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Crypto is the pluggable symmetric-encryption contract a Session's pipeline
// calls into. It does not carry keys over the wire itself: the session
// handshake ships the key and IV drawn from NewSessionKey in its
// confirm_connection reply.
type Crypto interface {
	// CreateKey derives a fixed-size session key from a shared secret. Used
	// only where no wire key exchange has taken place (e.g. a session that
	// was handed a key out of band).
	CreateKey(secret []byte) [32]byte
	// NewSessionKey generates a fresh random symmetric key and IV, used by
	// the handshake's server side to negotiate per-connection key material
	// instead of deriving it from the shared connection_key.
	NewSessionKey() (key [32]byte, iv [24]byte, err error)
	// Encrypt seals plaintext under key, returning nonce-prefixed ciphertext.
	Encrypt(key [32]byte, plaintext []byte) ([]byte, error)
	// Decrypt opens nonce-prefixed ciphertext produced by Encrypt.
	Decrypt(key [32]byte, ciphertext []byte) ([]byte, error)
}

// secretboxCrypto implements Crypto on top of NaCl secretbox: a 24-byte
// random nonce is prepended to every ciphertext so Decrypt is self-contained.
type secretboxCrypto struct{}

// NewSecretboxCrypto returns the default Crypto implementation.
func NewSecretboxCrypto() Crypto { return secretboxCrypto{} }

// CreateKey folds an arbitrary-length secret down to secretbox's fixed
// 32-byte key size using a simple, constant-time-irrelevant XOR fold: the
// key material itself is expected to already be high entropy (a configured
// shared secret or key file), not a low-entropy password.
func (secretboxCrypto) CreateKey(secret []byte) [32]byte {
	var key [32]byte
	for i, b := range secret {
		key[i%32] ^= b
	}
	return key
}

// NewSessionKey draws a fresh random key and IV from crypto/rand. The IV is
// carried over the wire alongside the key so both peers agree on it, even
// though secretbox's own per-message nonce (see Encrypt) is what actually
// defeats nonce reuse; the IV exists so the negotiated material matches the
// handshake's (key, iv) contract exactly.
func (secretboxCrypto) NewSessionKey() (key [32]byte, iv [24]byte, err error) {
	if _, err = rand.Read(key[:]); err != nil {
		return key, iv, fmt.Errorf("core: generating session key: %w", err)
	}
	if _, err = rand.Read(iv[:]); err != nil {
		return key, iv, fmt.Errorf("core: generating session iv: %w", err)
	}
	return key, iv, nil
}

func (secretboxCrypto) Encrypt(key [32]byte, plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("core: generating nonce: %w", err)
	}
	out := make([]byte, 0, 24+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, &key)
	return out, nil
}

func (secretboxCrypto) Decrypt(key [32]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, fmt.Errorf("core: ciphertext too short for nonce")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	out, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("core: decryption failed: authentication mismatch")
	}
	return out, nil
}
