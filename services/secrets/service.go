package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/elektrine/domainstack/interfaces"
	er "github.com/elektrine/domainstack/internal/errors"
)

// hkdfInfo pins the derived key to this codec; rotating the label invalidates
// every stored blob, so it never changes within a major version.
const hkdfInfo = "elektrine.domainstack.secret-codec.v1"

type secretCodec struct {
	aeadKey []byte
}

// NewSecretCodec derives a 256-bit AEAD key from the master secret via
// HKDF-SHA256. Encrypted blobs are XChaCha20-Poly1305 with the random nonce
// prepended, so each ciphertext is self-contained.
func NewSecretCodec(masterSecret string) (interfaces.SecretCodec, error) {
	if masterSecret == "" {
		return nil, errors.New("encryption master secret is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "derive aead key")
	}

	return &secretCodec{aeadKey: key}, nil
}

func (c *secretCodec) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.aeadKey)
	if err != nil {
		return nil, errors.Wrap(err, "init aead")
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *secretCodec) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.aeadKey)
	if err != nil {
		return nil, errors.Wrap(err, "init aead")
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, er.ErrDecryptionFailed
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		// Authentication failure: key rotation or data corruption, never a
		// normal retry condition.
		return nil, er.ErrDecryptionFailed
	}
	if plaintext == nil {
		// aead.Open returns nil for empty plaintext; round-trips stay
		// byte-preserving.
		plaintext = []byte{}
	}

	return plaintext, nil
}
