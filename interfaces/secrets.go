package interfaces

// SecretCodec provides authenticated encryption for long-lived secrets at
// rest (certificates, private keys, DKIM keys). Tampered ciphertext must
// fail decryption, never decrypt to garbage.
type SecretCodec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}
