package domain

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/pkg/errors"
)

const dkimKeyBits = 2048

// generateDKIMKeyPair returns the base64 SubjectPublicKeyInfo for the DNS
// p= tag and the private key as PKCS#8 PEM.
func generateDKIMKeyPair() (publicKey string, privateKeyPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, dkimKeyBits)
	if err != nil {
		return "", nil, errors.Wrap(err, "error generating rsa key")
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", nil, errors.Wrap(err, "error marshaling public key")
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", nil, errors.Wrap(err, "error marshaling private key")
	}
	privateKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})

	return base64.StdEncoding.EncodeToString(publicDER), privateKeyPEM, nil
}
