package utils

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const nanoIdAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func Now() time.Time {
	return time.Now().UTC()
}

func NowPtr() *time.Time {
	now := Now()
	return &now
}

func GenerateNanoIDWithPrefix(prefix string, length int) string {
	id, err := gonanoid.Generate(nanoIdAlphabet, length)
	if err != nil {
		panic(err)
	}
	return prefix + "_" + id
}

// GenerateSecureToken returns a URL-safe random token with n bytes of entropy.
func GenerateSecureToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
