// Package secret generates and persists the INTERNAL_TOKEN shared secret.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
)

const (
	// TokenKey is the dotenv variable the token is stored under.
	TokenKey = "INTERNAL_TOKEN"
	// TokenBytes is the amount of entropy in a generated token.
	TokenBytes = 32
)

// NewToken returns TokenBytes random bytes from r, hex encoded. A nil r
// means crypto/rand.
func NewToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Rotate writes a fresh token into the dotenv file at path, keeping every
// other variable in it. The file is created when missing. It returns the
// new token.
func Rotate(path string, r io.Reader) (string, error) {
	env, err := godotenv.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		env = map[string]string{}
	case err != nil:
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	token, err := NewToken(r)
	if err != nil {
		return "", err
	}
	env[TokenKey] = token

	if err := godotenv.Write(env, path); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return token, nil
}
