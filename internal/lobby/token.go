package lobby

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/DoyleJ11/guess-who-backend/internal/engine"
	"github.com/DoyleJ11/guess-who-backend/internal/roomcode"
)

// Reconnection tokens look like "AB3X9.<random>". The room code prefix lets a reconnect
// find its session; only the hash of the whole token is kept in session state.

func newToken(code string) (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return code + "." + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the form a token is stored and compared in.
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func codeOf(token string) (string, error) {
	code, secret, ok := strings.Cut(token, ".")
	if !ok || secret == "" || !roomcode.Valid(code) {
		return "", engine.ErrInvalidToken
	}
	return code, nil
}
