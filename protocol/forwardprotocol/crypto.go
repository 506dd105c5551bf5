package forwardprotocol

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"

	"github.com/relex/gotils/logger"
)

// sha512ToHexdigest computes SHA512 over the concatenated parts and returns hex
func sha512ToHexdigest(parts ...string) string {
	hasher := sha512.New()
	for _, part := range parts {
		if _, err := hasher.Write([]byte(part)); err != nil {
			logger.Panic(err)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// SharedKeyHexdigest computes the shared-key digest carried in PING and PONG messages
func SharedKeyHexdigest(salt, hostname, nonce, sharedKey string) string {
	return sha512ToHexdigest(salt, hostname, nonce, sharedKey)
}

// PasswordHexdigest computes the user-auth digest carried in PING messages
func PasswordHexdigest(authSalt, username, password string) string {
	return sha512ToHexdigest(authSalt, username, password)
}

// NewNonceHex returns 16 crypto-strong random bytes in hex form, for handshake nonces and auth salts
func NewNonceHex() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		logger.Panic("failed to read crypto/rand: ", err)
	}
	return hex.EncodeToString(b)
}

// digestsEqual compares two hexdigests in constant time
func digestsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
