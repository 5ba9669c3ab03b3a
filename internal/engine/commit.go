package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Commit binds a public key and its encrypted numbers under a fresh 16-byte nonce.
func Commit(publicKey string, encryptedNumbers []string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("commitment nonce: %w", err)
	}
	return HashHex(publicKey, strings.Join(encryptedNumbers, ""), hex.EncodeToString(nonce)), nil
}

// HashEncryptedNumbers hashes the concatenated ciphertexts.
func HashEncryptedNumbers(encryptedNumbers []string) string {
	return HashHex(strings.Join(encryptedNumbers, ""))
}
