package generator

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// TokenBytes is the entropy of session references handed to browsers (256 bits).
const TokenBytes = 32

// GenerateRandomID returns an alphanumeric identifier. Each character carries
// ~5.95 bits, so length 24 gives ~142 bits.
func GenerateRandomID(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("generator: invalid length %d", length)
	}
	result := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))

	for i := 0; i < length; i++ {
		randomIndex, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generator: %w", err)
		}
		result[i] = alphabet[randomIndex.Int64()]
	}

	return string(result), nil
}

// GenerateToken returns n random bytes encoded as unpadded base64url.
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("generator: invalid size %d", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generator: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
