package orders

import (
	"crypto/rand"
	"math"
	"math/big"
	"strings"

	"fleet-dispatch/pkg/validation"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 5
)

// NewVerificationCode returns 5 characters drawn uniformly from A-Z0-9.
// Codes are not checked for uniqueness.
func NewVerificationCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// codeMatches compares case-insensitively.
func codeMatches(stored, given string) bool {
	return validation.ValidateVerificationCode(given) && strings.EqualFold(stored, given)
}

// Split divides price between driver and company for a commission rate in
// percent. The two parts always add up to price.
func Split(price int64, rate float64) (driver, company int64) {
	driver = int64(math.Round(float64(price) * rate / 100))
	return driver, price - driver
}
