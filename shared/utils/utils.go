package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	TransactionIDPrefix = "tan"

	idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength   = 10
)

// GenerateID returns prefix, a dash and ten random alphanumerics,
// e.g. "tan-Q3xv9Lk2Pa". Every character is drawn uniformly from the
// alphabet.
func GenerateID(prefix string) string {
	size := big.NewInt(int64(len(idAlphabet)))
	buf := make([]byte, idLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return prefix + "-" + string(buf)
}

// ValidateTransactionID reports whether id has the shape GenerateID produces
// for transactions.
func ValidateTransactionID(id string) bool {
	rest, ok := strings.CutPrefix(id, TransactionIDPrefix+"-")
	if !ok || len(rest) != idLength {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if strings.IndexByte(idAlphabet, rest[i]) < 0 {
			return false
		}
	}
	return true
}
