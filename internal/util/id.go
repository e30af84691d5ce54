package util

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strconv"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// RandomDigits returns a random decimal number with at most n digits.
func RandomDigits(n int) string {
	limit := big.NewInt(1)
	for i := 0; i < n; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	value, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "0"
	}
	return strconv.FormatInt(value.Int64(), 10)
}
