package cloud

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	passwordLower   = "abcdefghijkmnopqrstuvwxyz"
	passwordUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	passwordDigits  = "23456789"
	passwordSymbols = "!@#%^*-_=+"
)

// SecurePassword returns a random password of length n (minimum 8) holding
// at least one lower case letter, upper case letter, digit and symbol, which
// CloudControl requires for administrator passwords.
func SecurePassword(n int) (string, error) {
	if n < 8 {
		n = 8
	}

	classes := []string{passwordLower, passwordUpper, passwordDigits, passwordSymbols}
	all := passwordLower + passwordUpper + passwordDigits + passwordSymbols

	out := make([]byte, n)
	for i := range out {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		c, err := randomChar(set)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		out[i] = c
	}

	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		k := int(j.Int64())
		out[i], out[k] = out[k], out[i]
	}

	return string(out), nil
}

func randomChar(set string) (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[idx.Int64()], nil
}
