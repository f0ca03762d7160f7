package utils

import "golang.org/x/crypto/bcrypt"

// HashAccessCode returns the bcrypt hash of a signer access code using the
// given cost.  An empty code hashes to "" so the signer needs none.
func HashAccessCode(plain string, cost int) (string, error) {
	if plain == "" {
		return "", nil
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyAccessCode safely compares a bcrypt hash and the code a signer typed.
func VerifyAccessCode(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
