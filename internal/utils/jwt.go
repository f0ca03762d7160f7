package utils // package utils provides helper functions for token creation and hashing

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim.
const (
	RoleAuthor = "AUTHOR"
	RoleSigner = "SIGNER"
)

// Token is a signed JWT along with its expiry.
type Token struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"expires_at"`
}

// NewAccessToken signs an HS256 JWT for an author account.  The claims are
// sub (user id), role, email, exp and iat.
func NewAccessToken(secret string, userID uint64, role, email string, ttl time.Duration) (Token, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":   strconv.FormatUint(userID, 10),
		"role":  role,
		"email": email,
		"exp":   exp.Unix(),
		"iat":   now.Unix(),
	}
	return sign(secret, claims, exp)
}

// NewSigningToken builds the link token handed to a signer when a document
// is prepared.  Besides the usual claims it pins the document id so the
// token cannot be replayed against another document.
func NewSigningToken(secret string, docID, signerID uint64, email string, ttl time.Duration) (Token, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":   strconv.FormatUint(signerID, 10),
		"role":  RoleSigner,
		"email": email,
		"doc":   strconv.FormatUint(docID, 10),
		"exp":   exp.Unix(),
		"iat":   now.Unix(),
	}
	return sign(secret, claims, exp)
}

func sign(secret string, claims jwt.MapClaims, exp time.Time) (Token, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return Token{}, err
	}
	return Token{Token: signed, Exp: exp}, nil
}
