package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the authenticated user id. The claim key matches the
// wire name consumed by clients.
type Claims struct {
	UserID uint `json:"id"`
	jwt.RegisteredClaims
}

// JWTer issues and verifies HS256 bearer tokens. Secret is required;
// issuance and verification share the same instance so the secret is
// never duplicated. TTL of zero issues tokens without an expiry claim.
type JWTer struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

var ErrInvalidToken = errors.New("invalid token")

func (j *JWTer) Issue(userID uint) (string, error) {
	if len(j.Secret) == 0 {
		return "", errors.New("token secret not configured")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   j.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if j.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(j.TTL))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

func (j *JWTer) Parse(tokenStr string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected alg %q", token.Method.Alg())
		}
		return j.Secret, nil
	}, jwt.WithLeeway(60*time.Second))
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, ErrInvalidToken
}
