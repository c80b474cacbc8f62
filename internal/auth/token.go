package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"brandlift/api/internal/util"
)

// Claims is the access-token payload. The subject is the user id and the
// JWT id keys the revocation list.
type Claims struct {
	Name       string `json:"name"`
	OrgID      string `json:"org,omitempty"`
	Role       string `json:"role"`
	SuperAdmin bool   `json:"superAdmin,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

const issuer = "brandlift"

// NewClaims fills the registered claims for a token valid for ttl from now.
func NewClaims(sub, name, orgID, role string, superAdmin bool, ttl time.Duration) Claims {
	now := time.Now().UTC()
	return Claims{
		Name:       name,
		OrgID:      orgID,
		Role:       role,
		SuperAdmin: superAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sub,
			ID:        util.NewID("tok"),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func IssueToken(secret []byte, claims Claims) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("issue token: empty signing secret")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" || claims.Name == "" {
		return Claims{}, ErrInvalidToken
	}
	if claims.OrgID == "" && !claims.SuperAdmin {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
