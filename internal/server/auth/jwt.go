package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the registered claims plus the account id and roles of the
// caller.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string   `json:"account_id"`
	Roles     []string `json:"roles,omitempty"`
}

// Principal is the authenticated caller.
type Principal struct {
	AccountID string
	Roles     []string
}

func (p *Principal) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

func GenerateToken(accountID string, roles []string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		AccountID: accountID,
		Roles:     roles,
	})

	return token.SignedString(secretKey)
}

// ResolvePrincipal validates an HS256 access token. Expired tokens yield
// common.ErrTokenExpired, anything else that fails common.ErrorUnauthorized.
func ResolvePrincipal(tokenString string, secretKey []byte) (*Principal, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}

	if !token.Valid || claims.AccountID == "" {
		return nil, common.ErrorUnauthorized
	}

	return &Principal{AccountID: claims.AccountID, Roles: claims.Roles}, nil
}
