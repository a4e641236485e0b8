package utils

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// CustomClaims carries the user id in the standard sub claim.
type CustomClaims struct {
	Role      string `json:"role,omitempty"`
	IsRefresh bool   `json:"isRefresh,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject as a numeric user id.
func (c *CustomClaims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, c.Subject)
	}
	return id, nil
}

// ParseJWT verifies an RS* signed token with the key named by its kid header.
func ParseJWT(store *PublicKeyStore, tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid not found in token header")
		}
		return store.GetKey(kid)
	}, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.IsRefresh {
		return nil, fmt.Errorf("%w: refresh token used for access", ErrInvalidToken)
	}
	return claims, nil
}
