package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT token claims
type Claims struct {
	Sub   string      `json:"sub"`
	Iss   string      `json:"iss"`
	Aud   interface{} `json:"aud"`
	Exp   int64       `json:"exp"`
	Iat   int64       `json:"iat"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	jwt.RegisteredClaims
}

// JWTValidator handles JWT token validation
type JWTValidator struct {
	secret         []byte
	allowedIssuers []string
}

// NewJWTValidator creates a new JWT validator
func NewJWTValidator(secret string, allowedIssuers []string) *JWTValidator {
	return &JWTValidator{
		secret:         []byte(secret),
		allowedIssuers: allowedIssuers,
	}
}

// ValidateToken validates a JWT token string and returns claims
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if claims.Exp > 0 && time.Now().Unix() > claims.Exp {
		return nil, errors.New("token has expired")
	}

	if len(v.allowedIssuers) > 0 {
		validIssuer := false
		for _, allowedIss := range v.allowedIssuers {
			if claims.Iss == allowedIss {
				validIssuer = true
				break
			}
		}
		if !validIssuer {
			return nil, fmt.Errorf("invalid issuer: %s", claims.Iss)
		}
	}

	return claims, nil
}

// ExtractUserID returns the caller identity carried by the claims
func (v *JWTValidator) ExtractUserID(claims *Claims) string {
	return claims.Sub
}
