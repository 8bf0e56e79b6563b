package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptySecret     = errors.New("jwt: secret vacío")
	ErrInvalidToken    = errors.New("jwt: token inválido")
	ErrMissingBusiness = errors.New("jwt: token sin business_id")
)

// clockSkew tolerancia entre el reloj del POS y el del servidor.
const clockSkew = 30 * time.Second

// Claims incluye los claims estándar JWT más el negocio (emisor fiscal) del usuario.
// El BusinessID decide qué certificado y qué CUIT se usan frente a AFIP.
type Claims struct {
	jwt.RegisteredClaims
	UserID     string `json:"user_id"`
	BusinessID string `json:"business_id"`
	Role       string `json:"role"` // "owner" | "cashier"
}

// Generate firma un token HS256 con userID, businessID y role.
func Generate(secret, userID, businessID, role, issuer string, expMinutes int) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expMinutes) * time.Minute)),
		},
		UserID:     userID,
		BusinessID: businessID,
		Role:       role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Parse valida firma y vencimiento y devuelve los claims. Un token sin negocio no sirve
// para operar: sin BusinessID no hay certificado con el que hablar con AFIP.
func Parse(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.BusinessID == "" {
		return nil, ErrMissingBusiness
	}
	return claims, nil
}
