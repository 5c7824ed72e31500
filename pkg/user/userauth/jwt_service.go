// Package userauth provides admin/password-login session tokens (the
// "out of scope, consumed" JWT primitive named in spec.md §1) layered on
// top of pkg/user. Inference requests authenticate via pkg/apikey instead.
package userauth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/golang-jwt/jwt/v5"
)

var ErrRegistry = errx.NewRegistry("USERAUTH")

var (
	CodeTokenGenerationFailed = ErrRegistry.Register("TOKEN_GENERATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "failed to generate session token")
	CodeTokenValidationFailed = ErrRegistry.Register("TOKEN_VALIDATION_FAILED", errx.TypeAuthorization, http.StatusUnauthorized, "invalid or expired session token")
)

// Claims are the JWT claims issued on password/Discord login.
type Claims struct {
	UserID  kernel.UserID `json:"user_id"`
	IsAdmin bool          `json:"is_admin"`
	jwt.RegisteredClaims
}

// JWTService issues and validates admin-session access tokens.
type JWTService struct {
	secretKey []byte
	ttl       time.Duration
	issuer    string
}

func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &JWTService{secretKey: []byte(secret), ttl: ttl, issuer: "gcaproxy"}
}

func (j *JWTService) Generate(userID kernel.UserID, isAdmin bool) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  userID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", ErrRegistry.New(CodeTokenGenerationFailed).WithDetail("error", err.Error())
	}
	return signed, nil
}

func (j *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrRegistry.New(CodeTokenValidationFailed)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrRegistry.New(CodeTokenValidationFailed)
	}
	return claims, nil
}
