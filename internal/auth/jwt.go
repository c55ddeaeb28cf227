package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/fenggwsx/BridgeRelay/internal/config"
)

// ErrDisabled is returned when no admin secret is configured.
var ErrDisabled = errors.New("admin tokens disabled")

// Claims represents the JWT payload carried by control-plane operators.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// ScopeControl grants access to control-plane broadcasts.
const ScopeControl = "control"

// NewToken signs an HS256 operator token for subject.
func NewToken(cfg config.AdminConfig, subject string) (string, error) {
	if cfg.Secret == "" {
		return "", ErrDisabled
	}
	now := time.Now()
	claims := Claims{
		Scope: ScopeControl,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ParseToken validates the provided token string and extracts claims.
func ParseToken(cfg config.AdminConfig, tokenString string) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, ErrDisabled
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "parse admin token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Scope != ScopeControl {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
