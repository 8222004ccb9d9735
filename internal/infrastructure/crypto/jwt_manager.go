// Package crypto verifies and issues the bearer tokens of API callers.
package crypto

import (
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/pkg/errors"
)

const defaultLeeway = 30 * time.Second

// Claims are the verified claims of an API caller.
// Claims 是经过验证的调用方声明。
type Claims struct {
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 tokens with a shared secret.
// JWTManager 使用共享密钥签发和验证 HS256 令牌。
type JWTManager struct {
	secret   []byte
	issuer   string
	audience string
	parser   *jwt.Parser
	now      func() time.Time
}

// NewJWTManager creates a manager from the auth configuration.
func NewJWTManager(cfg config.AuthConfig) (*JWTManager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.ErrInvalidConfig("auth.jwt_secret is empty")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(defaultLeeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTManager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		parser:   jwt.NewParser(opts...),
		now:      time.Now,
	}, nil
}

// GenerateJWT issues a token for subject valid for ttl.
func (m *JWTManager) GenerateJWT(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.ErrMissingRequiredParameter("subject")
	}
	now := m.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.ErrServerError("failed to sign token").WithCause(err)
	}
	return signed, nil
}

// VerifyJWT parses and validates a token string. Tokens without a subject are rejected.
func (m *JWTManager) VerifyJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.ErrUnauthorized("token expired").WithCause(err)
		}
		return nil, errors.ErrUnauthorized("invalid bearer token").WithCause(err)
	}
	if claims.Subject == "" {
		return nil, errors.ErrUnauthorized("token has no subject")
	}
	return claims, nil
}
