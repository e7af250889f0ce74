package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/config"
)

const clockSkew = 5 * time.Second

var signingMethod = jwt.SigningMethodHS256

// Signer mints and checks HS256 access tokens for one issuer.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration

	strict  *jwt.Parser
	lenient *jwt.Parser
}

func NewSigner(cfg config.JWTConfig) (*Signer, error) {
	switch {
	case cfg.Secret == "":
		return nil, errors.New("jwt secret is required")
	case cfg.Issuer == "":
		return nil, errors.New("jwt issuer is required")
	case cfg.AccessTokenTTL() <= 0:
		return nil, errors.New("jwt expiration minutes must be positive")
	}
	methods := jwt.WithValidMethods([]string{signingMethod.Alg()})
	return &Signer{
		key:    []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTokenTTL(),
		strict: jwt.NewParser(methods,
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
		lenient: jwt.NewParser(methods, jwt.WithoutClaimsValidation()),
	}, nil
}

// TTL is the lifetime stamped on every minted token.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

func (s *Signer) Mint(now time.Time, grant Grant) (string, error) {
	if grant.UserID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	sessionID := strings.TrimSpace(grant.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	claims := &Claims{
		UserID: grant.UserID,
		Email:  strings.ToLower(strings.TrimSpace(grant.Email)),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   grant.UserID.String(),
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// Verify accepts a signed, unexpired token from this issuer.
func (s *Signer) Verify(token string) (*Claims, error) {
	return s.parse(s.strict, token)
}

// Inspect checks only the signature, issuer and identity claims. Refresh uses
// it to read the session id out of an access token that may have expired.
func (s *Signer) Inspect(token string) (*Claims, error) {
	claims, err := s.parse(s.lenient, token)
	if err != nil {
		return nil, err
	}
	if claims.Issuer != s.issuer {
		return nil, jwt.ErrTokenInvalidIssuer
	}
	if err := claims.Validate(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Signer) parse(p *jwt.Parser, token string) (*Claims, error) {
	claims := &Claims{}
	if _, err := p.ParseWithClaims(token, claims, s.keyFunc); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Signer) keyFunc(*jwt.Token) (any, error) {
	return s.key, nil
}
