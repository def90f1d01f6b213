package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/users"
)

// SessionUser is the user snapshot carried in a session token
type SessionUser struct {
	ID           uint    `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Username     string  `json:"username"`
	Active       bool    `json:"active"`
	Avatar       *string `json:"avatar"`
	Cover        *string `json:"cover"`
	OTPEnabled   bool    `json:"otpEnabled"`
	OTPVerified  bool    `json:"otpVerified"`
	OTPValidated bool    `json:"otpValidated"`
}

// NewSessionUser builds the token snapshot of u
func NewSessionUser(u *users.User, otpValidated bool) SessionUser {
	return SessionUser{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Username:     u.Username,
		Active:       u.Active,
		Avatar:       u.Avatar,
		Cover:        u.Cover,
		OTPEnabled:   u.OTPEnabled,
		OTPVerified:  u.OTPVerified,
		OTPValidated: otpValidated,
	}
}

// Claims represents JWT claims
type Claims struct {
	User SessionUser `json:"user"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 session tokens
type TokenService struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenService creates a token service
func NewTokenService(secret, issuer, audience string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue signs a token for user
func (s *TokenService) Issue(user SessionUser) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.Username,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies token and returns its claims
func (s *TokenService) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.NewInvalidTokenError("token has expired")
		}
		return nil, apperrors.NewInvalidTokenError("invalid token").WithDetail("cause", err.Error())
	}
	if claims.Subject == "" {
		return nil, apperrors.NewInvalidTokenError("token has no subject")
	}
	return claims, nil
}
