// Package token issues and verifies the signed session credential handed
// back to clients after a successful login.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/smallbiznis/bazar-auth/internal/domain"
)

// ErrInvalidToken covers every verification failure: malformed, expired,
// or wrongly signed tokens all map here.
var ErrInvalidToken = errors.New("token: invalid session token")

// SessionClaims is the custom portion of the session token payload.
type SessionClaims struct {
	ProviderID int64  `json:"provider_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Role       string `json:"role"`
}

// Session is the decoded, verified token payload.
type Session struct {
	UserID     int64
	ProviderID int64
	Phone      string
	Role       domain.Role
	ExpiresAt  time.Time
}

// Service signs and verifies session tokens with the server secret.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewService builds the token service. An empty secret is a configuration
// defect and refuses to construct; callers treat this as startup-fatal.
func NewService(secret, issuer string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue signs a session token for the user.
func (s *Service) Issue(user domain.User) (string, time.Time, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: s.secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	expiry := now.Add(s.ttl)
	std := gojwt.Claims{
		Subject:   strconv.FormatInt(user.ID, 10),
		Issuer:    s.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(expiry),
	}
	custom := SessionClaims{
		ProviderID: user.ChatID,
		Phone:      user.Phone,
		Role:       string(user.Role),
	}

	raw, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("serialize token: %w", err)
	}
	return raw, expiry, nil
}

// Verify checks signature and time bounds and returns the decoded session.
// All failures collapse into ErrInvalidToken; nothing is thrown past this
// boundary.
func (s *Service) Verify(raw string) (Session, error) {
	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return Session{}, ErrInvalidToken
	}

	var std gojwt.Claims
	var custom SessionClaims
	if err := parsed.Claims(s.secret, &std, &custom); err != nil {
		return Session{}, ErrInvalidToken
	}
	if err := std.Validate(gojwt.Expected{Issuer: s.issuer, Time: time.Now().UTC()}); err != nil {
		return Session{}, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(std.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Session{}, ErrInvalidToken
	}

	var expiry time.Time
	if std.Expiry != nil {
		expiry = std.Expiry.Time()
	}

	return Session{
		UserID:     userID,
		ProviderID: custom.ProviderID,
		Phone:      custom.Phone,
		Role:       domain.Role(custom.Role),
		ExpiresAt:  expiry,
	}, nil
}
