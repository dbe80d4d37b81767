package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/bazar-auth/internal/config"
	"github.com/smallbiznis/bazar-auth/internal/domain"
	"github.com/smallbiznis/bazar-auth/internal/initdata"
	"github.com/smallbiznis/bazar-auth/internal/phone"
	"github.com/smallbiznis/bazar-auth/internal/repository"
	"github.com/smallbiznis/bazar-auth/internal/token"
)

// AuthService composes the identity channels into the public auth flows:
// chat-app login, phone-code login, and phone linking with account merge.
type AuthService struct {
	users     repository.UserRepository
	codes     repository.CodeRepository
	listings  repository.ListingRepository
	transport repository.CodeTransport
	verifier  *initdata.Verifier
	tokens    *token.Service
	node      *snowflake.Node
	cfg       config.Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(
	users repository.UserRepository,
	codes repository.CodeRepository,
	listings repository.ListingRepository,
	transport repository.CodeTransport,
	verifier *initdata.Verifier,
	tokens *token.Service,
	node *snowflake.Node,
	cfg config.Config,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		codes:     codes,
		listings:  listings,
		transport: transport,
		verifier:  verifier,
		tokens:    tokens,
		node:      node,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/smallbiznis/bazar-auth/internal/service"),
	}
}

// LoginViaChatApp verifies the signed chat-app payload and resolves it to a
// canonical user. An optional pre-verified phone lets a first-time chat-app
// login attach to an existing phone account instead of creating a duplicate.
func (s *AuthService) LoginViaChatApp(ctx context.Context, signedPayload, verifiedPhone string) (AuthResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.LoginViaChatApp")
	defer span.End()

	identity, err := s.verifier.Verify(signedPayload)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, errInvalidInitData()
	}

	normalized := ""
	if verifiedPhone != "" {
		normalized, err = phone.Normalize(verifiedPhone)
		if err != nil {
			return AuthResult{}, errInvalidPhone()
		}
	}

	user, err := s.resolveIdentity(ctx, chatAppResolver{
		m:             s.materializer(),
		identity:      identity,
		verifiedPhone: normalized,
	})
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, err
	}

	result, err := s.issueSession(user)
	if err == nil {
		s.audit("chatapp.login.success", "user_id", user.ID, "provider_id", identity.UserID)
	} else {
		span.RecordError(err)
	}
	return result, err
}

// RequestPhoneCode issues a one-time code for the phone+purpose pair and
// dispatches it through the transport. The code value never appears in the
// response.
func (s *AuthService) RequestPhoneCode(ctx context.Context, rawPhone string, purpose domain.CodePurpose) (CodeRequestResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.RequestPhoneCode")
	defer span.End()

	normalized, err := phone.Normalize(rawPhone)
	if err != nil {
		return CodeRequestResult{}, errInvalidPhone()
	}
	if !purpose.Valid() {
		purpose = domain.PurposeLogin
	}

	now := time.Now().UTC()
	existing, err := s.codes.GetLatestUnconsumed(ctx, normalized, purpose)
	if err == nil && !existing.Expired(now) {
		if age := now.Sub(existing.CreatedAt); age < s.cfg.CodeCooldown {
			return CodeRequestResult{}, errTooManyRequests(s.cfg.CodeCooldown - age)
		}
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return CodeRequestResult{}, fmt.Errorf("check code cooldown: %w", err)
	}

	code := domain.PhoneCode{
		ID:        s.node.Generate().Int64(),
		Phone:     normalized,
		Purpose:   purpose,
		Code:      randomDigits(s.cfg.CodeLength),
		Channel:   "sms",
		ExpiresAt: now.Add(s.cfg.CodeTTL),
		CreatedAt: now,
	}
	if err := s.codes.Create(ctx, code); err != nil {
		span.RecordError(err)
		return CodeRequestResult{}, fmt.Errorf("persist code: %w", err)
	}

	// Fire-and-forget: a transport failure is a delivery warning, never a
	// failure of the request itself.
	if err := s.transport.Send(ctx, normalized, code.Code); err != nil {
		s.logger.Warn("code delivery failed",
			zap.String("phone", phone.Redact(normalized)),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
	}

	s.audit("phone.code.requested", "phone", phone.Redact(normalized), "purpose", string(purpose))
	return CodeRequestResult{Phone: normalized, ExpiresAt: code.ExpiresAt}, nil
}

// VerifyPhoneCode consumes a login code and resolves the phone to a
// canonical user.
func (s *AuthService) VerifyPhoneCode(ctx context.Context, rawPhone, codeValue string) (AuthResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyPhoneCode")
	defer span.End()

	normalized, err := phone.Normalize(rawPhone)
	if err != nil {
		return AuthResult{}, errInvalidPhone()
	}

	if err := s.consumeCode(ctx, normalized, domain.PurposeLogin, codeValue); err != nil {
		span.RecordError(err)
		return AuthResult{}, err
	}

	user, err := s.resolveIdentity(ctx, phoneResolver{m: s.materializer(), phone: normalized})
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, err
	}

	result, err := s.issueSession(user)
	if err == nil {
		s.audit("phone.login.success", "user_id", user.ID, "phone", phone.Redact(normalized))
	} else {
		span.RecordError(err)
	}
	return result, err
}

// LinkPhone attaches a code-proven phone to the current user. When another
// active user already holds the phone, that account is merged into the
// caller's so the session the caller holds stays valid.
func (s *AuthService) LinkPhone(ctx context.Context, currentUserID int64, rawPhone, codeValue string) (LinkResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.LinkPhone")
	defer span.End()

	current, err := s.users.GetByID(ctx, currentUserID)
	if err != nil || !current.IsActive || current.MergedInto != 0 {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			return LinkResult{}, fmt.Errorf("load current user: %w", err)
		}
		return LinkResult{}, errUserNotFound()
	}

	normalized, err := phone.Normalize(rawPhone)
	if err != nil {
		return LinkResult{}, errInvalidPhone()
	}

	if err := s.consumeCode(ctx, normalized, domain.PurposeLinkPhone, codeValue); err != nil {
		span.RecordError(err)
		return LinkResult{}, err
	}

	now := time.Now().UTC()
	current.Phone = normalized
	current.PhoneVerified = true
	current.LastActiveAt = now
	ensureLink(&current, domain.ProviderPhone, normalized, now)

	source, err := s.users.GetByPhone(ctx, normalized, true)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return LinkResult{}, fmt.Errorf("lookup phone holder: %w", err)
	}
	if err != nil || source.ID == current.ID {
		// No other active holder: a retried merge lands here too, since the
		// source was deactivated as the final step of the first attempt.
		if err := s.users.Save(ctx, current); err != nil {
			span.RecordError(err)
			return LinkResult{}, fmt.Errorf("save current user: %w", err)
		}
		result, err := s.issueSession(current)
		if err != nil {
			span.RecordError(err)
			return LinkResult{}, err
		}
		s.audit("phone.link.success", "user_id", current.ID, "merged", false)
		return LinkResult{AuthResult: result}, nil
	}

	outcome := mergeAccounts(current, source, now)

	// Ownership rewrite happens before any user write: if it fails the merge
	// aborts with both accounts untouched and fully usable.
	toKey := formatID(outcome.target.ID)
	for _, fromKey := range ownerKeys(source) {
		count, err := s.listings.ReassignOwner(ctx, fromKey, toKey)
		if err != nil {
			span.RecordError(err)
			return LinkResult{}, fmt.Errorf("reassign listings owner: %w", err)
		}
		if count > 0 {
			s.logger.Info("listings reassigned",
				zap.String("from_key", fromKey),
				zap.Int64("target_id", outcome.target.ID),
				zap.Int64("count", count),
			)
		}
	}

	// Target first: the durable record must point forward before the source
	// goes inactive.
	if err := s.users.Save(ctx, outcome.target); err != nil {
		span.RecordError(err)
		return LinkResult{}, fmt.Errorf("save merge target: %w", err)
	}
	if err := s.users.Save(ctx, outcome.source); err != nil {
		span.RecordError(err)
		return LinkResult{}, fmt.Errorf("save merge source: %w", err)
	}

	result, err := s.issueSession(outcome.target)
	if err != nil {
		span.RecordError(err)
		return LinkResult{}, err
	}

	s.audit("phone.link.merged",
		"user_id", outcome.target.ID,
		"merged_from", source.ID,
		"favorites_count", outcome.target.FavoritesCount,
	)
	return LinkResult{AuthResult: result, Merged: true, MergedFromID: source.ID}, nil
}

// CurrentUser returns the sanitized view for an authenticated user id.
func (s *AuthService) CurrentUser(ctx context.Context, userID int64) (UserView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return UserView{}, errUserNotFound()
		}
		return UserView{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive || user.MergedInto != 0 {
		return UserView{}, errUserNotFound()
	}
	return newUserView(user), nil
}

// VerifySession validates a session token and confirms its subject is still
// an active user.
func (s *AuthService) VerifySession(ctx context.Context, raw string) (token.Session, error) {
	session, err := s.tokens.Verify(raw)
	if err != nil {
		return token.Session{}, err
	}
	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil || !user.IsActive || user.MergedInto != 0 {
		return token.Session{}, token.ErrInvalidToken
	}
	return session, nil
}

// consumeCode runs the one-shot verification state machine for the newest
// live code of phone+purpose.
func (s *AuthService) consumeCode(ctx context.Context, normalizedPhone string, purpose domain.CodePurpose, value string) error {
	now := time.Now().UTC()

	code, err := s.codes.GetLatestUnconsumed(ctx, normalizedPhone, purpose)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return errCodeExpired()
		}
		return fmt.Errorf("load code: %w", err)
	}
	if code.Expired(now) {
		return errCodeExpired()
	}
	if code.Consumed(s.cfg.CodeMaxAttempts) {
		return errMaxAttempts()
	}
	if code.Code != value {
		code.Attempts++
		if err := s.codes.Save(ctx, code); err != nil {
			return fmt.Errorf("save code attempt: %w", err)
		}
		return errInvalidCode()
	}

	code.Verified = true
	if err := s.codes.Save(ctx, code); err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	return nil
}

func (s *AuthService) resolveIdentity(ctx context.Context, resolver identityResolver) (domain.User, error) {
	return resolver.Resolve(ctx)
}

func (s *AuthService) materializer() materializer {
	return materializer{users: s.users, node: s.node, logger: s.log()}
}

func (s *AuthService) issueSession(user domain.User) (AuthResult, error) {
	raw, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue session token: %w", err)
	}
	return AuthResult{Token: raw, ExpiresAt: expiresAt, User: newUserView(user)}, nil
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func randomDigits(n int) string {
	if n <= 0 {
		n = 6
	}
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			panic(err)
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits)
}
