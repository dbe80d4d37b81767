package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/bazar-auth/internal/config"
	"github.com/smallbiznis/bazar-auth/internal/domain"
	"github.com/smallbiznis/bazar-auth/internal/initdata"
	"github.com/smallbiznis/bazar-auth/internal/service"
	"github.com/smallbiznis/bazar-auth/internal/token"
)

const testBotToken = "1234567890:test-bot-token"

type fixture struct {
	svc       *service.AuthService
	users     *memoryUserRepo
	codes     *memoryCodeRepo
	listings  *memoryListingRepo
	transport *memoryTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := &memoryUserRepo{users: map[int64]domain.User{}}
	codes := &memoryCodeRepo{codes: map[string]domain.PhoneCode{}}
	listings := &memoryListingRepo{}
	transport := &memoryTransport{}

	cfg := config.Config{
		CodeTTL:         10 * time.Minute,
		CodeCooldown:    time.Minute,
		CodeLength:      6,
		CodeMaxAttempts: 5,
		SessionTTL:      time.Hour,
	}
	tokens, err := token.NewService("test-secret", "bazar-auth", cfg.SessionTTL)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := service.NewAuthService(
		users,
		codes,
		listings,
		transport,
		initdata.NewVerifier(testBotToken),
		tokens,
		node,
		cfg,
		zap.NewNop(),
	)
	return &fixture{svc: svc, users: users, codes: codes, listings: listings, transport: transport}
}

func signInitData(botToken string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+values.Get(key))
	}

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secretMac.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func chatPayload(userJSON string) string {
	values := url.Values{}
	values.Set("user", userJSON)
	values.Set("auth_date", "1700000000")
	return signInitData(testBotToken, values)
}

func authErr(t *testing.T, err error) *service.AuthError {
	t.Helper()
	var authErr *service.AuthError
	require.ErrorAs(t, err, &authErr)
	return authErr
}

func TestPhoneCodeLoginScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.RequestPhoneCode(ctx, "80291111111", domain.PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, "+375291111111", result.Phone)
	assert.True(t, result.ExpiresAt.After(time.Now()))
	require.Len(t, f.transport.sent, 1)
	code := f.transport.sent[0].code
	require.Len(t, code, 6)

	// Three wrong attempts leave the code alive.
	for i := 0; i < 3; i++ {
		_, err := f.svc.VerifyPhoneCode(ctx, "+375291111111", "000000")
		require.Error(t, err)
		assert.Equal(t, "invalid_code", authErr(t, err).Code)
	}
	stored := f.codes.get("+375291111111", domain.PurposeLogin)
	assert.Equal(t, 3, stored.Attempts)

	// Correct code signs in and creates a phone-verified user.
	auth, err := f.svc.VerifyPhoneCode(ctx, "+375291111111", code)
	require.NoError(t, err)
	assert.NotEmpty(t, auth.Token)
	assert.True(t, auth.User.PhoneVerified)
	assert.Equal(t, "+375291111111", auth.User.Phone)
	assert.Equal(t, string(domain.RoleBuyer), auth.User.Role)
	assert.Contains(t, auth.User.Providers, domain.ProviderPhone)

	// The code is one-shot: the same value now fails.
	_, err = f.svc.VerifyPhoneCode(ctx, "+375291111111", code)
	require.Error(t, err)
	assert.Equal(t, "code_expired", authErr(t, err).Code)
}

func TestRequestPhoneCodeCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestPhoneCode(ctx, "+375291111111", domain.PurposeLogin)
	require.NoError(t, err)

	_, err = f.svc.RequestPhoneCode(ctx, "+375291111111", domain.PurposeLogin)
	require.Error(t, err)
	got := authErr(t, err)
	assert.Equal(t, "too_many_requests", got.Code)
	assert.Greater(t, got.RetryAfter, time.Duration(0))

	// A different purpose for the same phone is not throttled.
	_, err = f.svc.RequestPhoneCode(ctx, "+375291111111", domain.PurposeLinkPhone)
	require.NoError(t, err)
}

func TestRequestPhoneCodeInvalidPhone(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestPhoneCode(context.Background(), "garbage", domain.PurposeLogin)
	require.Error(t, err)
	assert.Equal(t, "invalid_phone", authErr(t, err).Code)
}

func TestRequestPhoneCodeSurvivesTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.transport.err = errors.New("gateway down")

	_, err := f.svc.RequestPhoneCode(context.Background(), "+375291111111", domain.PurposeLogin)
	require.NoError(t, err)
}

func TestVerifyPhoneCodeMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestPhoneCode(ctx, "+375291111111", domain.PurposeLogin)
	require.NoError(t, err)
	code := f.transport.sent[0].code

	for i := 0; i < 5; i++ {
		_, err := f.svc.VerifyPhoneCode(ctx, "+375291111111", "000000")
		require.Error(t, err)
	}

	// Ceiling reached: even the correct value fails now.
	_, err = f.svc.VerifyPhoneCode(ctx, "+375291111111", code)
	require.Error(t, err)
	assert.Equal(t, "max_attempts_exceeded", authErr(t, err).Code)
}

func TestLoginViaChatAppCreatesAndRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	auth, err := f.svc.LoginViaChatApp(ctx, chatPayload(`{"id":42,"username":"ivan","first_name":"Ivan"}`), "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), auth.User.ProviderID)
	assert.Equal(t, "ivan", auth.User.Username)
	assert.True(t, auth.User.ChatAppLinked)
	assert.False(t, auth.User.PhoneVerified)
	assert.Contains(t, auth.User.Providers, domain.ProviderChatApp)

	// Second login refreshes mutable profile fields, same account.
	again, err := f.svc.LoginViaChatApp(ctx, chatPayload(`{"id":42,"username":"ivan_new","first_name":"Ivan"}`), "")
	require.NoError(t, err)
	assert.Equal(t, auth.User.ID, again.User.ID)
	assert.Equal(t, "ivan_new", again.User.Username)
}

func TestLoginViaChatAppRejectsTamperedPayload(t *testing.T) {
	f := newFixture(t)

	payload := chatPayload(`{"id":42,"username":"ivan"}`)
	tampered := strings.Replace(payload, "42", "43", 1)

	_, err := f.svc.LoginViaChatApp(context.Background(), tampered, "")
	require.Error(t, err)
	assert.Equal(t, "invalid_init_data", authErr(t, err).Code)
	assert.Empty(t, f.users.users)
}

func TestLoginViaChatAppAttachesToPhoneAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// An account already exists for the verified phone.
	phoneAuth := loginByPhone(t, f, "+375291111111")

	auth, err := f.svc.LoginViaChatApp(ctx, chatPayload(`{"id":42,"username":"ivan"}`), "+375291111111")
	require.NoError(t, err)
	assert.Equal(t, phoneAuth.User.ID, auth.User.ID)
	assert.Equal(t, int64(42), auth.User.ProviderID)
	assert.Contains(t, auth.User.Providers, domain.ProviderPhone)
	assert.Contains(t, auth.User.Providers, domain.ProviderChatApp)
}

func loginByPhone(t *testing.T, f *fixture, phoneNumber string) service.AuthResult {
	t.Helper()
	ctx := context.Background()

	_, err := f.svc.RequestPhoneCode(ctx, phoneNumber, domain.PurposeLogin)
	require.NoError(t, err)
	code := f.transport.sent[len(f.transport.sent)-1].code

	auth, err := f.svc.VerifyPhoneCode(ctx, phoneNumber, code)
	require.NoError(t, err)
	return auth
}

func linkPhone(t *testing.T, f *fixture, userID int64, phoneNumber string) (service.LinkResult, error) {
	t.Helper()
	ctx := context.Background()

	_, err := f.svc.RequestPhoneCode(ctx, phoneNumber, domain.PurposeLinkPhone)
	require.NoError(t, err)
	code := f.transport.sent[len(f.transport.sent)-1].code

	return f.svc.LinkPhone(ctx, userID, phoneNumber, code)
}

func TestLinkPhoneWithoutExistingHolder(t *testing.T) {
	f := newFixture(t)

	auth, err := f.svc.LoginViaChatApp(context.Background(), chatPayload(`{"id":42,"username":"ivan"}`), "")
	require.NoError(t, err)

	result, err := linkPhone(t, f, auth.User.ID, "+375291111111")
	require.NoError(t, err)
	assert.False(t, result.Merged)
	assert.Zero(t, result.MergedFromID)
	assert.Equal(t, "+375291111111", result.User.Phone)
	assert.True(t, result.User.PhoneVerified)
	assert.Contains(t, result.User.Providers, domain.ProviderPhone)
	assert.NotEmpty(t, result.Token)
}

func TestLinkPhoneMergesExistingHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// User B: phone account holding the number, a seller with 2 favorites.
	sourceAuth := loginByPhone(t, f, "+375291111111")
	sourceUser := f.users.users[sourceAuth.User.ID]
	sourceUser.Role = domain.RoleSeller
	sourceUser.Favorites = []domain.FavoriteRef{{ListingID: 102}, {ListingID: 200}}
	sourceUser.FavoritesCount = 2
	require.NoError(t, f.users.Save(ctx, sourceUser))

	// User A: chat-app account with 3 favorites, one overlapping.
	targetAuth, err := f.svc.LoginViaChatApp(ctx, chatPayload(`{"id":42,"username":"ivan"}`), "")
	require.NoError(t, err)
	targetUser := f.users.users[targetAuth.User.ID]
	targetUser.Favorites = []domain.FavoriteRef{{ListingID: 100}, {ListingID: 101}, {ListingID: 102}}
	targetUser.FavoritesCount = 3
	require.NoError(t, f.users.Save(ctx, targetUser))

	result, err := linkPhone(t, f, targetAuth.User.ID, "+375291111111")
	require.NoError(t, err)
	assert.True(t, result.Merged)
	assert.Equal(t, sourceAuth.User.ID, result.MergedFromID)
	assert.Equal(t, 4, result.User.FavoritesCount)
	assert.Equal(t, string(domain.RoleSeller), result.User.Role)
	assert.True(t, result.User.PhoneVerified)

	// Source is retired and points at the target.
	source := f.users.users[sourceAuth.User.ID]
	assert.False(t, source.IsActive)
	assert.Equal(t, targetAuth.User.ID, source.MergedInto)

	target := f.users.users[targetAuth.User.ID]
	assert.Contains(t, target.MergedFrom, sourceAuth.User.ID)
	assert.Len(t, target.Favorites, 4)

	// Ownership of listings was rewritten for every source key.
	assert.NotEmpty(t, f.listings.reassigned)
	for _, move := range f.listings.reassigned {
		assert.Equal(t, strconv.FormatInt(targetAuth.User.ID, 10), move.to)
	}

	// A retried link degenerates into the no-merge branch.
	again, err := linkPhone(t, f, targetAuth.User.ID, "+375291111111")
	require.NoError(t, err)
	assert.False(t, again.Merged)
	assert.Equal(t, 4, again.User.FavoritesCount)
	target = f.users.users[targetAuth.User.ID]
	assert.Len(t, target.MergedFrom, 1)
}

func TestLinkPhoneAbortsWhenReassignFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sourceAuth := loginByPhone(t, f, "+375291111111")
	targetAuth, err := f.svc.LoginViaChatApp(ctx, chatPayload(`{"id":42,"username":"ivan"}`), "")
	require.NoError(t, err)

	f.listings.err = errors.New("listings store down")
	_, err = linkPhone(t, f, targetAuth.User.ID, "+375291111111")
	require.Error(t, err)

	// Both accounts stay intact and un-merged.
	source := f.users.users[sourceAuth.User.ID]
	assert.True(t, source.IsActive)
	assert.Zero(t, source.MergedInto)
	target := f.users.users[targetAuth.User.ID]
	assert.Empty(t, target.MergedFrom)
	assert.Empty(t, target.Phone)
}

func TestLinkPhoneUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.LinkPhone(context.Background(), 999, "+375291111111", "123456")
	require.Error(t, err)
	assert.Equal(t, "user_not_found", authErr(t, err).Code)
}

func TestVerifySessionRequiresActiveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	auth := loginByPhone(t, f, "+375291111111")

	session, err := f.svc.VerifySession(ctx, auth.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.User.ID, session.UserID)

	// Deactivate the subject: the still-signed token no longer verifies.
	user := f.users.users[auth.User.ID]
	user.IsActive = false
	require.NoError(t, f.users.Save(ctx, user))

	_, err = f.svc.VerifySession(ctx, auth.Token)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

// --- in-memory fakes ---

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
}

func (m *memoryUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (m *memoryUserRepo) GetByChatID(ctx context.Context, chatID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ChatID == chatID && user.MergedInto == 0 {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memoryUserRepo) GetByPhone(ctx context.Context, phone string, activeOnly bool) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Phone != phone || !user.PhoneVerified || user.MergedInto != 0 {
			continue
		}
		if activeOnly && !user.IsActive {
			continue
		}
		return user, nil
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) Save(ctx context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return domain.ErrNotFound
	}
	m.users[user.ID] = user
	return nil
}

type memoryCodeRepo struct {
	mu    sync.Mutex
	codes map[string]domain.PhoneCode
}

func codeRepoKey(phone string, purpose domain.CodePurpose) string {
	return string(purpose) + "|" + phone
}

func (m *memoryCodeRepo) Create(ctx context.Context, code domain.PhoneCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[codeRepoKey(code.Phone, code.Purpose)] = code
	return nil
}

func (m *memoryCodeRepo) GetLatestUnconsumed(ctx context.Context, phone string, purpose domain.CodePurpose) (domain.PhoneCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[codeRepoKey(phone, purpose)]
	if !ok || code.Verified {
		return domain.PhoneCode{}, domain.ErrNotFound
	}
	return code, nil
}

func (m *memoryCodeRepo) Save(ctx context.Context, code domain.PhoneCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[codeRepoKey(code.Phone, code.Purpose)] = code
	return nil
}

func (m *memoryCodeRepo) get(phone string, purpose domain.CodePurpose) domain.PhoneCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[codeRepoKey(phone, purpose)]
}

type reassignment struct {
	from string
	to   string
}

type memoryListingRepo struct {
	mu         sync.Mutex
	reassigned []reassignment
	err        error
}

func (m *memoryListingRepo) ReassignOwner(ctx context.Context, fromKey, toKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.reassigned = append(m.reassigned, reassignment{from: fromKey, to: toKey})
	return 1, nil
}

type sentCode struct {
	phone string
	code  string
}

type memoryTransport struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (m *memoryTransport) Send(ctx context.Context, phone, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentCode{phone: phone, code: code})
	return nil
}
