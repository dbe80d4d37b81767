package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/bazar-auth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository    = (*PostgresUserRepo)(nil)
	_ ListingRepository = (*PostgresListingRepo)(nil)
)

// PostgresUserRepo implements UserRepository on pgx. Provider links,
// favorites, and merge bookkeeping live in JSONB columns.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const userColumns = `id, chat_id, app_id, username, first_name, last_name, phone, phone_verified,
role, providers, favorites, favorites_count, is_active, merged_from, merged_into,
last_active_at, created_at, updated_at`

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

func (r *PostgresUserRepo) GetByChatID(ctx context.Context, chatID int64) (domain.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE chat_id = $1 AND merged_into = 0`, chatID)
	return scanUser(row)
}

func (r *PostgresUserRepo) GetByPhone(ctx context.Context, phone string, activeOnly bool) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1 AND phone_verified AND merged_into = 0`
	if activeOnly {
		query += ` AND is_active`
	}
	row := r.db.QueryRow(ctx, query, phone)
	return scanUser(row)
}

const insertUserSQL = `INSERT INTO users (id, chat_id, app_id, username, first_name, last_name, phone, phone_verified,
role, providers, favorites, favorites_count, is_active, merged_from, merged_into, last_active_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), now())
RETURNING ` + userColumns

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	providers, favorites, mergedFrom, err := encodeUserJSON(user)
	if err != nil {
		return domain.User{}, err
	}

	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.ChatID,
		user.AppID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.Phone,
		user.PhoneVerified,
		string(user.Role),
		providers,
		favorites,
		user.FavoritesCount,
		user.IsActive,
		mergedFrom,
		user.MergedInto,
		user.LastActiveAt,
	)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

const saveUserSQL = `UPDATE users SET chat_id = $2, app_id = $3, username = $4, first_name = $5, last_name = $6,
phone = $7, phone_verified = $8, role = $9, providers = $10, favorites = $11, favorites_count = $12,
is_active = $13, merged_from = $14, merged_into = $15, last_active_at = $16, updated_at = now()
WHERE id = $1`

func (r *PostgresUserRepo) Save(ctx context.Context, user domain.User) error {
	providers, favorites, mergedFrom, err := encodeUserJSON(user)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, saveUserSQL,
		user.ID,
		user.ChatID,
		user.AppID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.Phone,
		user.PhoneVerified,
		string(user.Role),
		providers,
		favorites,
		user.FavoritesCount,
		user.IsActive,
		mergedFrom,
		user.MergedInto,
		user.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func encodeUserJSON(user domain.User) ([]byte, []byte, []byte, error) {
	providers, err := json.Marshal(orEmptyLinks(user.Providers))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode providers: %w", err)
	}
	favorites, err := json.Marshal(orEmptyFavorites(user.Favorites))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode favorites: %w", err)
	}
	mergedFrom, err := json.Marshal(orEmptyIDs(user.MergedFrom))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode merged_from: %w", err)
	}
	return providers, favorites, mergedFrom, nil
}

func orEmptyLinks(v []domain.ProviderLink) []domain.ProviderLink {
	if v == nil {
		return []domain.ProviderLink{}
	}
	return v
}

func orEmptyFavorites(v []domain.FavoriteRef) []domain.FavoriteRef {
	if v == nil {
		return []domain.FavoriteRef{}
	}
	return v
}

func orEmptyIDs(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user       domain.User
		role       string
		providers  []byte
		favorites  []byte
		mergedFrom []byte
		lastActive time.Time
	)
	err := row.Scan(
		&user.ID,
		&user.ChatID,
		&user.AppID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.PhoneVerified,
		&role,
		&providers,
		&favorites,
		&user.FavoritesCount,
		&user.IsActive,
		&mergedFrom,
		&user.MergedInto,
		&lastActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("scan user: %w", err)
	}

	user.Role = domain.Role(role)
	user.LastActiveAt = lastActive
	if len(providers) > 0 {
		if err := json.Unmarshal(providers, &user.Providers); err != nil {
			return domain.User{}, fmt.Errorf("decode providers: %w", err)
		}
	}
	if len(favorites) > 0 {
		if err := json.Unmarshal(favorites, &user.Favorites); err != nil {
			return domain.User{}, fmt.Errorf("decode favorites: %w", err)
		}
	}
	if len(mergedFrom) > 0 {
		if err := json.Unmarshal(mergedFrom, &user.MergedFrom); err != nil {
			return domain.User{}, fmt.Errorf("decode merged_from: %w", err)
		}
	}
	return user, nil
}

// PostgresListingRepo implements the ownership rewrite over the listings
// table. Listings reference their seller by an opaque key that may be the
// internal user id or the chat-app id, so merges rewrite both.
type PostgresListingRepo struct {
	db *pgxpool.Pool
}

func NewPostgresListingRepo(pool *pgxpool.Pool) *PostgresListingRepo {
	return &PostgresListingRepo{db: pool}
}

func (r *PostgresListingRepo) ReassignOwner(ctx context.Context, fromKey, toKey string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE listings SET seller_key = $2, updated_at = now() WHERE seller_key = $1`,
		fromKey, toKey)
	if err != nil {
		return 0, fmt.Errorf("reassign listings: %w", err)
	}
	return tag.RowsAffected(), nil
}
