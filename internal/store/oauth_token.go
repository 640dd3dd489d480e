package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/trendly/apiserver/types"
)

// ProviderTokenRepository persists tokens issued by external identity providers.
type ProviderTokenRepository struct {
	db *sql.DB
}

func NewProviderTokenRepository(db *sql.DB) *ProviderTokenRepository {
	return &ProviderTokenRepository{db: db}
}

func (r *ProviderTokenRepository) Get(ctx context.Context, userID, provider string) (types.ProviderToken, error) {
	const query = `
		SELECT user_id, provider, access_token, refresh_token, token_type, expiry, updated_at
		FROM oauth_tokens
		WHERE user_id = $1 AND provider = $2`
	var token types.ProviderToken
	var expiry sql.NullTime
	err := r.db.QueryRowContext(ctx, query, userID, provider).Scan(
		&token.UserID,
		&token.Provider,
		&token.AccessToken,
		&token.RefreshToken,
		&token.TokenType,
		&expiry,
		&token.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ProviderToken{}, ErrNotFound
		}
		return types.ProviderToken{}, err
	}
	if expiry.Valid {
		token.Expiry = expiry.Time
	}
	return token, nil
}

// Upsert stores the token, replacing any previous token for the same user and provider.
// An empty refresh token keeps the stored one, since providers only return it on first consent.
func (r *ProviderTokenRepository) Upsert(ctx context.Context, token types.ProviderToken) (types.ProviderToken, error) {
	token.UpdatedAt = time.Now().UTC()

	var expiry sql.NullTime
	if !token.Expiry.IsZero() {
		expiry = sql.NullTime{Time: token.Expiry, Valid: true}
	}

	const query = `
		INSERT INTO oauth_tokens (user_id, provider, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), oauth_tokens.refresh_token),
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		token.UserID,
		token.Provider,
		token.AccessToken,
		token.RefreshToken,
		token.TokenType,
		expiry,
		token.UpdatedAt,
	); err != nil {
		return types.ProviderToken{}, err
	}
	return token, nil
}
