package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/trendly/apiserver/types"
)

// AssetRepository handles persistence for creator asset metadata.
type AssetRepository struct {
	db *sql.DB
}

func NewAssetRepository(db *sql.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]types.Asset, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM assets WHERE user_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT id, user_id, kind, filename, content_type, size, sha256, object_key, created_at
		FROM assets
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, listQuery, userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	assets := make([]types.Asset, 0, limit)
	for rows.Next() {
		var asset types.Asset
		if err := rows.Scan(
			&asset.ID,
			&asset.UserID,
			&asset.Kind,
			&asset.Filename,
			&asset.ContentType,
			&asset.Size,
			&asset.SHA256,
			&asset.ObjectKey,
			&asset.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		assets = append(assets, asset)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return assets, total, nil
}

func (r *AssetRepository) Get(ctx context.Context, id string) (types.Asset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Asset{}, ErrNotFound
	}

	const query = `
		SELECT id, user_id, kind, filename, content_type, size, sha256, object_key, created_at
		FROM assets
		WHERE id = $1`
	var asset types.Asset
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&asset.ID,
		&asset.UserID,
		&asset.Kind,
		&asset.Filename,
		&asset.ContentType,
		&asset.Size,
		&asset.SHA256,
		&asset.ObjectKey,
		&asset.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Asset{}, ErrNotFound
		}
		return types.Asset{}, err
	}
	return asset, nil
}

// Create inserts asset metadata. The caller assigns ID and ObjectKey so the
// object can be uploaded before the row exists.
func (r *AssetRepository) Create(ctx context.Context, asset types.Asset) (types.Asset, error) {
	asset.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO assets (id, user_id, kind, filename, content_type, size, sha256, object_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		asset.ID,
		asset.UserID,
		asset.Kind,
		asset.Filename,
		asset.ContentType,
		asset.Size,
		asset.SHA256,
		asset.ObjectKey,
		asset.CreatedAt,
	); err != nil {
		return types.Asset{}, mapWriteError("assets", err)
	}
	return asset, nil
}

func (r *AssetRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM assets WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
