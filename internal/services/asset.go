package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/trendly/apiserver/internal/storage"
	"github.com/trendly/apiserver/internal/store"
	"github.com/trendly/apiserver/types"
	"go.uber.org/zap"
)

// MaxAssetBytes bounds a single uploaded asset.
const MaxAssetBytes = 64 << 20

// AssetRepository defines persistence operations for asset metadata.
type AssetRepository interface {
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]types.Asset, int, error)
	Get(ctx context.Context, id string) (types.Asset, error)
	Create(ctx context.Context, asset types.Asset) (types.Asset, error)
	Delete(ctx context.Context, id string) error
}

// ObjectStore holds asset bytes. *storage.Storage satisfies it.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// AssetUpload is one file submitted by a creator.
type AssetUpload struct {
	Kind        types.AssetKind
	Filename    string
	ContentType string
	Data        []byte
}

// AssetService stores creator media in object storage with metadata in the database.
type AssetService struct {
	repo    AssetRepository
	objects ObjectStore
	logger  *zap.Logger
}

func NewAssetService(repo AssetRepository, objects ObjectStore, logger *zap.Logger) *AssetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetService{repo: repo, objects: objects, logger: logger}
}

// Upload stores the bytes, then the metadata. The object is removed again if
// the metadata cannot be written.
func (s *AssetService) Upload(ctx context.Context, userID string, in AssetUpload) (types.Asset, error) {
	if !in.Kind.Valid() {
		return types.Asset{}, newError(ErrValidation, "kind must be one of thumbnail, voiceover, image or video")
	}
	filename := sanitizeFilename(in.Filename)
	if filename == "" {
		return types.Asset{}, newError(ErrValidation, "filename is required")
	}
	if len(in.Data) == 0 {
		return types.Asset{}, newError(ErrValidation, "file is empty")
	}
	if len(in.Data) > MaxAssetBytes {
		return types.Asset{}, newError(ErrValidation, "file exceeds %d MiB", MaxAssetBytes>>20)
	}

	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(in.Data)
	}

	sum := sha256.Sum256(in.Data)
	id := uuid.NewString()
	asset := types.Asset{
		ID:          id,
		UserID:      userID,
		Kind:        in.Kind,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(in.Data)),
		SHA256:      hex.EncodeToString(sum[:]),
		ObjectKey:   path.Join("users", userID, id, filename),
	}

	if err := s.objects.Put(ctx, asset.ObjectKey, bytes.NewReader(in.Data), asset.Size, contentType); err != nil {
		s.logger.Error("upload asset object", zap.String("key", asset.ObjectKey), zap.Error(err))
		return types.Asset{}, err
	}

	created, err := s.repo.Create(ctx, asset)
	if err != nil {
		if delErr := s.objects.Delete(ctx, asset.ObjectKey); delErr != nil {
			s.logger.Warn("remove orphaned asset object", zap.String("key", asset.ObjectKey), zap.Error(delErr))
		}
		return types.Asset{}, err
	}
	return created, nil
}

func (s *AssetService) List(ctx context.Context, userID string, offset, limit int) ([]types.Asset, int, error) {
	return s.repo.ListByUser(ctx, userID, offset, limit)
}

// Open returns the asset and a reader over its bytes. The caller closes the reader.
func (s *AssetService) Open(ctx context.Context, userID, assetID string) (types.Asset, io.ReadCloser, error) {
	asset, err := s.owned(ctx, userID, assetID)
	if err != nil {
		return types.Asset{}, nil, err
	}

	body, err := s.objects.Get(ctx, asset.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return types.Asset{}, nil, newError(ErrNotFound, "asset not found")
		}
		return types.Asset{}, nil, err
	}
	return asset, body, nil
}

func (s *AssetService) Delete(ctx context.Context, userID, assetID string) error {
	asset, err := s.owned(ctx, userID, assetID)
	if err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, asset.ObjectKey); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, asset.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrNotFound, "asset not found")
		}
		return err
	}
	return nil
}

// owned loads an asset and hides assets of other users behind ErrNotFound.
func (s *AssetService) owned(ctx context.Context, userID, assetID string) (types.Asset, error) {
	asset, err := s.repo.Get(ctx, assetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Asset{}, newError(ErrNotFound, "asset not found")
		}
		return types.Asset{}, err
	}
	if asset.UserID != userID {
		return types.Asset{}, newError(ErrNotFound, "asset not found")
	}
	return asset, nil
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
