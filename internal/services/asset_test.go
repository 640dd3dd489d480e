package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendly/apiserver/internal/testutil"
	"github.com/trendly/apiserver/types"
)

func newAssetFixture() (*AssetService, *testutil.Assets, *testutil.Objects) {
	repo := testutil.NewAssets()
	objects := testutil.NewObjects()
	return NewAssetService(repo, objects, nil), repo, objects
}

func TestAssetUploadOpenDelete(t *testing.T) {
	ctx := context.Background()
	svc, _, objects := newAssetFixture()

	asset, err := svc.Upload(ctx, "user-1", AssetUpload{
		Kind:     types.AssetKindThumbnail,
		Filename: "../../etc/thumb.png",
		Data:     []byte("\x89PNG\r\n\x1a\nrest-of-image"),
	})
	require.NoError(t, err)
	assert.Equal(t, "thumb.png", asset.Filename)
	assert.Equal(t, "image/png", asset.ContentType)
	assert.Equal(t, "users/user-1/"+asset.ID+"/thumb.png", asset.ObjectKey)
	assert.Len(t, asset.SHA256, 64)
	assert.True(t, objects.Has(asset.ObjectKey))

	got, body, err := svc.Open(ctx, "user-1", asset.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, asset.ID, got.ID)
	assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))

	require.NoError(t, svc.Delete(ctx, "user-1", asset.ID))
	assert.False(t, objects.Has(asset.ObjectKey))
	_, _, err = svc.Open(ctx, "user-1", asset.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssetOwnership(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAssetFixture()

	asset, err := svc.Upload(ctx, "owner", AssetUpload{Kind: types.AssetKindVoiceover, Filename: "take1.mp3", ContentType: "audio/mpeg", Data: []byte("ID3")})
	require.NoError(t, err)

	_, _, err = svc.Open(ctx, "intruder", asset.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "intruder", asset.ID), ErrNotFound)

	items, total, err := svc.List(ctx, "intruder", 0, 20)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)

	items, total, err = svc.List(ctx, "owner", 0, 20)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, total)
}

func TestAssetUploadValidation(t *testing.T) {
	svc, _, _ := newAssetFixture()
	cases := map[string]AssetUpload{
		"bad kind":     {Kind: "podcast", Filename: "a.mp3", Data: []byte("x")},
		"no filename":  {Kind: types.AssetKindImage, Filename: " ", Data: []byte("x")},
		"empty file":   {Kind: types.AssetKindImage, Filename: "a.png"},
		"dot filename": {Kind: types.AssetKindImage, Filename: "..", Data: []byte("x")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Upload(context.Background(), "u", in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestAssetUploadRemovesObjectWhenMetadataFails(t *testing.T) {
	svc, repo, objects := newAssetFixture()
	repo.Err = errors.New("insert failed")

	_, err := svc.Upload(context.Background(), "u", AssetUpload{Kind: types.AssetKindImage, Filename: "a.png", Data: []byte("x")})
	require.Error(t, err)

	items, _, listErr := svc.List(context.Background(), "u", 0, 10)
	require.NoError(t, listErr)
	assert.Empty(t, items)
	assert.Zero(t, objects.Len())
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a.png", sanitizeFilename(`C:\Users\me\a.png`))
	assert.Equal(t, "b.mp4", sanitizeFilename("/tmp/b.mp4"))
	assert.Equal(t, "", sanitizeFilename(""))
	assert.Equal(t, "", sanitizeFilename("/"))
}
