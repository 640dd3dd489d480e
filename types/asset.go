package types

import "time"

// AssetKind classifies hosted creator media.
type AssetKind string

const (
	AssetKindThumbnail AssetKind = "thumbnail"
	AssetKindVoiceover AssetKind = "voiceover"
	AssetKindImage     AssetKind = "image"
	AssetKindVideo     AssetKind = "video"
)

// Valid reports whether k is a known asset kind.
func (k AssetKind) Valid() bool {
	switch k {
	case AssetKindThumbnail, AssetKindVoiceover, AssetKindImage, AssetKindVideo:
		return true
	default:
		return false
	}
}

// Asset is a media file a creator hosts in object storage.
type Asset struct {
	// ID is the unique identifier of the asset.
	ID string `json:"id" db:"id"`

	// UserID identifies the owner.
	UserID string `json:"user_id" db:"user_id"`

	Kind        AssetKind `json:"kind" db:"kind"`
	Filename    string    `json:"filename" db:"filename"`
	ContentType string    `json:"content_type" db:"content_type"`

	// Size is the object size in bytes.
	Size int64 `json:"size" db:"size"`

	// SHA256 is the hex digest of the uploaded bytes.
	SHA256 string `json:"sha256" db:"sha256"`

	// ObjectKey locates the bytes in the storage bucket.
	ObjectKey string `json:"-" db:"object_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
