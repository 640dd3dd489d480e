package types

import "time"

// ProviderToken is an OAuth token issued to a user by an external identity provider.
type ProviderToken struct {
	UserID       string    `json:"user_id" db:"user_id"`
	Provider     string    `json:"provider" db:"provider"`
	AccessToken  string    `json:"-" db:"access_token"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	TokenType    string    `json:"token_type" db:"token_type"`
	Expiry       time.Time `json:"expiry" db:"expiry"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
