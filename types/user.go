package types

import "time"

// User represents a creator account.
// It contains identity, profile, and audit metadata.
type User struct {
	// ID is the opaque unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's lower-cased email address. It is unique across users.
	Email string `json:"email" db:"email"`

	// Username is the unique login name chosen by the user.
	// It is empty for federated accounts that have not completed their profile.
	Username string `json:"username" db:"username"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// It is empty for federated accounts and never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Contact is the user's phone number.
	Contact string `json:"contact" db:"contact"`

	// Address is the user's postal address.
	Address string `json:"address" db:"address"`

	// Country is the user's country code or name.
	Country string `json:"country" db:"country"`

	// Youtube is the handle of the linked video channel, if any.
	Youtube string `json:"youtube" db:"youtube"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasPassword reports whether the account can sign in with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// ProfileComplete reports whether the fields collected after federated signup are set.
func (u User) ProfileComplete() bool {
	return u.Username != "" && u.Contact != "" && u.Address != "" && u.Country != ""
}
