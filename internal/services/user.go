package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/trendly/apiserver/internal/otp"
	"github.com/trendly/apiserver/types"
)

const minPasswordLength = 6

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,32}$`)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// SignupRequest is the body of a password signup.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Contact  string `json:"contact"`
	Address  string `json:"address"`
	Country  string `json:"country"`
	Youtube  string `json:"youtube"`
}

// Normalize trims every field and canonicalizes the email. The password is left as sent.
func (r *SignupRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
	r.Contact = strings.TrimSpace(r.Contact)
	r.Address = strings.TrimSpace(r.Address)
	r.Country = strings.TrimSpace(r.Country)
	r.Youtube = strings.TrimSpace(r.Youtube)
}

func (r SignupRequest) Validate() error {
	if r.Username == "" || r.Email == "" || r.Password == "" || r.Name == "" {
		return newError(ErrValidation, "Username, email, password and name are required.")
	}
	if !usernamePattern.MatchString(r.Username) {
		return newError(ErrValidation, "Username must be 3-32 letters, digits, dots, dashes or underscores.")
	}
	if _, err := otp.NormalizeEmail(r.Email); err != nil {
		return newError(ErrValidation, "A valid email is required.")
	}
	if len(r.Password) < minPasswordLength {
		return newError(ErrValidation, "Password must be at least %d characters.", minPasswordLength)
	}
	return nil
}

// LoginRequest is the body of a password login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
}

func (r LoginRequest) Validate() error {
	if r.Username == "" || r.Password == "" {
		return newError(ErrValidation, "Username and password are required.")
	}
	return nil
}

// ProfileUpdate carries the fields a federated account fills in after its first login.
// Empty fields leave the stored value unchanged.
type ProfileUpdate struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	Contact  string `json:"contact"`
	Address  string `json:"address"`
	Country  string `json:"country"`
	Youtube  string `json:"youtube"`
}

func (p *ProfileUpdate) Normalize() {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Name = strings.TrimSpace(p.Name)
	p.Username = strings.TrimSpace(p.Username)
	p.Contact = strings.TrimSpace(p.Contact)
	p.Address = strings.TrimSpace(p.Address)
	p.Country = strings.TrimSpace(p.Country)
	p.Youtube = strings.TrimSpace(p.Youtube)
}

func (p ProfileUpdate) Validate() error {
	if p.Username != "" && !usernamePattern.MatchString(p.Username) {
		return newError(ErrValidation, "Username must be 3-32 letters, digits, dots, dashes or underscores.")
	}
	if p.Password != "" && len(p.Password) < minPasswordLength {
		return newError(ErrValidation, "Password must be at least %d characters.", minPasswordLength)
	}
	return nil
}

// apply copies the non-empty profile fields onto user.
func (p ProfileUpdate) apply(user types.User) types.User {
	if p.Name != "" {
		user.Name = p.Name
	}
	if p.Username != "" {
		user.Username = p.Username
	}
	if p.Contact != "" {
		user.Contact = p.Contact
	}
	if p.Address != "" {
		user.Address = p.Address
	}
	if p.Country != "" {
		user.Country = p.Country
	}
	if p.Youtube != "" {
		user.Youtube = p.Youtube
	}
	return user
}
