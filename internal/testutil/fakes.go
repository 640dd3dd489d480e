// Package testutil holds in-memory collaborators shared by service, handler and server tests.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trendly/apiserver/internal/notify"
	"github.com/trendly/apiserver/internal/oauth"
	"github.com/trendly/apiserver/internal/storage"
	"github.com/trendly/apiserver/internal/store"
	"github.com/trendly/apiserver/types"
	"golang.org/x/oauth2"
)

// Users is an in-memory user repository enforcing the same unique columns as the schema.
type Users struct {
	mu   sync.Mutex
	byID map[string]types.User
	Err  error
}

func NewUsers() *Users {
	return &Users{byID: map[string]types.User{}}
}

func (u *Users) GetByID(_ context.Context, id string) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	user, ok := u.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (u *Users) GetByUsername(_ context.Context, username string) (types.User, error) {
	return u.find(func(user types.User) bool { return username != "" && user.Username == username })
}

func (u *Users) GetByEmail(_ context.Context, email string) (types.User, error) {
	return u.find(func(user types.User) bool { return user.Email == email })
}

func (u *Users) find(match func(types.User) bool) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	for _, user := range u.byID {
		if match(user) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (u *Users) Create(_ context.Context, user types.User) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	if err := u.checkUnique(user); err != nil {
		return types.User{}, err
	}
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	u.byID[user.ID] = user
	return user, nil
}

func (u *Users) Update(_ context.Context, user types.User) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	existing, ok := u.byID[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if err := u.checkUnique(user); err != nil {
		return types.User{}, err
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	u.byID[user.ID] = user
	return user, nil
}

func (u *Users) checkUnique(user types.User) error {
	for id, other := range u.byID {
		if id == user.ID {
			continue
		}
		if other.Email == user.Email {
			return &store.ConflictError{Field: "email"}
		}
		if user.Username != "" && other.Username == user.Username {
			return &store.ConflictError{Field: "username"}
		}
	}
	return nil
}

// Len returns the number of stored users.
func (u *Users) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.byID)
}

// ProviderTokens is an in-memory provider token repository.
type ProviderTokens struct {
	mu     sync.Mutex
	tokens map[string]types.ProviderToken
}

func NewProviderTokens() *ProviderTokens {
	return &ProviderTokens{tokens: map[string]types.ProviderToken{}}
}

func (p *ProviderTokens) Get(_ context.Context, userID, provider string) (types.ProviderToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	token, ok := p.tokens[userID+"/"+provider]
	if !ok {
		return types.ProviderToken{}, store.ErrNotFound
	}
	return token, nil
}

func (p *ProviderTokens) Upsert(_ context.Context, token types.ProviderToken) (types.ProviderToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := token.UserID + "/" + token.Provider
	if previous, ok := p.tokens[key]; ok && token.RefreshToken == "" {
		token.RefreshToken = previous.RefreshToken
	}
	token.UpdatedAt = time.Now().UTC()
	p.tokens[key] = token
	return token, nil
}

// Assets is an in-memory asset metadata repository.
type Assets struct {
	mu     sync.Mutex
	assets map[string]types.Asset
	Err    error
}

func NewAssets() *Assets {
	return &Assets{assets: map[string]types.Asset{}}
}

func (a *Assets) ListByUser(_ context.Context, userID string, offset, limit int) ([]types.Asset, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var owned []types.Asset
	for _, asset := range a.assets {
		if asset.UserID == userID {
			owned = append(owned, asset)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID < owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	total := len(owned)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return append([]types.Asset{}, owned[offset:end]...), total, nil
}

func (a *Assets) Get(_ context.Context, id string) (types.Asset, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	asset, ok := a.assets[id]
	if !ok {
		return types.Asset{}, store.ErrNotFound
	}
	return asset, nil
}

func (a *Assets) Create(_ context.Context, asset types.Asset) (types.Asset, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return types.Asset{}, a.Err
	}
	asset.CreatedAt = time.Now().UTC()
	a.assets[asset.ID] = asset
	return asset, nil
}

func (a *Assets) Delete(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.assets[id]; !ok {
		return store.ErrNotFound
	}
	delete(a.assets, id)
	return nil
}

// Objects is an in-memory object store.
type Objects struct {
	mu      sync.Mutex
	objects map[string][]byte
	ctypes  map[string]string
}

func NewObjects() *Objects {
	return &Objects{objects: map[string][]byte{}, ctypes: map[string]string{}}
}

func (o *Objects) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	o.ctypes[key] = contentType
	return nil
}

func (o *Objects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *Objects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	delete(o.ctypes, key)
	return nil
}

// Has reports whether key is stored.
func (o *Objects) Has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok
}

// Len returns the number of stored objects.
func (o *Objects) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

// Outbox records dispatched messages. Set Err to make Send fail.
type Outbox struct {
	mu   sync.Mutex
	sent []notify.Message
	Err  error
}

func (o *Outbox) Send(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.sent = append(o.sent, msg)
	return nil
}

// Sent returns a copy of the dispatched messages.
func (o *Outbox) Sent() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message{}, o.sent...)
}

// Provider is a scripted identity provider. Codes map to identities; any other
// code fails the exchange.
type Provider struct {
	mu         sync.Mutex
	Identities map[string]oauth.Identity
	RefreshErr error
	Refreshed  int
}

func NewProvider() *Provider {
	return &Provider{Identities: map[string]oauth.Identity{}}
}

func (p *Provider) Name() string {
	return oauth.ProviderGoogle
}

func (p *Provider) AuthCodeURL(state string) string {
	return "https://accounts.example.test/auth?state=" + url.QueryEscape(state)
}

func (p *Provider) Exchange(_ context.Context, code string) (oauth.Identity, *oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	identity, ok := p.Identities[code]
	if !ok {
		return oauth.Identity{}, nil, errors.New("invalid_grant")
	}
	return identity, &oauth2.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (p *Provider) Refresh(_ context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RefreshErr != nil {
		return nil, p.RefreshErr
	}
	if token.RefreshToken == "" {
		return nil, oauth.ErrNoRefreshToken
	}
	p.Refreshed++
	return &oauth2.Token{
		AccessToken:  "refreshed-" + token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}
