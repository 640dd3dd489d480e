package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendly/apiserver/internal/oauth"
	"github.com/trendly/apiserver/internal/otp"
	"github.com/trendly/apiserver/internal/services"
	"github.com/trendly/apiserver/internal/session"
	"github.com/trendly/apiserver/internal/testutil"
	"golang.org/x/crypto/bcrypt"
)

const frontendURL = "https://app.example.test"

type handlerFixture struct {
	router   chi.Router
	users    *testutil.Users
	outbox   *testutil.Outbox
	provider *testutil.Provider
	objects  *testutil.Objects
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	sessions, err := session.NewIssuer("handler-secret")
	require.NoError(t, err)

	f := &handlerFixture{
		users:    testutil.NewUsers(),
		outbox:   &testutil.Outbox{},
		provider: testutil.NewProvider(),
		objects:  testutil.NewObjects(),
	}
	registry := otp.NewRegistry(otp.NewMemoryStore(),
		otp.WithCodeSource(func() (int, error) { return 1234, nil }),
	)
	authService := services.NewAuthService(services.AuthDeps{
		Users:      f.users,
		Tokens:     testutil.NewProviderTokens(),
		OTP:        registry,
		Dispatcher: f.outbox,
		Sessions:   sessions,
		Provider:   f.provider,
		BcryptCost: bcrypt.MinCost,
	})
	assetService := services.NewAssetService(testutil.NewAssets(), f.objects, nil)
	cookies := Cookies{TTL: sessions.TTL()}

	r := chi.NewRouter()
	r.Get("/healthz", Healthz)
	r.Route("/auth", func(r chi.Router) { AuthRouter(r, authService, cookies) })
	r.Route("/otp", func(r chi.Router) { OTPRouter(r, authService) })
	r.Route("/oauth", func(r chi.Router) { OAuthRouter(r, authService, cookies, frontendURL, nil) })
	r.Route("/assets", func(r chi.Router) {
		AssetRouter(r, assetService, RequireSession(authService), nil)
	})
	f.router = r
	return f
}

func (f *handlerFixture) do(t *testing.T, method, target string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, fn := range mutate {
		fn(req)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	return nil
}

func (f *handlerFixture) signup(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/signup", map[string]string{
		"username": "bob",
		"email":    "bob@x.com",
		"password": "secret123",
		"name":     "Bob",
		"contact":  "1234567890",
		"address":  "a",
		"country":  "us",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["token"].(string)
}

func TestHealthz(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSignupAndLogin(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/signup", map[string]string{
		"username": "bob", "email": "bob@x.com", "password": "secret123", "name": "Bob",
		"contact": "1234567890", "address": "a", "country": "us",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Bob", body["name"])
	userID := body["userId"].(string)
	assert.NotEmpty(t, userID)
	assert.NotEmpty(t, body["token"])

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, body["token"], cookie.Value)

	rec = f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "bob", "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, userID, body["userId"])
	assert.Equal(t, "Bob", body["name"])
	assert.NotNil(t, sessionCookie(rec))
}

func TestSignupConflictAndValidation(t *testing.T) {
	f := newHandlerFixture(t)
	f.signup(t)

	rec := f.do(t, http.MethodPost, "/auth/signup", map[string]string{
		"username": "bob", "email": "other@x.com", "password": "secret123", "name": "Other",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Username already exists."}`, rec.Body.String())
	assert.Equal(t, 1, f.users.Len())

	rec = f.do(t, http.MethodPost, "/auth/signup", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginFailures(t *testing.T) {
	f := newHandlerFixture(t)
	f.signup(t)

	rec := f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "nobody", "password": "secret123"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "bob", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
	assert.Nil(t, sessionCookie(rec))
}

func TestOTPSendAndVerify(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/otp/send", map[string]string{"email": "Carol@X.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	sent := f.outbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "carol@x.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "1234")

	rec = f.do(t, http.MethodPost, "/otp/verify", map[string]any{"email": "carol@x.com", "otp": "1234"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	rec = f.do(t, http.MethodPost, "/otp/verify", map[string]any{"email": "carol@x.com", "otp": 1234})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"OTP expired or not found."}`, rec.Body.String())
}

func TestOTPVerifyMismatchIsGeneric(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/otp/send", map[string]string{"email": "dan@x.com"}).Code)

	for _, code := range []any{9999, "abc", nil} {
		rec := f.do(t, http.MethodPost, "/otp/verify", map[string]any{"email": "dan@x.com", "otp": code})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, services.OTPRejectedMessage, decode(t, rec)["error"])
	}
}

func TestOTPSendFailures(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/otp/send", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	f.outbox.Err = io.ErrClosedPipe
	rec = f.do(t, http.MethodPost, "/otp/send", map[string]string{"email": "eve@x.com"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to send OTP.", decode(t, rec)["error"])
}

func TestOTPCodeUnmarshal(t *testing.T) {
	var req OTPVerifyRequest
	require.NoError(t, json.Unmarshal([]byte(`{"email":"a@b.c","otp":" 0042 "}`), &req))
	assert.Equal(t, OTPCode(42), req.OTP)
	require.NoError(t, json.Unmarshal([]byte(`{"otp":7}`), &req))
	assert.Equal(t, OTPCode(7), req.OTP)
	assert.Error(t, json.Unmarshal([]byte(`{"otp":"12a"}`), &req))
	assert.Error(t, json.Unmarshal([]byte(`{"otp":null}`), &req))
}

func TestOAuthLoginRedirectsWithState(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodGet, "/oauth/user/login/google", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	var state *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookieName {
			state = c
		}
	}
	require.NotNil(t, state)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, state.Value, location.Query().Get("state"))
}

func (f *handlerFixture) callback(t *testing.T, code string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodGet, "/oauth/user/login/google/callback?state=s1&code="+code, nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: stateCookieName, Value: "s1"})
	})
}

func tokenFromLocation(t *testing.T, rec *httptest.ResponseRecorder, page string) string {
	t.Helper()
	location := rec.Header().Get("Location")
	prefix := frontendURL + page + "#token="
	require.True(t, strings.HasPrefix(location, prefix), location)
	token, err := url.QueryUnescape(strings.TrimPrefix(location, prefix))
	require.NoError(t, err)
	return token
}

func TestOAuthCallbackNewThenReturningUser(t *testing.T) {
	f := newHandlerFixture(t)
	f.provider.Identities["code-1"] = oauth.Identity{Subject: "g-1", Email: "gina@x.com", Name: "Gina", EmailVerified: true}

	rec := f.callback(t, "code-1")
	require.Equal(t, http.StatusFound, rec.Code)
	token := tokenFromLocation(t, rec, "/complete-profile")
	require.NotNil(t, sessionCookie(rec))

	rec = f.do(t, http.MethodGet, "/oauth/me", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "gina@x.com", user["email"])
	assert.Equal(t, "Gina", user["name"])
	assert.Equal(t, "", user["username"])

	rec = f.callback(t, "code-1")
	require.Equal(t, http.StatusFound, rec.Code)
	tokenFromLocation(t, rec, "/dashboard")
	assert.Equal(t, 1, f.users.Len())
}

func TestOAuthCallbackFailures(t *testing.T) {
	f := newHandlerFixture(t)

	cases := map[string]struct {
		target string
		cookie string
		code   string
	}{
		"state mismatch": {target: "/oauth/user/login/google/callback?state=a&code=c", cookie: "b", code: errCodeInvalidState},
		"no cookie":      {target: "/oauth/user/login/google/callback?state=a&code=c", code: errCodeInvalidState},
		"denied":         {target: "/oauth/user/login/google/callback?error=access_denied", cookie: "a", code: errCodeDenied},
		"no code":        {target: "/oauth/user/login/google/callback?state=a", cookie: "a", code: errCodeMissingCode},
		"bad code":       {target: "/oauth/user/login/google/callback?state=a&code=unknown", cookie: "a", code: errCodeFederation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tc.target, nil, func(r *http.Request) {
				if tc.cookie != "" {
					r.AddCookie(&http.Cookie{Name: stateCookieName, Value: tc.cookie})
				}
			})
			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, frontendURL+"/login?error="+tc.code, rec.Header().Get("Location"))
		})
	}
}

func TestUserInfoCompletesProfile(t *testing.T) {
	f := newHandlerFixture(t)
	f.provider.Identities["code-h"] = oauth.Identity{Subject: "g-h", Email: "hal@x.com", Name: "Hal", EmailVerified: true}
	token := tokenFromLocation(t, f.callback(t, "code-h"), "/complete-profile")

	update := map[string]any{"data": map[string]string{
		"email": "hal@x.com", "username": "hal", "contact": "555", "address": "street", "country": "uk", "youtube": "@hal",
	}}
	rec := f.do(t, http.MethodPut, "/oauth/userinfo", update, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["userId"])

	rec = f.do(t, http.MethodGet, "/oauth/me", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	})
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "hal", user["username"])
	assert.Equal(t, "@hal", user["youtube"])

	other := map[string]any{"data": map[string]string{"email": "someone@x.com", "username": "xyz1", "contact": "1", "address": "a", "country": "c"}}
	rec = f.do(t, http.MethodPut, "/oauth/userinfo", other, bearer(token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionRequired(t *testing.T) {
	f := newHandlerFixture(t)
	for _, target := range []string{"/oauth/me", "/assets"} {
		rec := f.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)

		rec = f.do(t, http.MethodGet, target, nil, bearer("garbage"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, http.MethodGet, "/oauth/user/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestProviderTokenRefresh(t *testing.T) {
	f := newHandlerFixture(t)
	f.provider.Identities["code-r"] = oauth.Identity{Subject: "g-r", Email: "rae@x.com", Name: "Rae", EmailVerified: true}
	token := tokenFromLocation(t, f.callback(t, "code-r"), "/complete-profile")

	rec := f.do(t, http.MethodPost, "/oauth/token/refresh", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body RefreshResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.True(t, body.ExpiresAt.After(time.Now()))

	password := f.signup(t)
	rec = f.do(t, http.MethodPost, "/oauth/token/refresh", nil, bearer(password))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func uploadRequest(t *testing.T, kind, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField(formFieldKind, kind))
	part, err := mw.CreateFormFile(formFieldFile, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAssetLifecycle(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.signup(t)

	body, contentType := uploadRequest(t, "thumbnail", "thumb.png", []byte("\x89PNG\r\n\x1a\nimage-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/assets", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assetID := created["id"].(string)
	assert.Equal(t, "thumbnail", created["kind"])
	assert.Equal(t, "image/png", created["content_type"])
	assert.Equal(t, 1, f.objects.Len())

	rec = f.do(t, http.MethodGet, "/assets?page=1&limit=10", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	var list AssetListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 10, list.Limit)
	require.Len(t, list.Items, 1)

	rec = f.do(t, http.MethodGet, "/assets/"+assetID+"/content", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))

	rec = f.do(t, http.MethodDelete, "/assets/"+assetID, nil, bearer(token))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.objects.Len())

	rec = f.do(t, http.MethodDelete, "/assets/"+assetID, nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssetRequestValidation(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.signup(t)

	body, contentType := uploadRequest(t, "podcast", "a.mp3", []byte("ID3"))
	req := httptest.NewRequest(http.MethodPost, "/assets", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/assets/not-a-uuid/content", nil, bearer(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/assets?page=0", nil, bearer(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/assets?page=9223372036854775807&limit=100", nil, bearer(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid page"}`, rec.Body.String())
}

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/assets?page=3&per_page=500", nil)
	page, limit, offset, err := parsePagination(req)
	require.NoError(t, err)
	assert.Equal(t, 3, page)
	assert.Equal(t, maxLimit, limit)
	assert.Equal(t, 2*maxLimit, offset)

	req = httptest.NewRequest(http.MethodGet, "/assets", nil)
	page, limit, offset, err = parsePagination(req)
	require.NoError(t, err)
	assert.Equal(t, defaultPage, page)
	assert.Equal(t, defaultLimit, limit)
	assert.Zero(t, offset)

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/assets?page=%d&limit=%d", maxPage, maxLimit), nil)
	_, _, offset, err = parsePagination(req)
	require.NoError(t, err)
	assert.Positive(t, offset)
	assert.LessOrEqual(t, offset, math.MaxInt32)

	for _, raw := range []string{fmt.Sprint(maxPage + 1), "9223372036854775807", "-1"} {
		req = httptest.NewRequest(http.MethodGet, "/assets?page="+raw, nil)
		_, _, _, err = parsePagination(req)
		assert.Error(t, err, "page %s", raw)
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(services.ErrConflict))
	assert.Equal(t, http.StatusNotFound, statusFor(&services.Error{Kind: services.ErrNotFound}))
	assert.Equal(t, http.StatusUnauthorized, statusFor(services.ErrInvalidCredentials))
	assert.Equal(t, http.StatusInternalServerError, statusFor(services.ErrDispatchFailed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.EOF))
}
