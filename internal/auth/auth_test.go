package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/encargos/internal/auth/config"
	"github.com/iurnickita/encargos/internal/store"
)

type memStore struct {
	users map[string][2]string // login -> код, хеш
}

func (s *memStore) AuthRegister(_ context.Context, login string, passwordHash string) (string, error) {
	if _, ok := s.users[login]; ok {
		return "", store.ErrAlreadyExists
	}
	code := login + "-code"
	s.users[login] = [2]string{code, passwordHash}
	return code, nil
}

func (s *memStore) AuthLogin(_ context.Context, login string) (string, string, error) {
	u, ok := s.users[login]
	if !ok {
		return "", "", store.ErrNoRows
	}
	return u[0], u[1], nil
}

func newTestAuth() Auth {
	cfg := config.Config{SecretKey: "test", TokenExp: time.Hour}
	return NewAuth(cfg, &memStore{users: map[string][2]string{}}, zap.NewNop())
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/user/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestRegisterLogin(t *testing.T) {
	a := newTestAuth()
	cred := `{"login":"admin","password":"secreto"}`

	rec := post(a.Register, cred)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Authorization"), "Bearer "))
	require.Len(t, rec.Result().Cookies(), 1)

	rec = post(a.Register, cred)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post(a.Login, cred)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post(a.Login, `{"login":"admin","password":"otro"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(a.Login, `{"login":"nadie","password":"otro"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(a.Login, `{"login":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth()
	rec := post(a.Register, `{"login":"admin","password":"secreto"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	bearer := rec.Header().Get("Authorization")
	cookie := rec.Result().Cookies()[0]

	var userCode string
	h := a.Middleware(func(w http.ResponseWriter, r *http.Request) {
		userCode = r.Header.Get(HeaderUserCodeKey)
	})

	tests := []struct {
		name     string
		prepare  func(r *http.Request)
		wantCode int
		wantUser string
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", bearer) }, http.StatusOK, "admin-code"},
		{"cookie", func(r *http.Request) { r.AddCookie(cookie) }, http.StatusOK, "admin-code"},
		{"no token", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userCode = ""
			req := httptest.NewRequest(http.MethodGet, "/api/orders/12345674", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			h(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantUser, userCode)
		})
	}
}
