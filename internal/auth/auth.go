package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iurnickita/encargos/internal/auth/config"
	"github.com/iurnickita/encargos/internal/store"
	"github.com/iurnickita/encargos/internal/token"
)

type Auth interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	Middleware(h http.HandlerFunc) http.HandlerFunc
}

// Store - часть хранилища, нужная авторизации
type Store interface {
	AuthRegister(ctx context.Context, login string, passwordHash string) (string, error)
	AuthLogin(ctx context.Context, login string) (string, string, error)
}

const (
	HeaderUserCodeKey = "X-User-Code"
	cookieUserToken   = "encargosUserToken"
)

type auth struct {
	cfg    config.Config
	store  Store
	zaplog *zap.Logger
}

func NewAuth(cfg config.Config, store Store, zaplog *zap.Logger) Auth {
	return &auth{cfg: cfg, store: store, zaplog: zaplog}
}

type credentialsJSONRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func readCredentials(r *http.Request) (credentialsJSONRequest, error) {
	var cred credentialsJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		return cred, err
	}
	if cred.Login == "" || cred.Password == "" {
		return cred, errors.New("login and password are required")
	}
	return cred, nil
}

func (a *auth) Register(w http.ResponseWriter, r *http.Request) {
	cred, err := readCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cred.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	userCode, err := a.store.AuthRegister(r.Context(), cred.Login, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.setToken(w, userCode)
}

func (a *auth) Login(w http.ResponseWriter, r *http.Request) {
	cred, err := readCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userCode, hash, err := a.store.AuthLogin(r.Context(), cred.Login)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			http.Error(w, "wrong login or password", http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(cred.Password)) != nil {
		http.Error(w, "wrong login or password", http.StatusUnauthorized)
		return
	}

	a.setToken(w, userCode)
}

func (a *auth) setToken(w http.ResponseWriter, userCode string) {
	tokenString, err := token.BuildJWTString(userCode, a.cfg.SecretKey, a.cfg.TokenExp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieUserToken,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
	})
	w.Header().Set("Authorization", "Bearer "+tokenString)
	w.WriteHeader(http.StatusOK)
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// получение id пользователя
		userCode, err := a.getUserCode(r)
		if err != nil {
			a.zaplog.Debug("unauthorized request", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		r.Header.Set(HeaderUserCodeKey, userCode)

		h.ServeHTTP(w, r)
	}
}

func (a *auth) getUserCode(r *http.Request) (string, error) {
	// сначала заголовок, потом куки
	var tokenString string
	if bearer := r.Header.Get("Authorization"); len(bearer) > 7 && bearer[:7] == "Bearer " {
		tokenString = bearer[7:]
	} else {
		tokenCookie, err := r.Cookie(cookieUserToken)
		if err != nil {
			return "", err
		}
		tokenString = tokenCookie.Value
	}
	return token.GetUserCode(tokenString, a.cfg.SecretKey)
}
