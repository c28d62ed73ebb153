package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/putto11262002/chatsync/core"
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore verifies signin credentials against the configured user
// table.
type CredentialStore struct {
	users map[string]UserConfig
}

func NewCredentialStore(users []UserConfig) *CredentialStore {
	m := make(map[string]UserConfig, len(users))
	for _, u := range users {
		m[u.Username] = u
	}
	return &CredentialStore{users: m}
}

// Verify returns the user's display name when the password matches.
func (s *CredentialStore) Verify(username, password string) (string, error) {
	u, ok := s.users[username]
	if !ok {
		return "", core.ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", core.ErrBadCredentials
	}
	displayName := u.DisplayName
	if displayName == "" {
		displayName = u.Username
	}
	return displayName, nil
}

type SigninRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type SigninResponse struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthHandler issues handshake tokens for valid credentials.
type AuthHandler struct {
	store      *CredentialStore
	secret     []byte
	expiration time.Duration
}

func NewAuthHandler(store *CredentialStore, secret []byte, expiration time.Duration) *AuthHandler {
	return &AuthHandler{store: store, secret: secret, expiration: expiration}
}

func (h *AuthHandler) SigninHandler(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	displayName, err := h.store.Verify(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, core.ErrBadCredentials) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	token, exp, err := core.NewToken(req.Username, displayName, h.expiration, h.secret)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SigninResponse{
		Username:    req.Username,
		DisplayName: displayName,
		Token:       token,
		ExpiresAt:   exp,
	})
}

// TokenAuthenticator authenticates websocket upgrade requests with a
// handshake token from the Authorization header or, for clients that cannot
// set headers, a token query parameter.
type TokenAuthenticator struct {
	secret []byte
}

func NewTokenAuthenticator(secret []byte) *TokenAuthenticator {
	return &TokenAuthenticator{secret: secret}
}

func (a *TokenAuthenticator) Authenticate(w http.ResponseWriter, r *http.Request) (*core.AuthClaims, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return nil, false
	}

	claims, err := core.VerifyToken(token, a.secret)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}
