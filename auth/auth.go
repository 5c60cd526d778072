package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/a-h/respond"
	"github.com/a-h/sitechat/models"
)

// New protects the admin endpoints (document import and context search) with
// API keys. The chat and contact endpoints are public and don't use it.
func New(apiKeyToUserName map[string]string, next http.Handler) *Auth {
	keys := make([]apiKey, 0, len(apiKeyToUserName))
	for key, user := range apiKeyToUserName {
		keys = append(keys, apiKey{hash: sha256.Sum256([]byte(key)), user: user})
	}
	return &Auth{
		Next: next,
		keys: keys,
	}
}

type apiKey struct {
	hash [sha256.Size]byte
	user string
}

type Auth struct {
	Next http.Handler
	keys []apiKey
}

var ErrNoKeys = errors.New("no API keys configured")

// LoadFromFile reads a JSON object of API key to user name.
func LoadFromFile(name string) (apiKeyToUserName map[string]string, err error) {
	f, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m := make(map[string]string)
	if err = json.NewDecoder(f).Decode(&m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, ErrNoKeys
	}
	for key, user := range m {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("empty API key for user %q", user)
		}
		if user == "" {
			return nil, errors.New("API key has no user name")
		}
	}
	return m, nil
}

type userContextKey int

const userKey userContextKey = 0

func GetUser(r *http.Request) (user string, ok bool) {
	user, ok = r.Context().Value(userKey).(string)
	return
}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func (a *Auth) user(key string) (user string, ok bool) {
	if key == "" {
		return "", false
	}
	hash := sha256.Sum256([]byte(key))
	// Check every key so the time taken doesn't reveal which one matched.
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(hash[:], k.hash[:]) == 1 {
			user, ok = k.user, true
		}
	}
	return user, ok
}

func (a *Auth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(key) > len("Bearer ") && strings.EqualFold(key[:len("Bearer ")], "Bearer ") {
		key = strings.TrimSpace(key[len("Bearer "):])
	}
	user, ok := a.user(key)
	if !ok {
		respond.WithJSON(w, models.ErrorResponse{Error: "unauthorized"}, http.StatusUnauthorized)
		return
	}
	a.Next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
}
