// Package auth restricts the API to callers holding a known API key.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/a-h/labreport/models"
	"github.com/a-h/respond"
)

// New wraps next so that every request must carry an API key from
// apiKeyToUserName, except requests for one of the public paths.
func New(apiKeyToUserName map[string]string, next http.Handler, publicPaths ...string) *Auth {
	return &Auth{
		Next:             next,
		APIKeyToUserName: apiKeyToUserName,
		PublicPaths:      publicPaths,
	}
}

type Auth struct {
	Next             http.Handler
	APIKeyToUserName map[string]string
	PublicPaths      []string
}

// LoadFromFile reads a JSON object mapping API keys to user names.
func LoadFromFile(name string) (apiKeyToUserName map[string]string, err error) {
	f, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m := make(map[string]string)
	if err = json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode API keys: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("no API keys found in %s", name)
	}
	return m, nil
}

type userContextKey int

const userKey userContextKey = 0

func GetUser(r *http.Request) (user string, ok bool) {
	user, ok = r.Context().Value(userKey).(string)
	return
}

func (a *Auth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if slices.Contains(a.PublicPaths, r.URL.Path) {
		a.Next.ServeHTTP(w, r)
		return
	}
	user, ok := a.APIKeyToUserName[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	if !ok {
		respond.WithJSON(w, models.ErrorResponse{Error: "unauthorized"}, http.StatusUnauthorized)
		return
	}
	r = r.WithContext(context.WithValue(r.Context(), userKey, user))
	a.Next.ServeHTTP(w, r)
}
