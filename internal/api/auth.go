package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errMissingAuth = errors.New("missing Authorization header")
	errBadScheme   = errors.New("invalid Authorization header format")
	errEmptyKey    = errors.New("missing API key")
)

// keyMatches compares in constant time. An empty configured key matches
// nothing, which locks the protected routes.
func keyMatches(provided, configured string) bool {
	if configured == "" || provided == "" || len(provided) != len(configured) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

// bearerToken extracts the key from an Authorization: Bearer <key> header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingAuth
	}
	scheme, key, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errBadScheme
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errEmptyKey
	}
	return key, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := bearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !keyMatches(key, s.config.APIKey) {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
