package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errNoCredentials = errors.New("missing API key")
	errBadScheme     = errors.New("authorization scheme must be Bearer")
)

// keyMatches compares in constant time. An unset server key admits no one.
func keyMatches(provided, configured string) bool {
	if configured == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

// requestKey reads the caller's key from "Authorization: Bearer <key>" or,
// for tools that cannot set that header, from X-API-Key.
func requestKey(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, key, _ := strings.Cut(header, " ")
		if !strings.EqualFold(scheme, "Bearer") {
			return "", errBadScheme
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
		return "", errNoCredentials
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, nil
	}
	return "", errNoCredentials
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := requestKey(r)
		if err == nil && !keyMatches(key, s.config.APIKey) {
			err = errors.New("invalid API key")
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="adworker"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
