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
	errWrongKey      = errors.New("invalid API key")
)

// requestKey returns the key a client presented. Browsers' EventSource
// cannot set headers, so /events also accepts ?api_key=.
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
	if r.URL.Path == "/events" {
		if key := r.URL.Query().Get("api_key"); key != "" {
			return key, nil
		}
	}
	return "", errNoCredentials
}

// checkKey compares in constant time; an unset configured key rejects all.
func checkKey(presented, configured string) error {
	if configured == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
		return errWrongKey
	}
	return nil
}

// authMiddleware guards the /v1 and /events routes. With no api_key
// configured the daemon is expected to listen on loopback only.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key, err := requestKey(r)
		if err == nil {
			err = checkKey(key, s.config.APIKey)
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tapemaintd"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
