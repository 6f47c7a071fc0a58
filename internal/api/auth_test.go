package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMatches(t *testing.T) {
	t.Parallel()

	assert.True(t, keyMatches("k1", "k1"))
	assert.False(t, keyMatches("k1", "k2"))
	assert.False(t, keyMatches("", "k1"))
	assert.False(t, keyMatches("k1", ""))
	assert.False(t, keyMatches("", ""))
}

func TestRequestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		want    string
		wantErr error
	}{
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer abc"}, want: "abc"},
		{name: "lowercase scheme", headers: map[string]string{"Authorization": "bearer abc"}, want: "abc"},
		{name: "x-api-key", headers: map[string]string{"X-API-Key": " abc "}, want: "abc"},
		{name: "authorization wins", headers: map[string]string{"Authorization": "Bearer a", "X-API-Key": "b"}, want: "a"},
		{name: "none", wantErr: errNoCredentials},
		{name: "basic", headers: map[string]string{"Authorization": "Basic dXNlcg=="}, wantErr: errBadScheme},
		{name: "empty bearer", headers: map[string]string{"Authorization": "Bearer   "}, wantErr: errNoCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			got, err := requestKey(req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	s := &Server{config: Config{APIKey: "secret"}}
	h := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for key, want := range map[string]int{
		"secret": http.StatusNoContent,
		"wrong":  http.StatusUnauthorized,
		"":       http.StatusUnauthorized,
	} {
		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, want, rec.Code, "key %q", key)
		if want == http.StatusUnauthorized {
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
		}
	}
}
