package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func authRequest(apiKey string, decorate func(*http.Request)) *httptest.ResponseRecorder {
	handler := Auth(apiKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	rec := authRequest("", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthRejectsMissingToken(t *testing.T) {
	rec := authRequest("secret", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	rec := authRequest("secret", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer secret")
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthAcceptsAPIKeyHeader(t *testing.T) {
	rec := authRequest("secret", func(r *http.Request) {
		r.Header.Set("X-API-Key", "secret")
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthRejectsWrongToken(t *testing.T) {
	rec := authRequest("secret", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer nope")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
