package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veridexhq/veridex/internal/domain"
)

type fakeValidator struct {
	address string
}

func (f *fakeValidator) Validate(ctx context.Context, token string) (string, error) {
	if token != "good-token" {
		return "", domain.ErrUnauthorized
	}
	return f.address, nil
}

func TestRequireSession(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Address(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := RequireSession(&fakeValidator{address: "0xabc"})(next)

	t.Run("valid token passes address through", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
		r.Header.Set("Authorization", "Bearer good-token")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "0xabc", seen)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bad token rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
		r.Header.Set("Authorization", "Bearer stale")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("non-bearer scheme rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
		r.Header.Set("Authorization", "Basic Zm9v")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
