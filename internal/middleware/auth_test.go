package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/util"
)

type mockUserRepo struct {
	findByTokenHashFunc func(ctx context.Context, tokenHash string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	if m.findByTokenHashFunc != nil {
		return m.findByTokenHashFunc(ctx, tokenHash)
	}
	return nil, nil
}

func (m *mockUserRepo) UpdateLastSeen(ctx context.Context, id string) error {
	return nil
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("rejects missing token", func(t *testing.T) {
		m := NewAuthMiddleware(&mockUserRepo{})
		next, called := okHandler()

		req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
		rec := httptest.NewRecorder()
		m.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, *called)
	})

	t.Run("rejects unknown token", func(t *testing.T) {
		m := NewAuthMiddleware(&mockUserRepo{
			findByTokenHashFunc: func(ctx context.Context, tokenHash string) (*model.User, error) {
				return nil, nil
			},
		})
		next, called := okHandler()

		req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
		req.Header.Set("Authorization", "Bearer not-a-real-token")
		rec := httptest.NewRecorder()
		m.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, *called)
	})

	t.Run("returns 500 on repository error", func(t *testing.T) {
		m := NewAuthMiddleware(&mockUserRepo{
			findByTokenHashFunc: func(ctx context.Context, tokenHash string) (*model.User, error) {
				return nil, errors.New("connection refused")
			},
		})
		next, called := okHandler()

		req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
		req.Header.Set("Authorization", "Bearer some-token")
		rec := httptest.NewRecorder()
		m.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.False(t, *called)
	})

	t.Run("passes user through on valid bearer token", func(t *testing.T) {
		token, err := util.GenerateToken()
		require.NoError(t, err)

		user := &model.User{ID: "user-1", APITokenHash: util.HashToken(token)}
		m := NewAuthMiddleware(&mockUserRepo{
			findByTokenHashFunc: func(ctx context.Context, tokenHash string) (*model.User, error) {
				if tokenHash == user.APITokenHash {
					return user, nil
				}
				return nil, nil
			},
		})

		var seen *model.User
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetUser(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		m.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "user-1", seen.ID)
	})

	t.Run("accepts token from query for event streams", func(t *testing.T) {
		token, err := util.GenerateToken()
		require.NoError(t, err)

		user := &model.User{ID: "user-1", APITokenHash: util.HashToken(token)}
		m := NewAuthMiddleware(&mockUserRepo{
			findByTokenHashFunc: func(ctx context.Context, tokenHash string) (*model.User, error) {
				return user, nil
			},
		})
		next, called := okHandler()

		req := httptest.NewRequest(http.MethodGet, "/v1/events?token="+token, nil)
		rec := httptest.NewRecorder()
		m.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, *called)
	})
}
