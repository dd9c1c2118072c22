package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/objgraph/internal/auth"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := NewChain(mark("first")).Use(mark("second")).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestRequestID(t *testing.T) {
	var fromContext string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext = GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, fromContext)
		assert.Equal(t, fromContext, rec.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		h.ServeHTTP(rec, req)

		assert.Equal(t, "abc-123", fromContext)
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := NewChain(RequestID(), Logging(zap.New(core))).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/commit", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "POST", fields["method"])
	assert.Equal(t, "/commit", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.EqualValues(t, 5, fields["bytes"])
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret detail")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret detail")
	assert.Contains(t, rec.Body.String(), "Unclassified")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "secret detail", logs.All()[0].ContextMap()["panic"])
}

func TestAuth(t *testing.T) {
	tokens := auth.NewTokenService("test-secret", time.Hour)
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	dir := auth.NewDirectory([]auth.User{{Name: "alice", PasswordHash: hash, Roles: []string{"admin"}}})

	token, err := tokens.GenerateToken(auth.Principal{Name: "bob", Roles: []string{"lurker"}})
	require.NoError(t, err)

	var seen *auth.Principal
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.PrincipalFrom(r.Context())
	})

	tests := []struct {
		name     string
		optional bool
		setup    func(r *http.Request)
		status   int
		want     string
	}{
		{"bearer", false, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, "bob"},
		{"basic", false, func(r *http.Request) { r.SetBasicAuth("alice", "s3cret") }, http.StatusOK, "alice"},
		{"query token", false, func(r *http.Request) { r.URL.RawQuery = AccessTokenParam + "=" + token }, http.StatusOK, "bob"},
		{"wrong password", false, func(r *http.Request) { r.SetBasicAuth("alice", "nope") }, http.StatusUnauthorized, ""},
		{"bad token", false, func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") }, http.StatusUnauthorized, ""},
		{"unknown scheme", false, func(r *http.Request) { r.Header.Set("Authorization", "Digest abc") }, http.StatusUnauthorized, ""},
		{"anonymous required", false, func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"anonymous optional", true, func(r *http.Request) {}, http.StatusOK, ""},
		{"bad credentials optional", true, func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") }, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			h := Auth(AuthConfig{Tokens: tokens, Directory: dir, Optional: tt.optional})(handler)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.want, auth.NameOf(seen))
		})
	}
}
