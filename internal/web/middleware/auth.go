package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/fault"
	"github.com/conduit-lang/objgraph/internal/web/response"
)

// AccessTokenParam lets browser websocket clients pass a bearer token
const AccessTokenParam = "access_token"

// AuthConfig holds configuration for authentication middleware
type AuthConfig struct {
	// Tokens validates Bearer credentials. Nil disables bearer auth.
	Tokens *auth.TokenService
	// Directory checks Basic credentials. Nil disables basic auth.
	Directory *auth.Directory
	// Optional lets anonymous requests through without a principal
	Optional bool
	Logger   *zap.Logger
}

// Auth establishes the request principal from an Authorization header
func Auth(config AuthConfig) Middleware {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := authenticate(config, r)
			switch {
			case p != nil:
				next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
			case ok && config.Optional:
				next.ServeHTTP(w, r)
			default:
				logger.Debug("authentication failed",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("path", r.URL.Path))
				response.Error(w, r, fault.New(fault.Unauthorized, "Authentication required"))
			}
		})
	}
}

// authenticate returns the principal for the request. ok is false when
// credentials were supplied but rejected.
func authenticate(config AuthConfig, r *http.Request) (*auth.Principal, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if token := r.URL.Query().Get(AccessTokenParam); token != "" && config.Tokens != nil {
			p, err := config.Tokens.ValidateToken(token)
			return p, err == nil
		}
		return nil, true
	}

	scheme, credentials, found := strings.Cut(header, " ")
	if !found || credentials == "" {
		return nil, false
	}
	switch {
	case strings.EqualFold(scheme, "Bearer") && config.Tokens != nil:
		p, err := config.Tokens.ValidateToken(credentials)
		return p, err == nil
	case strings.EqualFold(scheme, "Basic") && config.Directory != nil:
		name, password, ok := r.BasicAuth()
		if !ok {
			return nil, false
		}
		return config.Directory.Authenticate(name, password)
	}
	return nil, false
}
