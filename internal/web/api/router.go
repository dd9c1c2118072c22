// Package api exposes the object graph service over HTTP.
package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/fault"
	"github.com/conduit-lang/objgraph/internal/service"
	"github.com/conduit-lang/objgraph/internal/web/middleware"
)

// DefaultMaxBodyBytes bounds request bodies
const DefaultMaxBodyBytes = 8 << 20

// Config configures the router
type Config struct {
	// Prefix mounts every route below it, e.g. "/api"
	Prefix         string
	AllowedOrigins []string
	MaxBodyBytes   int64

	Tokens    *auth.TokenService
	Directory *auth.Directory

	// Notifications serves GET /notifications when set
	Notifications http.Handler
}

// API holds the handlers
type API struct {
	svc        *service.Service
	translator *fault.Translator
	tokens     *auth.TokenService
	maxBody    int64
	logger     *zap.Logger
}

// NewRouter builds the HTTP handler for svc
func NewRouter(svc *service.Service, translator *fault.Translator, cfg Config, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if translator == nil {
		translator = fault.NewTranslator(logger)
	}
	a := &API{
		svc:        svc,
		translator: translator,
		tokens:     cfg.Tokens,
		maxBody:    cfg.MaxBodyBytes,
		logger:     logger,
	}
	if a.maxBody <= 0 {
		a.maxBody = DefaultMaxBodyBytes
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}).Handler)

	routes := func(r chi.Router) {
		// Token issuance only accepts a password
		r.With(middleware.Auth(middleware.AuthConfig{Directory: cfg.Directory, Logger: logger})).
			Post("/auth/token", a.issueToken)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(middleware.AuthConfig{
				Tokens:    cfg.Tokens,
				Directory: cfg.Directory,
				Logger:    logger,
			}))

			r.Get("/definitions", a.definitions)
			r.Get("/definition/{type}", a.definition)
			r.Post("/commit", a.commit)
			if cfg.Notifications != nil {
				r.Handle("/notifications", cfg.Notifications)
			}
			r.Get("/{type}/all", a.getAll)
			r.Get("/{type}/{ids}", a.getByIDs)
			r.Get("/{type}", a.getByExample)
			r.Post("/{type}", a.postByIDs)
			r.Put("/{type}", a.create)
		})
	}

	prefix := "/" + strings.Trim(cfg.Prefix, "/")
	if prefix == "/" {
		routes(r)
	} else {
		r.Route(prefix, routes)
	}
	return r
}
