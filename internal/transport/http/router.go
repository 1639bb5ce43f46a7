package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/kinkyharbor/harbor-api/internal/application/auth"
	"github.com/kinkyharbor/harbor-api/internal/application/user"
	"github.com/kinkyharbor/harbor-api/internal/config"
	"github.com/kinkyharbor/harbor-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/kinkyharbor/harbor-api/internal/infrastructure/jwt"
	"github.com/kinkyharbor/harbor-api/internal/pkg/mail"
	"github.com/kinkyharbor/harbor-api/internal/transport/http/handler"
	appmiddleware "github.com/kinkyharbor/harbor-api/internal/transport/http/middleware"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	UserRepo         *dynamo.UserRepo
	VerifTokenRepo   *dynamo.VerifTokenRepo
	RefreshTokenRepo *dynamo.RefreshTokenRepo
	JWTProvider      *jwtinfra.Provider
	Sender           auth.Sender
	Mail             *mail.Builder
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second, burst of 10, applied to credential-sensitive public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	authSvc := auth.NewService(auth.ServiceDeps{
		UserRepo:         deps.UserRepo,
		VerifTokenRepo:   deps.VerifTokenRepo,
		RefreshTokenRepo: deps.RefreshTokenRepo,
		TokenIssuer:      deps.JWTProvider,
		Sender:           deps.Sender,
		Mail:             deps.Mail,
	})
	userSvc := user.NewService(user.ServiceDeps{UserRepo: deps.UserRepo})

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(authSvc)
	userH := handler.NewUserHandler(userSvc)

	r.Route("/v1", func(r chi.Router) {
		// Public routes (no auth)
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/auth/login", authH.Login)
		r.Post("/auth/refresh", authH.Refresh)
		r.With(sensitiveRL.Limit).Post("/auth/register", authH.Register)
		r.Post("/auth/register/verify", authH.RegisterVerify)
		r.With(sensitiveRL.Limit).Post("/auth/request-password-reset", authH.RequestPasswordReset)
		r.Post("/auth/password-reset", authH.PasswordReset)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/users/me", userH.Me)
			r.Get("/users/{username}", userH.GetByUsername)
		})
	})

	return r
}
