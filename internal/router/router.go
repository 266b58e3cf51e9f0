package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/StefanoGaspardone/quickshow/internal/config"
	"github.com/StefanoGaspardone/quickshow/internal/handler"
	"github.com/StefanoGaspardone/quickshow/internal/middleware"
	"github.com/StefanoGaspardone/quickshow/internal/model"
)

// Handlers groups everything the routes dispatch to.
type Handlers struct {
	Auth     *handler.AuthHandler
	Shows    *handler.ShowHandler
	Bookings *handler.BookingHandler
	Webhook  *handler.WebhookHandler
	Admin    *handler.AdminHandler
	Health   echo.HandlerFunc
}

// Options carries the settings of the Redis-backed middleware. A nil
// Redis client turns both into pass-throughs.
type Options struct {
	JWTSecret string
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
	Redis     *redis.Client
}

// Register wires every route on e.
func Register(e *echo.Echo, h Handlers, opts Options) {
	e.GET("/healthz", h.Health)

	// The provider signs the raw body, so this route has no auth and no
	// body-altering middleware.
	e.POST("/v1/stripe/webhook", h.Webhook.Stripe)

	registerAuth(e, h.Auth, opts.JWTSecret)
	registerPublic(e, h, opts)
	registerCustomer(e, h.Bookings, opts)
	registerAdmin(e, h, opts)
}

func registerAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// registerPublic exposes the catalog to guests. Listings are cached;
// seat availability is always read live.
func registerPublic(e *echo.Echo, h Handlers, opts Options) {
	cache := middleware.NewRedisCache(opts.Cache, opts.Redis)
	e.GET("/v1/shows", h.Shows.ListUpcoming, cache)
	e.GET("/v1/shows/:id", h.Shows.Get, cache)
	e.GET("/v1/bookings/seats/:showId", h.Bookings.OccupiedSeats)
}

func registerCustomer(e *echo.Echo, b *handler.BookingHandler, opts Options) {
	g := e.Group("/v1",
		middleware.JWTAuth(opts.JWTSecret),
		middleware.RequireRole(model.RoleCustomer, model.RoleAdmin),
	)
	g.POST("/bookings", b.Create, middleware.NewTokenBucket(opts.RateLimit, opts.Redis))
	g.POST("/bookings/:id/checkout", b.Pay)
	g.GET("/user/bookings", b.Mine)
}

func registerAdmin(e *echo.Echo, h Handlers, opts Options) {
	g := e.Group("/v1/admin",
		middleware.JWTAuth(opts.JWTSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.GET("/is-admin", h.Admin.IsAdmin)
	g.GET("/dashboard", h.Admin.Dashboard)
	g.POST("/shows", h.Shows.Create, middleware.InvalidateCache(opts.Cache, opts.Redis))
	g.GET("/shows", h.Shows.ListAll)
	g.GET("/bookings", h.Bookings.All)
}
