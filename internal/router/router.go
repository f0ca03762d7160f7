package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/esign-workflow/internal/config"
	"github.com/iliyamo/esign-workflow/internal/handler"
	"github.com/iliyamo/esign-workflow/internal/middleware"
)

// Deps are the pieces RegisterAll wires together.  Redis may be nil, in
// which case the rate limiter and response cache are disabled.
type Deps struct {
	JWTSecret string
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Health    handler.Pinger
	Author    *handler.AuthorHandler
	Signing   *handler.SigningHandler
	Logger    *zap.Logger
}

// RegisterAll installs the global middleware and every route group.
func RegisterAll(e *echo.Echo, d Deps) {
	e.Use(middleware.RequestLogger(d.Logger), middleware.Recover(d.Logger))
	RegisterRoutes(e, d)
	RegisterAuthor(e, d.Author, d.JWTSecret)
	RegisterSigning(e, d.Signing, d)
}

// RegisterRoutes registers routes that need no token: the health check and
// the cached field type catalog.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.Health))
	e.GET("/v1/field-types", handler.FieldTypes, middleware.NewRedisCache(d.Cache, d.Redis))
}
