package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/smallbiznis/bazar-auth/internal/config"
	"github.com/smallbiznis/bazar-auth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/bazar-auth/internal/http/middleware"
	"github.com/smallbiznis/bazar-auth/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/webapp/login", authHandler.WebAppLogin)

		phoneGroup := authGroup.Group("/phone")
		{
			phoneGroup.POST("/request", authHandler.PhoneCodeRequest)
			phoneGroup.POST("/verify", authHandler.PhoneCodeVerify)
			phoneGroup.POST("/link", authMiddleware.RequireSession, authHandler.PhoneLink)
		}

		authGroup.GET("/me", authMiddleware.RequireSession, authHandler.Me)
	}

	r.GET("/healthz", authHandler.Healthz)

	return r
}
