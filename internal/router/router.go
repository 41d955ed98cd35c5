package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/oauth-token-service/internal/handler"
)

// RegisterRoutes wires the non-OAuth surface of the server.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterOAuth mounts the authorization and token endpoints under
// /oauth.  The rate limiter guards the POST endpoints, which accept
// client credentials and are the brute-force surface.
func RegisterOAuth(e *echo.Echo, h *handler.OAuthHandler, rl echo.MiddlewareFunc) {
	g := e.Group("/oauth")

	g.GET("/authorize", h.HandleAuthorize)
	g.POST("/token", h.HandleToken, rl)
	g.POST("/introspect", h.HandleIntrospect, rl)
	g.POST("/revoke", h.HandleRevoke, rl)
}
