package auth

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/asascience/matos/internal/middleware"
)

// RegisterRoutes mounts the public auth pages on e and user administration
// on admin, a group already guarded by RequireAuth and RequireAdmin.
// Sign-in and sign-up POSTs are rate limited per IP.
func RegisterRoutes(e *echo.Echo, admin *echo.Group, h *Handler, service AuthService, rdb *redis.Client) {
	public := e.Group("", OptionalAuth(service))
	public.GET("/login", h.LoginForm)
	public.POST("/login", h.Login, middleware.RateLimit(rdb, "login", 10, time.Minute))
	public.GET("/register", h.RegisterForm)
	public.POST("/register", h.Register, middleware.RateLimit(rdb, "register", 5, time.Minute))
	public.POST("/logout", h.Logout)

	admin.GET("/users", h.Users)
	admin.PUT("/users/:uid/approve", h.Approve)
	admin.POST("/users/:uid/approve", h.Approve)
}
