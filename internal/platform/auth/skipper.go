package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication and idle-session tracking.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether the route path is served without a caller.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
