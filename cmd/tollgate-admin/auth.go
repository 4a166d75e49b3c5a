package main

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v3"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/httputil"
)

// requireAPIKey returns Fiber middleware that validates a static bearer token from the Authorization header
// against apiKey. There is no per-operator identity here — unlike the teacher's JWT-based internal/auth, this
// surface has exactly one caller (the operator's own tooling), so a single shared secret is the whole credential.
func requireAPIKey(apiKey string) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.KindForbidden, "missing or malformed authorization header")
		}
		token := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.KindForbidden, "invalid API key")
		}
		return c.Next()
	}
}
