package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cards/internal/auth"
)

const userIDLocal = "user_id"

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// JWTAuth rejects requests without a valid bearer token and exposes the
// token subject to handlers.
func JWTAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		claims, err := verifier.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return auth.ErrInvalidToken
		}
		c.Locals(userIDLocal, claims.Subject)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}

// UserID returns the authenticated subject, or "" on public routes.
func UserID(c *fiber.Ctx) string {
	sub, _ := c.Locals(userIDLocal).(string)
	return sub
}
