package queuexapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware validates bearer tokens on the admin surface.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates a middleware checking HS256 tokens signed with
// the given secret. An empty secret disables authentication; that is only
// acceptable for local development.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// Authenticate validates the Authorization header.
func (am *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(am.secret) == 0 {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": apiErrors.New(ErrUnauthorized).Error(),
			})
		}

		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, apiErrors.New(ErrUnauthorized)
			}
			return am.secret, nil
		})
		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": apiErrors.New(ErrUnauthorized).Error(),
			})
		}

		return c.Next()
	}
}
