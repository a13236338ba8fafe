package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Claims returns the claims of the JWT validated for this request.
func Claims(c *fiber.Ctx) jwt.MapClaims {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok || token == nil {
		return nil
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	return claims
}

// UserID returns the authenticated principal, or "" for anonymous requests.
func UserID(c *fiber.Ctx) string {
	id, _ := Claims(c)["id"].(string)
	return id
}
