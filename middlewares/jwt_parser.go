package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/123bigmirros/electronic-grave/models"
	"github.com/123bigmirros/electronic-grave/utils"
)

// CallerLocal is the fiber local holding the resolved caller id.
const CallerLocal = "callerID"

// UserIDHeader is the development header naming the caller directly.
const UserIDHeader = "userId"

type IdentityConfig struct {
	Keys *utils.PublicKeyStore
	// TrustUserIDHeader accepts the userId header when no token is sent.
	// Never enable it on a public deployment.
	TrustUserIDHeader bool
}

// JWTParser resolves the caller of every request. Requests without an
// Authorization header proceed as the anonymous user; a header that does not
// verify is rejected.
func JWTParser(cfg IdentityConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := models.AnonymousUserID

		authHeader := c.Get(fiber.HeaderAuthorization)
		switch {
		case authHeader != "":
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Malformed Authorization header",
				})
			}
			claims, err := utils.ParseJWT(cfg.Keys, tokenString)
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid JWT",
				})
			}
			id, err := claims.UserID()
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid JWT subject",
				})
			}
			caller = id
		case cfg.TrustUserIDHeader:
			if id, err := strconv.ParseInt(c.Get(UserIDHeader), 10, 64); err == nil && id > 0 {
				caller = id
			}
		}

		c.Locals(CallerLocal, caller)
		return c.Next()
	}
}

// CallerID returns the id resolved by JWTParser, or the anonymous id.
func CallerID(c *fiber.Ctx) int64 {
	if id, ok := c.Locals(CallerLocal).(int64); ok {
		return id
	}
	return models.AnonymousUserID
}
