package middleware

import (
	"context"
	"strings"

	"github.com/ArchiveLabs/ArchiveGate/pkg/common"
	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/iam"
	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/auth/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const bearerPrefix = "Bearer "

type authMiddleware struct {
	logger     *logrus.Logger
	jwtManager jwt.Manager
}

// NewAuthMiddleware attaches the caller's principal when a bearer token is
// present. Requests without a token continue anonymously; a bad token is
// rejected.
func NewAuthMiddleware(logger *logrus.Logger, jwtManager jwt.Manager) Middleware {
	return &authMiddleware{
		logger:     logger,
		jwtManager: jwtManager,
	}
}

func (m *authMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		header := ctx.Get(fiber.HeaderAuthorization)
		if header == "" {
			return ctx.Next()
		}
		if !strings.HasPrefix(header, bearerPrefix) {
			m.logger.Debug("unsupported authorization scheme")
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}

		principal, err := m.jwtManager.Principal(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			m.logger.WithError(err).Debug("invalid bearer token")
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}

		ctx.Locals(common.PrincipalContextKey, principal)
		c := context.WithValue(ctx.UserContext(), common.PrincipalContextKey, principal)
		ctx.SetUserContext(c)
		return ctx.Next()
	}
}

// PrincipalFrom returns the authenticated caller, or nil.
func PrincipalFrom(ctx *fiber.Ctx) *iam.Principal {
	principal, ok := ctx.Locals(common.PrincipalContextKey).(*iam.Principal)
	if !ok {
		return nil
	}
	return principal
}

// RequireUser rejects anonymous callers. Routes whose specs key on the user
// place it ahead of the limiter.
func RequireUser() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if !PrincipalFrom(ctx).Authenticated() {
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication required"})
		}
		return ctx.Next()
	}
}
