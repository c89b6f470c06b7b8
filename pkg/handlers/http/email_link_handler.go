package http

import (
	"github.com/ArchiveLabs/ArchiveGate/pkg/app/identity"
	"github.com/ArchiveLabs/ArchiveGate/pkg/handlers/http/request"
	"github.com/ArchiveLabs/ArchiveGate/pkg/server/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type emailLinkHandler struct {
	logger      *logrus.Logger
	emailSecret []byte
}

func NewEmailLinkHandler(logger *logrus.Logger, emailSecret string) Handler {
	return &emailLinkHandler{
		logger:      logger,
		emailSecret: []byte(emailSecret),
	}
}

// Handle queues a sign-in link for the address. The answer is the same
// whether or not an account exists.
func (h *emailLinkHandler) Handle(c *fiber.Ctx) error {
	req, ok := middleware.Payload[request.EmailLinkRequest](c)
	if !ok {
		req = &request.EmailLinkRequest{}
		if err := c.BodyParser(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidJsonPayload.Error()})
		}
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	h.logger.WithField("email_digest", identity.HashEmail(h.emailSecret, req.Email)).Info("sign-in link requested")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "if the address belongs to an account, a sign-in link is on its way",
	})
}
