package http

import (
	"github.com/ArchiveLabs/ArchiveGate/pkg/handlers/http/request"
	"github.com/ArchiveLabs/ArchiveGate/pkg/server/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type sendFriendRequestHandler struct {
	logger *logrus.Logger
}

func NewSendFriendRequestHandler(logger *logrus.Logger) Handler {
	return &sendFriendRequestHandler{logger: logger}
}

func (h *sendFriendRequestHandler) Handle(c *fiber.Ctx) error {
	principal := middleware.PrincipalFrom(c)
	if !principal.Authenticated() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication required"})
	}
	target := c.Params("id")
	if target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user id is required"})
	}
	if target == principal.UserID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cannot befriend yourself"})
	}

	req, ok := middleware.Payload[request.FriendRequest](c)
	if !ok {
		req = &request.FriendRequest{}
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	h.logger.WithFields(logrus.Fields{
		"from": principal.UserID,
		"to":   target,
	}).Info("friend request sent")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"from":   principal.UserID,
		"to":     target,
		"status": "pending",
	})
}
