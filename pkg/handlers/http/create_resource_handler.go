package http

import (
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/server/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type validatable[T any] interface {
	*T
	Validate() error
}

type CreatedResponse struct {
	ID        string    `json:"id"`
	Resource  string    `json:"resource"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// createResourceHandler accepts a create request for an archive resource.
// Persistence belongs to the archive service behind the gateway; the
// handler validates and acknowledges.
type createResourceHandler[T any, PT validatable[T]] struct {
	logger   *logrus.Logger
	resource string
}

func NewCreateResourceHandler[T any, PT validatable[T]](logger *logrus.Logger, resource string) Handler {
	return &createResourceHandler[T, PT]{
		logger:   logger,
		resource: resource,
	}
}

func (h *createResourceHandler[T, PT]) Handle(c *fiber.Ctx) error {
	payload, ok := middleware.Payload[T](c)
	if !ok {
		payload = new(T)
		if err := c.BodyParser(payload); err != nil {
			h.logger.WithError(err).Debug("failed to bind request")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidJsonPayload.Error()})
		}
	}
	if err := PT(payload).Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	id, err := uuid.NewV7()
	if err != nil {
		h.logger.WithError(err).Error("failed to generate UUID")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to generate UUID"})
	}

	resp := CreatedResponse{
		ID:        id.String(),
		Resource:  h.resource,
		CreatedAt: time.Now().UTC(),
	}
	if principal := middleware.PrincipalFrom(c); principal.Authenticated() {
		resp.Owner = principal.UserID
	}

	h.logger.WithFields(logrus.Fields{
		"resource": h.resource,
		"id":       resp.ID,
		"owner":    resp.Owner,
	}).Info("resource accepted")
	return c.Status(fiber.StatusCreated).JSON(resp)
}
