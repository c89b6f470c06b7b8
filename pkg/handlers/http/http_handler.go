package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

var ErrInvalidJsonPayload = errors.New("invalid JSON payload")

type Handler interface {
	Handle(ctx *fiber.Ctx) error
}

type HandlerTransport struct {
	GetVersionHandler Handler

	// Auth
	EmailLinkHandler Handler

	// Archive
	CreatePostHandler       Handler
	CreateDiaryEntryHandler Handler
	CreateTicketHandler     Handler
	SendFriendRequest       Handler
	UploadFileHandler       Handler
}
