package router

import (
	"net/http"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	handlers "github.com/ArchiveLabs/ArchiveGate/pkg/handlers/http"
	"github.com/ArchiveLabs/ArchiveGate/pkg/handlers/http/request"
	"github.com/ArchiveLabs/ArchiveGate/pkg/server/middleware"
	"github.com/gofiber/fiber/v2"
)

const (
	HealthPath  = "/health"
	VersionPath = "/version"

	EmailLinkPath     = "/api/auth/email-link"
	PostsPath         = "/api/posts"
	DiariesPath       = "/api/diaries"
	TicketsPath       = "/api/tickets"
	FriendRequestPath = "/api/friends/:id/requests"
	FilesPath         = "/api/files"
)

type apiRouter struct {
	middlewareTransport *middleware.Transport
	handlerTransport    handlers.HandlerTransport
	protector           *Protector
}

func NewAPIRouter(
	middlewareTransport *middleware.Transport,
	handlerTransport handlers.HandlerTransport,
	protector *Protector,
) ServerRouter {
	return &apiRouter{
		middlewareTransport: middlewareTransport,
		handlerTransport:    handlerTransport,
		protector:           protector,
	}
}

func (r *apiRouter) BuildRoutes(router *fiber.App) error {
	router.Get(HealthPath, func(ctx *fiber.Ctx) error {
		return ctx.Status(http.StatusOK).JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	if r.handlerTransport.GetVersionHandler != nil {
		router.Get(VersionPath, r.handlerTransport.GetVersionHandler.Handle)
	}

	if r.middlewareTransport.Len() > 0 {
		router.Use(r.middlewareTransport.Handlers()...)
	}

	for _, route := range r.routes() {
		if err := r.protector.Protect(router, route); err != nil {
			return err
		}
	}
	return nil
}

func (r *apiRouter) routes() []Route {
	h := r.handlerTransport
	return []Route{
		{
			// Unauthenticated sign-in: the address is the scarce resource.
			Method: fiber.MethodPost,
			Path:   EmailLinkPath,
			Specs: []ratelimit.Spec{
				{Capacity: 5, RefillTokens: 5, RefillPeriodSeconds: 300, Identity: ratelimit.IdentityEmail, FailClosed: true},
				{Capacity: 20, RefillTokens: 20, RefillPeriodSeconds: 60, Identity: ratelimit.IdentityIP},
			},
			Before:  []fiber.Handler{middleware.WithPayload[request.EmailLinkRequest]()},
			Handler: h.EmailLinkHandler.Handle,
		},
		{
			Method: fiber.MethodPost,
			Path:   PostsPath,
			Specs: []ratelimit.Spec{
				{Capacity: 10, RefillTokens: 10, RefillPeriodSeconds: 60, Identity: ratelimit.IdentityUser},
				{Capacity: 100, RefillTokens: 100, RefillPeriodSeconds: 3600, Identity: ratelimit.IdentityIP, FailClosed: true},
			},
			Before: []fiber.Handler{
				middleware.RequireUser(),
				middleware.WithPayload[request.CreatePostRequest](),
			},
			Handler: h.CreatePostHandler.Handle,
		},
		{
			Method: fiber.MethodPost,
			Path:   DiariesPath,
			Specs: []ratelimit.Spec{
				{Capacity: 30, RefillTokens: 30, RefillPeriodSeconds: 60, Identity: ratelimit.IdentityUser},
			},
			Before: []fiber.Handler{
				middleware.RequireUser(),
				middleware.WithPayload[request.CreateDiaryEntryRequest](),
			},
			Handler: h.CreateDiaryEntryHandler.Handle,
		},
		{
			// Tickets may be filed signed out; AUTO keys on the user when
			// there is one and on the client address otherwise.
			Method: fiber.MethodPost,
			Path:   TicketsPath,
			Specs: []ratelimit.Spec{
				{Capacity: 5, RefillTokens: 5, RefillPeriodSeconds: 600, Identity: ratelimit.IdentityAuto},
				{Capacity: 3, RefillTokens: 3, RefillPeriodSeconds: 3600, Identity: ratelimit.IdentityEmail},
			},
			Before:  []fiber.Handler{middleware.WithPayload[request.CreateTicketRequest]()},
			Handler: h.CreateTicketHandler.Handle,
		},
		{
			Method: fiber.MethodPost,
			Path:   FriendRequestPath,
			Specs: []ratelimit.Spec{
				{Capacity: 20, RefillTokens: 20, RefillPeriodSeconds: 3600, Identity: ratelimit.IdentityUser},
			},
			Before: []fiber.Handler{
				middleware.RequireUser(),
				middleware.WithPayload[request.FriendRequest](),
			},
			Handler: h.SendFriendRequest.Handle,
		},
		{
			Method: fiber.MethodPost,
			Path:   FilesPath,
			Specs: []ratelimit.Spec{
				{Capacity: 10, RefillTokens: 10, RefillPeriodSeconds: 60, Identity: ratelimit.IdentityUser, FailClosed: true},
			},
			Before: []fiber.Handler{
				middleware.RequireUser(),
				middleware.WithPayload[request.UploadFileRequest](),
			},
			Handler: h.UploadFileHandler.Handle,
		},
	}
}
