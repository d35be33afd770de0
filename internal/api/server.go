package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/naperu/wappgate/internal/whatsapp"
	"github.com/naperu/wappgate/pkg/config"
)

type Server struct {
	app     *fiber.App
	cfg     *config.Config
	manager *whatsapp.Manager
}

func NewServer(cfg *config.Config, manager *whatsapp.Manager) *Server {
	app := fiber.New(fiber.Config{
		AppName:   "WappGate",
		BodyLimit: 32 * 1024 * 1024, // media payloads arrive inline
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
	}))
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        500,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many requests, please slow down",
			})
		},
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/ws")
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Upgrade,Connection",
	}))

	server := &Server{app: app, cfg: cfg, manager: manager}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "wappgate",
			"time":    time.Now(),
		})
	})

	// Instance lifecycle
	s.app.Post("/instance/:id/connect", s.handleConnect)
	s.app.Post("/instance/:id/pair", s.handlePair)
	s.app.Get("/instance/:id/qr", s.handleGetQR)
	s.app.Get("/instance/:id/status", s.handleGetStatus)
	s.app.Post("/instance/:id/disconnect", s.handleDisconnect)
	s.app.Post("/instance/:id/logout", s.handleLogout)
	s.app.Get("/instances", s.handleListInstances)

	// Instance settings and proxy
	s.app.Post("/instance/:id/settings", s.handleSetSettings)
	s.app.Get("/instance/:id/settings", s.handleGetSettings)
	s.app.Post("/instance/:id/proxy", s.handleSetProxy)
	s.app.Get("/instance/:id/proxy", s.handleGetProxy)
	s.app.Get("/instance/:id/proxy/check", s.handleCheckProxyIP)

	// Outbound messaging
	s.app.Post("/message/text", s.handleSendText)
	s.app.Post("/message/media", s.handleSendMedia)
	s.app.Post("/message/location", s.handleSendLocation)
	s.app.Post("/message/poll", s.handleSendPoll)
	s.app.Post("/message/edit", s.handleEditMessage)
	s.app.Post("/message/react", s.handleReact)
	s.app.Post("/message/delete", s.handleDeleteMessage)
	s.app.Post("/message/markread", s.handleMarkRead)
	s.app.Post("/message/presence", s.handleChatPresence)

	// Directory and history
	s.app.Get("/instance/:id/contacts", s.handleGetContacts)
	s.app.Get("/instance/:id/chats", s.handleGetChats)
	s.app.Get("/instance/:id/chat/:chatId/messages", s.handleGetChatMessages)
	s.app.Get("/instance/:id/groups", s.handleGetGroups)
	s.app.Get("/instance/:id/contact/:phone", s.handleGetContactDetail)
	s.app.Get("/instance/:id/check/:phone", s.handleCheckNumber)
	s.app.Get("/instance/:id/media/:chatId/:messageId", s.handleDownloadMedia)

	// Realtime event stream
	s.app.Use("/ws/:id", s.wsUpgrade)
	s.app.Get("/ws/:id", websocket.New(s.handleWebSocket))
}

func (s *Server) wsUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, whatsapp.ErrInstanceNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, whatsapp.ErrNotConnected), errors.Is(err, whatsapp.ErrAlreadyPaired):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, whatsapp.ErrNotOnWhatsApp):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
