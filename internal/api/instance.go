package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/naperu/wappgate/internal/whatsapp"
)

// settingsPatch carries partial setting updates; nil fields are left
// untouched.
type settingsPatch struct {
	RejectCalls     *bool `json:"rejectCalls"`
	AlwaysOnline    *bool `json:"alwaysOnline"`
	IgnoreGroups    *bool `json:"ignoreGroups"`
	ReadMessages    *bool `json:"readMessages"`
	SyncFullHistory *bool `json:"syncFullHistory"`
}

func (s *Server) applySettings(instanceID string, patch settingsPatch) {
	if patch.RejectCalls != nil {
		s.manager.SetRejectCalls(instanceID, *patch.RejectCalls)
	}
	if patch.AlwaysOnline != nil {
		s.manager.SetAlwaysOnline(instanceID, *patch.AlwaysOnline)
	}
	if patch.IgnoreGroups != nil {
		s.manager.SetIgnoreGroups(instanceID, *patch.IgnoreGroups)
	}
	if patch.ReadMessages != nil {
		s.manager.SetReadMessages(instanceID, *patch.ReadMessages)
	}
	if patch.SyncFullHistory != nil {
		s.manager.SetSyncFullHistory(instanceID, *patch.SyncFullHistory)
	}
}

func (s *Server) handleConnect(c *fiber.Ctx) error {
	instanceID := c.Params("id")

	// Settings may ride along so they are in place before the first
	// events arrive.
	var patch settingsPatch
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&patch); err != nil {
			return badRequest("invalid request body")
		}
	}

	inst, err := s.manager.Connect(c.Context(), instanceID)
	if err != nil {
		return httpError(err)
	}
	s.applySettings(instanceID, patch)

	return c.JSON(fiber.Map{
		"success":  true,
		"instance": inst.Info(),
	})
}

func (s *Server) handlePair(c *fiber.Ctx) error {
	instanceID := c.Params("id")

	var req struct {
		Phone string `json:"phone"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Phone == "" {
		return badRequest("phone is required")
	}

	code, err := s.manager.ConnectWithPairingCode(c.Context(), instanceID, req.Phone)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"pairingCode": code,
	})
}

func (s *Server) handleGetQR(c *fiber.Ctx) error {
	inst, ok := s.manager.Get(c.Params("id"))
	if !ok {
		return httpError(whatsapp.ErrInstanceNotFound)
	}
	raw, png := inst.QRCode()
	return c.JSON(fiber.Map{
		"success":  true,
		"qr":       raw,
		"qrBase64": png,
	})
}

func (s *Server) handleGetStatus(c *fiber.Ctx) error {
	instanceID := c.Params("id")
	info := s.manager.Status(instanceID)

	var qrPNG string
	if inst, ok := s.manager.Get(instanceID); ok {
		_, qrPNG = inst.QRCode()
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"id":       info.ID,
		"status":   info.Status,
		"waNumber": info.WANumber,
		"waName":   info.WAName,
		"qrCode":   qrPNG,
	})
}

func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	if err := s.manager.Disconnect(c.Params("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	if err := s.manager.Logout(c.Context(), c.Params("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleListInstances(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success":   true,
		"instances": s.manager.List(),
	})
}

func (s *Server) handleSetSettings(c *fiber.Ctx) error {
	instanceID := c.Params("id")
	if _, ok := s.manager.Get(instanceID); !ok {
		return httpError(whatsapp.ErrInstanceNotFound)
	}

	var patch settingsPatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest("invalid request body")
	}
	s.applySettings(instanceID, patch)

	settings, err := s.manager.Settings(instanceID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"settings": settings,
	})
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	settings, err := s.manager.Settings(c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"settings": settings,
	})
}

func (s *Server) handleSetProxy(c *fiber.Ctx) error {
	var cfg whatsapp.ProxyConfig
	if err := c.BodyParser(&cfg); err != nil {
		return badRequest("invalid request body")
	}
	if err := s.manager.SetProxy(c.Params("id"), cfg); err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleGetProxy(c *fiber.Ctx) error {
	cfg, err := s.manager.Proxy(c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"proxy":   cfg,
	})
}

func (s *Server) handleCheckProxyIP(c *fiber.Ctx) error {
	ip, err := s.manager.CheckProxyIP(c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"ip":      ip,
	})
}
