package api

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/naperu/wappgate/internal/whatsapp"
)

// decodeParam unescapes a path segment so JIDs like 123@s.whatsapp.net
// survive the round trip through the URL.
func decodeParam(c *fiber.Ctx, name string) (string, error) {
	return url.PathUnescape(c.Params(name))
}

type sendTextRequest struct {
	InstanceID string `json:"instanceId"`
	To         string `json:"to"`
	Text       string `json:"text"`
}

type sendMediaRequest struct {
	InstanceID string `json:"instanceId"`
	To         string `json:"to"`
	MediaType  string `json:"mediaType"`
	Data       string `json:"data"` // data URI or fetchable URL
	Caption    string `json:"caption"`
	FileName   string `json:"fileName"`
}

type sendLocationRequest struct {
	InstanceID string  `json:"instanceId"`
	To         string  `json:"to"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Name       string  `json:"name"`
	Address    string  `json:"address"`
}

type sendPollRequest struct {
	InstanceID      string   `json:"instanceId"`
	To              string   `json:"to"`
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	SelectableCount int      `json:"selectableCount"`
}

type editMessageRequest struct {
	InstanceID string `json:"instanceId"`
	To         string `json:"to"`
	MessageID  string `json:"messageId"`
	NewText    string `json:"newText"`
}

type reactRequest struct {
	InstanceID string `json:"instanceId"`
	To         string `json:"to"`
	MessageID  string `json:"messageId"`
	Emoji      string `json:"emoji"`
}

type deleteMessageRequest struct {
	InstanceID string `json:"instanceId"`
	To         string `json:"to"`
	MessageID  string `json:"messageId"`
}

type markReadRequest struct {
	InstanceID string   `json:"instanceId"`
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

type chatPresenceRequest struct {
	InstanceID string `json:"instanceId"`
	To         string `json:"to"`
	State      string `json:"state"` // composing, recording, paused
}

func (s *Server) handleSendText(c *fiber.Ctx) error {
	var req sendTextRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.InstanceID == "" || req.To == "" || req.Text == "" {
		return badRequest("instanceId, to and text are required")
	}

	msgID, err := s.manager.SendText(c.Context(), req.InstanceID, req.To, req.Text)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"messageId": msgID,
	})
}

func (s *Server) handleSendMedia(c *fiber.Ctx) error {
	var req sendMediaRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.InstanceID == "" || req.To == "" || req.Data == "" {
		return badRequest("instanceId, to and data are required")
	}

	msgID, err := s.manager.SendMedia(c.Context(), req.InstanceID, req.To, req.MediaType, req.Data, req.Caption, req.FileName)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"messageId": msgID,
	})
}

func (s *Server) handleSendLocation(c *fiber.Ctx) error {
	var req sendLocationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.InstanceID == "" || req.To == "" {
		return badRequest("instanceId and to are required")
	}

	msgID, err := s.manager.SendLocation(c.Context(), req.InstanceID, req.To, req.Latitude, req.Longitude, req.Name, req.Address)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"messageId": msgID,
	})
}

func (s *Server) handleSendPoll(c *fiber.Ctx) error {
	var req sendPollRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.InstanceID == "" || req.To == "" || req.Question == "" || len(req.Options) < 2 {
		return badRequest("instanceId, to, question and at least two options are required")
	}
	if req.SelectableCount <= 0 {
		req.SelectableCount = 1
	}

	msgID, err := s.manager.SendPoll(c.Context(), req.InstanceID, req.To, req.Question, req.Options, req.SelectableCount)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"messageId": msgID,
	})
}

func (s *Server) handleEditMessage(c *fiber.Ctx) error {
	var req editMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.InstanceID == "" || req.To == "" || req.MessageID == "" || req.NewText == "" {
		return badRequest("instanceId, to, messageId and newText are required")
	}

	msgID, err := s.manager.EditMessage(c.Context(), req.InstanceID, req.To, req.MessageID, req.NewText)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"messageId": msgID,
	})
}

func (s *Server) handleReact(c *fiber.Ctx) error {
	var req reactRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.InstanceID == "" || req.To == "" || req.MessageID == "" {
		return badRequest("instanceId, to and messageId are required")
	}

	if err := s.manager.ReactToMessage(c.Context(), req.InstanceID, req.To, req.MessageID, req.Emoji); err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleDeleteMessage(c *fiber.Ctx) error {
	var req deleteMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.InstanceID == "" || req.To == "" || req.MessageID == "" {
		return badRequest("instanceId, to and messageId are required")
	}

	if err := s.manager.DeleteMessage(c.Context(), req.InstanceID, req.To, req.MessageID); err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleMarkRead(c *fiber.Ctx) error {
	var req markReadRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.InstanceID == "" || req.ChatID == "" || len(req.MessageIDs) == 0 {
		return badRequest("instanceId, chatId and messageIds are required")
	}

	if err := s.manager.MarkChatAsRead(c.Context(), req.InstanceID, req.ChatID, req.MessageIDs); err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleChatPresence(c *fiber.Ctx) error {
	var req chatPresenceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.InstanceID == "" || req.To == "" {
		return badRequest("instanceId and to are required")
	}

	if err := s.manager.SendChatPresence(c.Context(), req.InstanceID, req.To, req.State); err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleGetContacts(c *fiber.Ctx) error {
	contacts, err := s.manager.Contacts(c.Context(), c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"contacts": contacts,
	})
}

func (s *Server) handleGetChats(c *fiber.Ctx) error {
	instanceID := c.Params("id")
	chats, err := s.manager.Chats(c.Context(), instanceID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"chats":   chats,
		"cached":  s.manager.Messages().Chats(instanceID),
	})
}

func (s *Server) handleGetChatMessages(c *fiber.Ctx) error {
	instanceID := c.Params("id")
	if _, ok := s.manager.Get(instanceID); !ok {
		return httpError(whatsapp.ErrInstanceNotFound)
	}
	chatID, err := decodeParam(c, "chatId")
	if err != nil {
		return badRequest("invalid chatId")
	}

	limit := c.QueryInt("limit", 50)
	msgs := s.manager.Messages().Messages(instanceID, chatID, limit)
	return c.JSON(fiber.Map{
		"success":  true,
		"chatId":   chatID,
		"messages": msgs,
	})
}

func (s *Server) handleGetGroups(c *fiber.Ctx) error {
	groups, err := s.manager.Groups(c.Context(), c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"groups":  groups,
	})
}

func (s *Server) handleGetContactDetail(c *fiber.Ctx) error {
	phone, err := decodeParam(c, "phone")
	if err != nil {
		return badRequest("invalid phone")
	}
	info, err := s.manager.ContactDetail(c.Context(), c.Params("id"), phone)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"contact": info,
	})
}

func (s *Server) handleCheckNumber(c *fiber.Ctx) error {
	phone, err := decodeParam(c, "phone")
	if err != nil {
		return badRequest("invalid phone")
	}
	result, err := s.manager.CheckNumber(c.Context(), c.Params("id"), phone)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"result":  result,
	})
}

func (s *Server) handleDownloadMedia(c *fiber.Ctx) error {
	chatID, err := decodeParam(c, "chatId")
	if err != nil {
		return badRequest("invalid chatId")
	}
	data, mimetype, err := s.manager.DownloadMedia(c.Context(), c.Params("id"), chatID, c.Params("messageId"))
	if err != nil {
		return httpError(err)
	}
	c.Set(fiber.HeaderContentType, mimetype)
	return c.Send(data)
}
