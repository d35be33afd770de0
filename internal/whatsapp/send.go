package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// connectedInstance guards every outbound operation: the instance must
// exist and have a live transport.
func (m *Manager) connectedInstance(instanceID string) (*Instance, error) {
	inst, ok := m.Get(instanceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	if status := inst.Status(); status != StatusConnected {
		return nil, fmt.Errorf("%w (status: %s)", ErrNotConnected, status)
	}
	return inst, nil
}

// resolveRecipient asks the server for the canonical JID of a phone
// number, which also primes the LID mapping for later sends.
func resolveRecipient(ctx context.Context, inst *Instance, to string) (types.JID, error) {
	to = CleanPhone(to)
	users, err := inst.Client.IsOnWhatsApp(ctx, []string{to})
	if err != nil {
		return types.EmptyJID, fmt.Errorf("failed to check recipient: %w", err)
	}
	if len(users) == 0 || users[0].JID.User == "" {
		return types.EmptyJID, fmt.Errorf("%w: %s", ErrNotOnWhatsApp, to)
	}
	return users[0].JID, nil
}

// resolveChatJID normalizes a chat destination, preferring the
// server-resolved JID when the lookup succeeds.
func resolveChatJID(ctx context.Context, inst *Instance, chatID string) (types.JID, error) {
	chatID = NormalizeChatJID(chatID)
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid chat JID: %w", err)
	}
	if jid.Server != types.DefaultUserServer {
		return jid, nil
	}
	resolved, err := inst.Client.IsOnWhatsApp(ctx, []string{strings.TrimSuffix(chatID, "@s.whatsapp.net")})
	if err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("Recipient lookup failed, using parsed JID")
		return jid, nil
	}
	if len(resolved) > 0 && resolved[0].IsIn {
		return resolved[0].JID, nil
	}
	return jid, nil
}

// SendText sends a text message, enriching it with a link preview when
// the text contains a URL.
func (m *Manager) SendText(ctx context.Context, instanceID, to, text string) (string, error) {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return "", err
	}
	jid, err := resolveRecipient(ctx, inst, to)
	if err != nil {
		return "", err
	}

	msg := &waE2E.Message{Conversation: proto.String(text)}
	if foundURL := extractFirstURL(text); foundURL != "" {
		if preview, err := fetchLinkPreview(foundURL); err != nil {
			log.Warn().Err(err).Str("url", foundURL).Msg("Link preview failed, sending plain text")
		} else {
			ext := &waE2E.ExtendedTextMessage{
				Text:        proto.String(text),
				MatchedText: proto.String(foundURL),
				PreviewType: waE2E.ExtendedTextMessage_VIDEO.Enum(),
			}
			if preview.Title != "" {
				ext.Title = proto.String(preview.Title)
			}
			if preview.Description != "" {
				ext.Description = proto.String(preview.Description)
			}
			if len(preview.Thumbnail) > 0 {
				ext.JPEGThumbnail = preview.Thumbnail
			}
			msg = &waE2E.Message{ExtendedTextMessage: ext}
		}
	}

	resp, err := inst.Client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}
	m.clearChatPresence(inst, jid)

	log.Info().Str("instance", instanceID).Str("msgId", resp.ID).Msg("Text message sent")
	return resp.ID, nil
}

// SendMedia sends image, video, audio or document content. The source
// may be a base64 data URI or a fetchable URL.
func (m *Manager) SendMedia(ctx context.Context, instanceID, to, mediaType, source, caption, fileName string) (string, error) {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return "", err
	}
	jid, err := resolveRecipient(ctx, inst, to)
	if err != nil {
		return "", err
	}

	data, mimeType, err := loadMediaSource(source)
	if err != nil {
		return "", err
	}

	uploadType, kind := classifyMedia(mediaType, mimeType)
	uploaded, err := inst.Client.Upload(ctx, data, uploadType)
	if err != nil {
		return "", fmt.Errorf("failed to upload media: %w", err)
	}

	msg := &waE2E.Message{}
	switch kind {
	case "image":
		msg.ImageMessage = &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(data))),
		}
	case "video":
		msg.VideoMessage = &waE2E.VideoMessage{
			Caption:       proto.String(caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(data))),
		}
	case "audio":
		msg.AudioMessage = &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(data))),
			PTT:           proto.Bool(true),
		}
	default:
		if fileName == "" {
			fileName = "file"
		}
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Caption:       proto.String(caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(data))),
			FileName:      proto.String(fileName),
		}
	}

	resp, err := inst.Client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send media message: %w", err)
	}
	m.clearChatPresence(inst, jid)
	return resp.ID, nil
}

// SendLocation sends a pinned location.
func (m *Manager) SendLocation(ctx context.Context, instanceID, to string, latitude, longitude float64, name, address string) (string, error) {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return "", err
	}

	jid, err := types.ParseJID(NormalizeChatJID(to))
	if err != nil {
		return "", fmt.Errorf("invalid JID: %w", err)
	}

	msg := &waE2E.Message{
		LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(latitude),
			DegreesLongitude: proto.Float64(longitude),
			Name:             proto.String(name),
			Address:          proto.String(address),
		},
	}

	resp, err := inst.Client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send location: %w", err)
	}
	return resp.ID, nil
}

// SendPoll sends a poll with the given options.
func (m *Manager) SendPoll(ctx context.Context, instanceID, to, question string, options []string, selectableCount int) (string, error) {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return "", err
	}

	jid, err := types.ParseJID(NormalizeChatJID(to))
	if err != nil {
		return "", fmt.Errorf("invalid JID: %w", err)
	}

	// Polls need the recipient's device list resolved up front.
	if _, err := inst.Client.GetUserDevices(ctx, []types.JID{jid}); err != nil {
		log.Warn().Err(err).Str("to", jid.String()).Msg("Failed to get user devices, sending anyway")
	}

	pollMsg := inst.Client.BuildPollCreation(question, options, selectableCount)
	resp, err := inst.Client.SendMessage(ctx, jid, pollMsg)
	if err != nil {
		return "", fmt.Errorf("failed to send poll: %w", err)
	}
	return resp.ID, nil
}

// EditMessage replaces the text of a previously sent message.
func (m *Manager) EditMessage(ctx context.Context, instanceID, chatID, messageID, newText string) (string, error) {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return "", err
	}
	chatJID, err := resolveChatJID(ctx, inst, chatID)
	if err != nil {
		return "", err
	}

	editMsg := inst.Client.BuildEdit(chatJID, messageID, &waE2E.Message{
		Conversation: proto.String(newText),
	})
	resp, err := inst.Client.SendMessage(ctx, chatJID, editMsg)
	if err != nil {
		return "", fmt.Errorf("failed to edit message: %w", err)
	}
	return resp.ID, nil
}

// ReactToMessage sends an emoji reaction.
func (m *Manager) ReactToMessage(ctx context.Context, instanceID, chatID, messageID, reaction string) error {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return err
	}
	chatJID, err := resolveChatJID(ctx, inst, chatID)
	if err != nil {
		return err
	}

	reactionMsg := inst.Client.BuildReaction(chatJID, types.EmptyJID, messageID, reaction)
	if _, err := inst.Client.SendMessage(ctx, chatJID, reactionMsg); err != nil {
		return fmt.Errorf("failed to send reaction: %w", err)
	}
	return nil
}

// DeleteMessage revokes a previously sent message.
func (m *Manager) DeleteMessage(ctx context.Context, instanceID, chatID, messageID string) error {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return err
	}
	chatJID, err := resolveChatJID(ctx, inst, chatID)
	if err != nil {
		return err
	}

	revokeMsg := inst.Client.BuildRevoke(chatJID, types.EmptyJID, messageID)
	if _, err := inst.Client.SendMessage(ctx, chatJID, revokeMsg); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// MarkChatAsRead marks the given messages as read in a chat.
func (m *Manager) MarkChatAsRead(ctx context.Context, instanceID, chatID string, messageIDs []string) error {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return err
	}
	if len(messageIDs) == 0 {
		return fmt.Errorf("at least one messageId is required")
	}

	chatJID, err := types.ParseJID(NormalizeChatJID(chatID))
	if err != nil {
		return fmt.Errorf("invalid chat JID: %w", err)
	}

	msgIDs := make([]types.MessageID, 0, len(messageIDs))
	for _, id := range messageIDs {
		msgIDs = append(msgIDs, types.MessageID(id))
	}
	return inst.Client.MarkRead(ctx, msgIDs, time.Now(), chatJID, types.EmptyJID)
}

// SendChatPresence publishes a typing or recording indicator.
func (m *Manager) SendChatPresence(ctx context.Context, instanceID, to, state string) error {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return err
	}
	jid, err := resolveRecipient(ctx, inst, to)
	if err != nil {
		return err
	}

	var presence types.ChatPresence
	var media types.ChatPresenceMedia
	switch state {
	case "recording":
		presence = types.ChatPresenceComposing
		media = types.ChatPresenceMediaAudio
	case "paused":
		presence = types.ChatPresencePaused
		media = types.ChatPresenceMediaText
	default: // composing
		presence = types.ChatPresenceComposing
		media = types.ChatPresenceMediaText
	}

	if err := inst.Client.SendChatPresence(ctx, jid, presence, media); err != nil {
		return fmt.Errorf("failed to send presence: %w", err)
	}
	return nil
}

// clearChatPresence stops the typing indicator after a send.
func (m *Manager) clearChatPresence(inst *Instance, jid types.JID) {
	go func() {
		_ = inst.Client.SendChatPresence(context.Background(), jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
	}()
}

// loadMediaSource reads media bytes from a data URI or a URL.
func loadMediaSource(source string) (data []byte, mimeType string, err error) {
	if strings.HasPrefix(source, "data:") {
		parts := strings.SplitN(source, ",", 2)
		if len(parts) != 2 {
			return nil, "", fmt.Errorf("invalid data URI")
		}
		meta := strings.SplitN(parts[0], ";", 2)
		mimeType = strings.TrimPrefix(meta[0], "data:")
		if !strings.Contains(parts[0], ";base64") {
			return nil, "", fmt.Errorf("url-encoded data URIs not supported")
		}
		data, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode data URI: %w", err)
		}
		return data, mimeType, nil
	}

	req, err := http.NewRequest(http.MethodGet, source, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download media, status %d", resp.StatusCode)
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	return data, http.DetectContentType(data), nil
}

// classifyMedia maps a requested media type (or detected mime type) to
// the whatsmeow upload type and the outgoing message kind.
func classifyMedia(mediaType, mimeType string) (whatsmeow.MediaType, string) {
	switch mediaType {
	case "image":
		return whatsmeow.MediaImage, "image"
	case "video":
		return whatsmeow.MediaVideo, "video"
	case "audio":
		return whatsmeow.MediaAudio, "audio"
	case "document":
		return whatsmeow.MediaDocument, "document"
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return whatsmeow.MediaImage, "image"
	case strings.HasPrefix(mimeType, "video/"):
		return whatsmeow.MediaVideo, "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return whatsmeow.MediaAudio, "audio"
	}
	return whatsmeow.MediaDocument, "document"
}
