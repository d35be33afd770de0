package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/naperu/wappgate/internal/msgcache"
	"github.com/naperu/wappgate/internal/storage"
)

// formatMessage turns a protocol message event into a cacheable record,
// downloading media payloads and archiving them when configured.
func (m *Manager) formatMessage(inst *Instance, evt *events.Message) msgcache.Message {
	msg := m.formatMessageLite(evt)

	var downloadable whatsmeow.DownloadableMessage
	switch {
	case evt.Message.GetImageMessage() != nil:
		downloadable = evt.Message.GetImageMessage()
	case evt.Message.GetVideoMessage() != nil:
		downloadable = evt.Message.GetVideoMessage()
	case evt.Message.GetAudioMessage() != nil:
		downloadable = evt.Message.GetAudioMessage()
	case evt.Message.GetDocumentMessage() != nil:
		downloadable = evt.Message.GetDocumentMessage()
	case evt.Message.GetStickerMessage() != nil:
		downloadable = evt.Message.GetStickerMessage()
	}

	if downloadable != nil {
		data, err := inst.Client.Download(context.Background(), downloadable)
		if err != nil {
			log.Warn().Err(err).Str("instance", inst.ID).Str("type", msg.Type).Msg("Failed to download media")
		} else if m.archive != nil {
			url, err := m.archive.StoreMedia(context.Background(), inst.ID, msg.ChatID, msg.ID, msg.Mimetype, data)
			if err != nil {
				log.Warn().Err(err).Str("instance", inst.ID).Msg("Failed to archive media, falling back to inline")
				msg.MediaBase64 = base64.StdEncoding.EncodeToString(data)
			} else {
				msg.MediaURL = url
			}
		} else {
			msg.MediaBase64 = base64.StdEncoding.EncodeToString(data)
		}
	}

	// lid senders hide the phone number; the device store usually knows
	// the mapping once the contact has messaged before.
	if strings.HasSuffix(msg.Sender, "@lid") {
		msg.ResolvedPhone = m.resolveLID(inst, evt)
	}

	return msg
}

// formatMessageLite extracts text and media metadata without touching
// the network, for history sync volumes.
func (m *Manager) formatMessageLite(evt *events.Message) msgcache.Message {
	msg := msgcache.Message{
		ID:        evt.Info.ID,
		ChatID:    evt.Info.Chat.String(),
		Sender:    evt.Info.Sender.String(),
		Type:      "text",
		Timestamp: evt.Info.Timestamp.Unix(),
		FromMe:    evt.Info.IsFromMe,
		IsGroup:   evt.Info.IsGroup,
		PushName:  evt.Info.PushName,
	}

	switch {
	case evt.Message.GetConversation() != "":
		msg.Body = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage() != nil:
		msg.Body = evt.Message.GetExtendedTextMessage().GetText()
	case evt.Message.GetImageMessage() != nil:
		img := evt.Message.GetImageMessage()
		msg.Type = "image"
		msg.Caption = img.GetCaption()
		msg.Mimetype = img.GetMimetype()
		msg.Body = msg.Caption
	case evt.Message.GetVideoMessage() != nil:
		vid := evt.Message.GetVideoMessage()
		msg.Type = "video"
		msg.Caption = vid.GetCaption()
		msg.Mimetype = vid.GetMimetype()
		msg.Body = msg.Caption
	case evt.Message.GetAudioMessage() != nil:
		msg.Type = "audio"
		msg.Mimetype = evt.Message.GetAudioMessage().GetMimetype()
	case evt.Message.GetDocumentMessage() != nil:
		doc := evt.Message.GetDocumentMessage()
		msg.Type = "document"
		msg.Caption = doc.GetCaption()
		msg.Mimetype = doc.GetMimetype()
		msg.FileName = doc.GetFileName()
		msg.Body = msg.Caption
	case evt.Message.GetStickerMessage() != nil:
		msg.Type = "sticker"
		msg.Mimetype = evt.Message.GetStickerMessage().GetMimetype()
	}

	return msg
}

// DownloadMedia returns the media payload of a cached message, either
// decoded from the inline copy or fetched back from the archive.
func (m *Manager) DownloadMedia(ctx context.Context, instanceID, chatID, messageID string) ([]byte, string, error) {
	if _, ok := m.Get(instanceID); !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}

	msg, ok := m.cache.Find(instanceID, chatID, messageID)
	if !ok {
		return nil, "", fmt.Errorf("message %s not found in chat %s", messageID, chatID)
	}

	switch {
	case msg.MediaBase64 != "":
		data, err := base64.StdEncoding.DecodeString(msg.MediaBase64)
		if err != nil {
			return nil, "", fmt.Errorf("corrupt cached media: %w", err)
		}
		return data, msg.Mimetype, nil
	case msg.MediaURL != "" && m.archive != nil:
		data, err := m.archive.Fetch(ctx, storage.MediaObjectKey(instanceID, msg.ChatID, msg.ID, msg.Mimetype))
		if err != nil {
			return nil, "", err
		}
		return data, msg.Mimetype, nil
	}
	return nil, "", fmt.Errorf("message %s has no media", messageID)
}

func (m *Manager) resolveLID(inst *Instance, evt *events.Message) string {
	if inst.Client == nil || inst.Client.Store == nil || inst.Client.Store.LIDs == nil {
		return ""
	}
	pn, err := inst.Client.Store.LIDs.GetPNForLID(context.Background(), evt.Info.Sender)
	if err != nil || pn.User == "" {
		log.Debug().Err(err).Str("instance", inst.ID).Str("lid", evt.Info.Sender.String()).Msg("Could not resolve lid sender")
		return ""
	}
	return pn.User
}
