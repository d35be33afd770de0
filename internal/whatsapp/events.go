package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/naperu/wappgate/internal/bus"
)

// callRejectDelay lets the offer settle before the rejection is sent.
const callRejectDelay = 500 * time.Millisecond

// registerEventHandlers wires the protocol callbacks for one instance.
// Each callback updates instance state and emits at most one bus event.
func (m *Manager) registerEventHandlers(inst *Instance) {
	inst.Client.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.QR:
			m.handleQR(inst, v)
		case *events.PairSuccess:
			m.handlePairSuccess(inst, v)
		case *events.Connected:
			m.handleConnected(inst)
		case *events.Disconnected:
			m.handleDisconnected(inst)
		case *events.LoggedOut:
			m.handleLoggedOut(inst)
		case *events.Message:
			m.handleMessage(inst, v)
		case *events.HistorySync:
			m.handleHistorySync(inst, v)
		case *events.Receipt:
			m.handleReceipt(inst, v)
		case *events.CallOffer:
			m.handleCallOffer(inst, v)
		}
	})
}

func (m *Manager) handleQR(inst *Instance, evt *events.QR) {
	code := evt.Codes[0]

	var pngDataURL string
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		log.Warn().Err(err).Str("instance", inst.ID).Msg("Failed to render QR code")
	} else {
		pngDataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	}

	inst.mu.Lock()
	inst.status = StatusQR
	inst.qrCode = code
	inst.qrPNG = pngDataURL
	inst.mu.Unlock()

	log.Info().Str("instance", inst.ID).Msg("QR code generated")
	m.bus.Publish(bus.Event{
		Type:       bus.EventQR,
		InstanceID: inst.ID,
		Data: map[string]string{
			"qr":       code,
			"qrBase64": pngDataURL,
		},
	})
}

func (m *Manager) handlePairSuccess(inst *Instance, evt *events.PairSuccess) {
	inst.mu.Lock()
	inst.waNumber = evt.ID.User
	inst.mu.Unlock()

	if err := m.saveMapping(context.Background(), inst.ID, evt.ID.String()); err != nil {
		log.Error().Err(err).Str("instance", inst.ID).Msg("Failed to persist session mapping")
	}
	log.Info().Str("instance", inst.ID).Str("number", evt.ID.User).Msg("Paired successfully")
}

func (m *Manager) handleConnected(inst *Instance) {
	inst.mu.Lock()
	inst.status = StatusConnected
	inst.qrCode = ""
	inst.qrPNG = ""
	inst.pairingCode = ""
	if inst.Client.Store.ID != nil {
		inst.waNumber = inst.Client.Store.ID.User
	}
	inst.waName = inst.Client.Store.PushName
	number := inst.waNumber
	name := inst.waName
	alwaysOnline := inst.settings.AlwaysOnline
	inst.mu.Unlock()

	log.Info().Str("instance", inst.ID).Str("number", number).Msg("Connected")
	m.bus.Publish(bus.Event{
		Type:       bus.EventReady,
		InstanceID: inst.ID,
		Data: map[string]string{
			"number": number,
			"name":   name,
		},
	})

	if alwaysOnline {
		go func() {
			if err := inst.Client.SendPresence(context.Background(), types.PresenceAvailable); err != nil {
				log.Warn().Err(err).Str("instance", inst.ID).Msg("Failed to send presence")
			}
		}()
		m.startHeartbeat(inst)
	}
}

func (m *Manager) handleDisconnected(inst *Instance) {
	m.stopHeartbeat(inst)

	inst.mu.Lock()
	inst.status = StatusDisconnected
	inst.qrCode = ""
	inst.qrPNG = ""
	inst.pairingCode = ""
	inst.mu.Unlock()

	log.Warn().Str("instance", inst.ID).Msg("Disconnected")
	m.bus.Publish(bus.Event{
		Type:       bus.EventDisconnected,
		InstanceID: inst.ID,
	})
}

// handleLoggedOut runs when the phone unlinks this device. The identity
// is gone upstream, so the session mapping goes too; the instance stays
// registered and can pair again.
func (m *Manager) handleLoggedOut(inst *Instance) {
	m.stopHeartbeat(inst)

	inst.mu.Lock()
	inst.status = StatusDisconnected
	inst.waNumber = ""
	inst.waName = ""
	inst.qrCode = ""
	inst.qrPNG = ""
	inst.pairingCode = ""
	inst.mu.Unlock()

	if err := m.forgetMapping(context.Background(), inst.ID); err != nil {
		log.Error().Err(err).Str("instance", inst.ID).Msg("Failed to remove session mapping")
	}

	log.Warn().Str("instance", inst.ID).Msg("Logged out by server")
	m.bus.Publish(bus.Event{
		Type:       bus.EventLoggedOut,
		InstanceID: inst.ID,
	})
}

func (m *Manager) handleMessage(inst *Instance, evt *events.Message) {
	settings := inst.Settings()

	if settings.IgnoreGroups && evt.Info.IsGroup {
		log.Debug().Str("instance", inst.ID).Msg("Ignoring group message")
		return
	}

	msg := m.formatMessage(inst, evt)
	m.cache.Store(inst.ID, msg.ChatID, msg)

	if settings.ReadMessages && !evt.Info.IsFromMe {
		go func() {
			err := inst.Client.MarkRead(context.Background(), []types.MessageID{evt.Info.ID}, time.Now(), evt.Info.Chat, evt.Info.Sender)
			if err != nil {
				log.Warn().Err(err).Str("instance", inst.ID).Msg("Failed to mark message as read")
			}
		}()
	}

	log.Debug().Str("instance", inst.ID).Str("from", msg.Sender).Str("type", msg.Type).Msg("Message received")
	m.bus.Publish(bus.Event{
		Type:       bus.EventMessage,
		InstanceID: inst.ID,
		Data:       msg,
	})
}

// handleHistorySync stores historical conversations without downloading
// media and publishes a single summary event.
func (m *Manager) handleHistorySync(inst *Instance, evt *events.HistorySync) {
	conversations := evt.Data.GetConversations()
	log.Info().Str("instance", inst.ID).Int("conversations", len(conversations)).Msg("History sync received")

	for _, conv := range conversations {
		chatID := conv.GetID()
		for _, historyMsg := range conv.GetMessages() {
			webMsg := historyMsg.GetMessage()
			if webMsg == nil {
				continue
			}
			parsed, err := inst.Client.ParseWebMessage(types.JID{}, webMsg)
			if err != nil {
				log.Warn().Err(err).Str("instance", inst.ID).Msg("Failed to parse history message")
				continue
			}
			m.cache.Store(inst.ID, chatID, m.formatMessageLite(parsed))
		}
	}

	m.bus.Publish(bus.Event{
		Type:       bus.EventHistorySync,
		InstanceID: inst.ID,
		Data: map[string]any{
			"conversations": len(conversations),
		},
	})
}

func (m *Manager) handleReceipt(inst *Instance, evt *events.Receipt) {
	m.bus.Publish(bus.Event{
		Type:       bus.EventMessageAck,
		InstanceID: inst.ID,
		Data: map[string]any{
			"messageIds": evt.MessageIDs,
			"type":       fmt.Sprintf("%v", evt.Type),
			"chat":       evt.MessageSource.Chat.String(),
			"from":       evt.MessageSource.Sender.String(),
		},
	})
}

func (m *Manager) handleCallOffer(inst *Instance, evt *events.CallOffer) {
	log.Info().Str("instance", inst.ID).Str("from", evt.CallCreator.String()).Str("callId", evt.CallID).Msg("Incoming call")

	m.bus.Publish(bus.Event{
		Type:       bus.EventCall,
		InstanceID: inst.ID,
		Data: map[string]any{
			"from":   evt.CallCreator.String(),
			"callId": evt.CallID,
			"type":   "offer",
		},
	})

	if !inst.Settings().RejectCalls {
		return
	}

	// Reject off the handler goroutine once the offer has settled.
	go func(creator types.JID, callID string) {
		time.Sleep(callRejectDelay)
		if err := inst.Client.RejectCall(context.Background(), creator, callID); err != nil {
			log.Error().Err(err).Str("instance", inst.ID).Str("callId", callID).Msg("Failed to reject call")
		} else {
			log.Info().Str("instance", inst.ID).Str("callId", callID).Msg("Call rejected")
		}
	}(evt.CallCreator, evt.CallID)
}
