package whatsapp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/naperu/wappgate/internal/bus"
	"github.com/naperu/wappgate/internal/msgcache"
	"github.com/naperu/wappgate/internal/session"
)

func recvEvent(t *testing.T, ch chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return bus.Event{}
	}
}

func assertNoEvent(t *testing.T, ch chan bus.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %q", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func textMessage(id, body string, fromMe, isGroup bool) *events.Message {
	chat := types.NewJID("5511888888888", types.DefaultUserServer)
	sender := types.NewJID("5511888888888", types.DefaultUserServer)
	if isGroup {
		chat = types.NewJID("120363024512345678", types.GroupServer)
	}
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     chat,
				Sender:   sender,
				IsFromMe: fromMe,
				IsGroup:  isGroup,
			},
			ID:        id,
			Timestamp: time.Now(),
			PushName:  "Alice",
		},
		Message: &waE2E.Message{Conversation: proto.String(body)},
	}
}

func TestHandleQR(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	inst, err := m.GetOrCreate(ctx, "inst")
	require.NoError(t, err)

	ch := m.Events().Subscribe("inst")
	defer m.Events().Unsubscribe("inst", ch)

	m.handleQR(inst, &events.QR{Codes: []string{"qr-code-payload"}})

	assert.Equal(t, StatusQR, inst.Status())
	raw, png := inst.QRCode()
	assert.Equal(t, "qr-code-payload", raw)
	assert.True(t, strings.HasPrefix(png, "data:image/png;base64,"))

	evt := recvEvent(t, ch)
	assert.Equal(t, bus.EventQR, evt.Type)
	data := evt.Data.(map[string]string)
	assert.Equal(t, "qr-code-payload", data["qr"])
	assert.NotEmpty(t, data["qrBase64"])
}

func TestHandlePairSuccessPersistsMapping(t *testing.T) {
	m, _, sessions := newTestManager(t)
	ctx := context.Background()

	inst, err := m.GetOrCreate(ctx, "inst")
	require.NoError(t, err)

	jid := types.NewJID("5511999999999", types.DefaultUserServer)
	m.handlePairSuccess(inst, &events.PairSuccess{ID: jid})

	mapping, err := sessions.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, jid.String(), mapping["inst"])
	assert.Equal(t, "5511999999999", inst.Info().WANumber)
}

func TestHandleConnected(t *testing.T) {
	ctx := context.Background()
	sessions, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	container := newFakeContainer()
	jid := container.seedPaired("5511999999999", "Tester")
	require.NoError(t, sessions.Set(ctx, "inst", jid.String()))

	m, err := NewManager(ctx, container, sessions, bus.New(), msgcache.New())
	require.NoError(t, err)
	inst, err := m.GetOrCreate(ctx, "inst")
	require.NoError(t, err)

	// Simulate a pairing in flight so we can see the transients clear.
	inst.mu.Lock()
	inst.status = StatusQR
	inst.qrCode = "pending"
	inst.qrPNG = "data:image/png;base64,pending"
	inst.mu.Unlock()

	ch := m.Events().Subscribe("inst")
	defer m.Events().Unsubscribe("inst", ch)

	m.handleConnected(inst)

	info := inst.Info()
	assert.Equal(t, StatusConnected, info.Status)
	assert.Equal(t, "5511999999999", info.WANumber)
	assert.Equal(t, "Tester", info.WAName)

	raw, png := inst.QRCode()
	assert.Empty(t, raw)
	assert.Empty(t, png)

	evt := recvEvent(t, ch)
	assert.Equal(t, bus.EventReady, evt.Type)
	data := evt.Data.(map[string]string)
	assert.Equal(t, "5511999999999", data["number"])
}

func TestHandleDisconnected(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	inst, err := m.GetOrCreate(ctx, "inst")
	require.NoError(t, err)
	inst.mu.Lock()
	inst.status = StatusConnected
	inst.qrCode = "stale"
	inst.pairingCode = "AAAA-BBBB"
	inst.mu.Unlock()

	ch := m.Events().Subscribe("inst")
	defer m.Events().Unsubscribe("inst", ch)

	m.handleDisconnected(inst)

	info := inst.Info()
	assert.Equal(t, StatusDisconnected, info.Status)
	assert.Empty(t, info.PairingCode)
	raw, _ := inst.QRCode()
	assert.Empty(t, raw)
	assert.Equal(t, bus.EventDisconnected, recvEvent(t, ch).Type)
}

func TestHandleLoggedOutClearsIdentityAndMapping(t *testing.T) {
	ctx := context.Background()
	sessions, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	container := newFakeContainer()
	jid := container.seedPaired("5511999999999", "Tester")
	require.NoError(t, sessions.Set(ctx, "inst", jid.String()))

	m, err := NewManager(ctx, container, sessions, bus.New(), msgcache.New())
	require.NoError(t, err)
	inst, err := m.GetOrCreate(ctx, "inst")
	require.NoError(t, err)
	inst.setStatus(StatusConnected)

	ch := m.Events().Subscribe("inst")
	defer m.Events().Unsubscribe("inst", ch)

	m.handleLoggedOut(inst)

	info := inst.Info()
	assert.Equal(t, StatusDisconnected, info.Status)
	assert.Empty(t, info.WANumber)
	assert.Empty(t, info.WAName)

	mapping, err := sessions.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, mapping)

	assert.Equal(t, bus.EventLoggedOut, recvEvent(t, ch).Type)

	// The instance stays registered so the id can pair again.
	_, ok := m.Get("inst")
	assert.True(t, ok)
}

func TestHandleMessageStoresAndPublishes(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	inst, err := m.GetOrCreate(ctx, "inst")
	require.NoError(t, err)

	ch := m.Events().Subscribe("inst")
	defer m.Events().Unsubscribe("inst", ch)

	m.handleMessage(inst, textMessage("MSG1", "hello there", false, false))

	evt := recvEvent(t, ch)
	assert.Equal(t, bus.EventMessage, evt.Type)
	msg := evt.Data.(msgcache.Message)
	assert.Equal(t, "MSG1", msg.ID)
	assert.Equal(t, "hello there", msg.Body)
	assert.Equal(t, "text", msg.Type)
	assert.Equal(t, "Alice", msg.PushName)

	cached := m.Messages().Messages("inst", msg.ChatID, 0)
	require.Len(t, cached, 1)
	assert.Equal(t, "MSG1", cached[0].ID)
}

func TestHandleMessageIgnoresGroupsWhenConfigured(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	inst, err := m.GetOrCreate(ctx, "inst")
	require.NoError(t, err)
	m.SetIgnoreGroups("inst", true)

	ch := m.Events().Subscribe("inst")
	defer m.Events().Unsubscribe("inst", ch)

	groupMsg := textMessage("MSG1", "group chatter", false, true)
	m.handleMessage(inst, groupMsg)

	assertNoEvent(t, ch)
	assert.Empty(t, m.Messages().Messages("inst", groupMsg.Info.Chat.String(), 0))

	// Direct messages still flow.
	m.handleMessage(inst, textMessage("MSG2", "direct", false, false))
	assert.Equal(t, bus.EventMessage, recvEvent(t, ch).Type)
}

func TestHandleReceipt(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	inst, err := m.GetOrCreate(ctx, "inst")
	require.NoError(t, err)

	ch := m.Events().Subscribe("inst")
	defer m.Events().Unsubscribe("inst", ch)

	sender := types.NewJID("5511888888888", types.DefaultUserServer)
	m.handleReceipt(inst, &events.Receipt{
		MessageSource: types.MessageSource{Chat: sender, Sender: sender},
		MessageIDs:    []types.MessageID{"MSG1", "MSG2"},
		Type:          types.ReceiptTypeRead,
	})

	evt := recvEvent(t, ch)
	assert.Equal(t, bus.EventMessageAck, evt.Type)
	data := evt.Data.(map[string]any)
	assert.Equal(t, []types.MessageID{"MSG1", "MSG2"}, data["messageIds"])
}

func TestHandleCallOfferPublishesWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	sessions, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	container := newFakeContainer()
	jid := container.seedPaired("5511999999999", "Tester")
	require.NoError(t, sessions.Set(ctx, "inst", jid.String()))

	m, err := NewManager(ctx, container, sessions, bus.New(), msgcache.New())
	require.NoError(t, err)
	inst, err := m.GetOrCreate(ctx, "inst")
	require.NoError(t, err)
	m.SetRejectCalls("inst", true)

	ch := m.Events().Subscribe("inst")
	defer m.Events().Unsubscribe("inst", ch)

	start := time.Now()
	m.handleCallOffer(inst, &events.CallOffer{
		BasicCallMeta: types.BasicCallMeta{
			CallCreator: types.NewJID("5511888888888", types.DefaultUserServer),
			CallID:      "CALL1",
		},
	})
	elapsed := time.Since(start)

	// The rejection happens after a delay on another goroutine; the
	// handler itself must return immediately.
	assert.Less(t, elapsed, callRejectDelay)

	evt := recvEvent(t, ch)
	assert.Equal(t, bus.EventCall, evt.Type)
	data := evt.Data.(map[string]any)
	assert.Equal(t, "CALL1", data["callId"])
}

func TestFormatMessageLiteMediaMetadata(t *testing.T) {
	m, _, _ := newTestManager(t)

	chat := types.NewJID("5511888888888", types.DefaultUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "IMG1",
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:  proto.String("look at this"),
				Mimetype: proto.String("image/jpeg"),
			},
		},
	}

	msg := m.formatMessageLite(evt)
	assert.Equal(t, "image", msg.Type)
	assert.Equal(t, "look at this", msg.Caption)
	assert.Equal(t, "look at this", msg.Body)
	assert.Equal(t, "image/jpeg", msg.Mimetype)
	assert.Empty(t, msg.MediaBase64, "history formatting never downloads media")
}
