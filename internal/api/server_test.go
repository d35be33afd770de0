package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"

	"github.com/naperu/wappgate/internal/bus"
	"github.com/naperu/wappgate/internal/msgcache"
	"github.com/naperu/wappgate/internal/session"
	"github.com/naperu/wappgate/internal/whatsapp"
	"github.com/naperu/wappgate/pkg/config"
)

type fakeContainer struct{}

func (f *fakeContainer) NewDevice() *store.Device { return &store.Device{} }

func (f *fakeContainer) GetDevice(ctx context.Context, jid types.JID) (*store.Device, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *whatsapp.Manager) {
	t.Helper()
	sessions, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)

	manager, err := whatsapp.NewManager(context.Background(), &fakeContainer{}, sessions, bus.New(), msgcache.New())
	require.NoError(t, err)

	cfg := &config.Config{CORSOrigins: []string{"*"}}
	return NewServer(cfg, manager), manager
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, int(5*time.Second/time.Millisecond))
	require.NoError(t, err)

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, srv.App(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "wappgate", body["service"])
}

func TestStatusUnknownInstance(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, srv.App(), http.MethodGet, "/instance/ghost/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "not_found", body["status"])
}

func TestDisconnectUnknownInstanceReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, srv.App(), http.MethodPost, "/instance/ghost/disconnect", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestSendTextValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []sendTextRequest{
		{},
		{InstanceID: "a"},
		{InstanceID: "a", To: "123"},
		{To: "123", Text: "hi"},
	}
	for i, req := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			resp, body := doJSON(t, srv.App(), http.MethodPost, "/message/text", req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestSendTextUnknownInstanceReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	req := sendTextRequest{InstanceID: "ghost", To: "5215512345678", Text: "hi"}
	resp, body := doJSON(t, srv.App(), http.MethodPost, "/message/text", req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestSendTextDisconnectedInstanceReturns409(t *testing.T) {
	srv, manager := newTestServer(t)
	_, err := manager.GetOrCreate(context.Background(), "idle")
	require.NoError(t, err)

	req := sendTextRequest{InstanceID: "idle", To: "5215512345678", Text: "hi"}
	resp, body := doJSON(t, srv.App(), http.MethodPost, "/message/text", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestSettingsUnknownInstanceReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv.App(), http.MethodGet, "/instance/ghost/settings", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	patch := map[string]bool{"rejectCalls": true}
	resp, _ = doJSON(t, srv.App(), http.MethodPost, "/instance/ghost/settings", patch)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, manager := newTestServer(t)
	_, err := manager.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)

	patch := map[string]bool{"rejectCalls": true, "ignoreGroups": true}
	resp, body := doJSON(t, srv.App(), http.MethodPost, "/instance/alpha/settings", patch)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	settings, ok := body["settings"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, settings["rejectCalls"])
	assert.Equal(t, true, settings["ignoreGroups"])
	assert.Equal(t, false, settings["readMessages"])

	resp, body = doJSON(t, srv.App(), http.MethodGet, "/instance/alpha/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	settings, ok = body["settings"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, settings["rejectCalls"])
}

func TestListInstances(t *testing.T) {
	srv, manager := newTestServer(t)
	_, err := manager.GetOrCreate(context.Background(), "one")
	require.NoError(t, err)
	_, err = manager.GetOrCreate(context.Background(), "two")
	require.NoError(t, err)

	resp, body := doJSON(t, srv.App(), http.MethodGet, "/instances", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	instances, ok := body["instances"].([]interface{})
	require.True(t, ok)
	assert.Len(t, instances, 2)
}

func TestGetChatMessagesServesCache(t *testing.T) {
	srv, manager := newTestServer(t)
	_, err := manager.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)

	chat := "5215512345678@s.whatsapp.net"
	for i := 0; i < 3; i++ {
		manager.Messages().Store("alpha", chat, msgcache.Message{
			ID:     fmt.Sprintf("m-%d", i),
			ChatID: chat,
			Body:   "hello",
		})
	}

	resp, body := doJSON(t, srv.App(), http.MethodGet,
		"/instance/alpha/chat/5215512345678%40s.whatsapp.net/messages?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, chat, body["chatId"])
	msgs, ok := body["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestGetChatMessagesUnknownInstanceReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv.App(), http.MethodGet, "/instance/ghost/chat/123/messages", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQRUnknownInstanceReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv.App(), http.MethodGet, "/instance/ghost/qr", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPairRequiresPhone(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, srv.App(), http.MethodPost, "/instance/alpha/pair", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestStatusSnapshotFrame(t *testing.T) {
	srv, manager := newTestServer(t)
	_, err := manager.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)

	evt := srv.statusSnapshot("alpha")
	assert.Equal(t, bus.EventStatus, evt.Type)
	assert.Equal(t, "alpha", evt.InstanceID)
	assert.NotZero(t, evt.Timestamp)

	data, ok := evt.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "disconnected", data["status"])
	// No QR pending, so the frame must not carry an empty qrCode.
	_, hasQR := data["qrCode"]
	assert.False(t, hasQR)

	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"status"`)
}

func TestStatusSnapshotUnknownInstance(t *testing.T) {
	srv, _ := newTestServer(t)

	evt := srv.statusSnapshot("ghost")
	assert.Equal(t, bus.EventStatus, evt.Type)
	data, ok := evt.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "not_found", data["status"])
}

func TestEventStreamDeliversAfterSnapshot(t *testing.T) {
	_, manager := newTestServer(t)
	_, err := manager.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)

	// Same subscription path the WebSocket bridge uses.
	events := manager.Events().Subscribe("alpha")
	defer manager.Events().Unsubscribe("alpha", events)

	manager.Events().Publish(bus.Event{
		Type:       bus.EventMessage,
		InstanceID: "alpha",
		Data:       map[string]string{"body": "hi"},
	})

	select {
	case evt := <-events:
		assert.Equal(t, bus.EventMessage, evt.Type)
		assert.NotZero(t, evt.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("published event never reached the stream")
	}
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv.App(), http.MethodGet, "/ws/alpha", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
