// Package whatsapp manages a registry of independent WhatsApp client
// instances on top of whatsmeow: lifecycle, protocol event handling,
// outbound messaging and per-instance behavior settings.
package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/naperu/wappgate/internal/bus"
	"github.com/naperu/wappgate/internal/msgcache"
	"github.com/naperu/wappgate/internal/session"
	"github.com/naperu/wappgate/internal/storage"
)

// DeviceContainer is the slice of whatsmeow's sqlstore.Container the
// manager needs. *sqlstore.Container satisfies it.
type DeviceContainer interface {
	NewDevice() *store.Device
	GetDevice(ctx context.Context, jid types.JID) (*store.Device, error)
}

const (
	// pairWaitTimeout bounds how long pairing waits for the socket.
	pairWaitTimeout = 5 * time.Second
	pairWaitPoll    = 100 * time.Millisecond
	// heartbeatInterval paces the always-online presence refresh.
	heartbeatInterval = 5 * time.Minute
)

// Manager owns every instance and is the single entry point for
// lifecycle, settings and messaging operations.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	mapping   map[string]string // instance id -> JID string

	container DeviceContainer
	sessions  session.Store
	bus       *bus.Bus
	cache     *msgcache.Cache
	archive   *storage.Archive
}

// NewManager loads the persisted session map and returns a manager with
// no live connections. A session store read failure is fatal.
func NewManager(ctx context.Context, container DeviceContainer, sessions session.Store, b *bus.Bus, cache *msgcache.Cache) (*Manager, error) {
	mapping, err := sessions.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading session map: %w", err)
	}
	return &Manager{
		instances: make(map[string]*Instance),
		mapping:   mapping,
		container: container,
		sessions:  sessions,
		bus:       b,
		cache:     cache,
	}, nil
}

// SetArchive enables copying incoming media to object storage.
func (m *Manager) SetArchive(archive *storage.Archive) {
	m.archive = archive
}

// Events exposes the bus for realtime subscribers.
func (m *Manager) Events() *bus.Bus { return m.bus }

// Messages exposes the in-memory message cache.
func (m *Manager) Messages() *msgcache.Cache { return m.cache }

// GetOrCreate returns the instance for id, rehydrating it from the
// persisted session map when possible and creating a fresh device
// otherwise. Concurrent calls for the same id get the same instance.
func (m *Manager) GetOrCreate(ctx context.Context, instanceID string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.instances[instanceID]; ok {
		return inst, nil
	}

	// A mapped id that is not in memory means a known session that was
	// never loaded this run; rehydrate its device from the container.
	if jidStr, ok := m.mapping[instanceID]; ok {
		jid, err := types.ParseJID(jidStr)
		if err == nil {
			device, err := m.container.GetDevice(ctx, jid)
			if err == nil && device != nil {
				inst := m.newInstance(instanceID, device)
				inst.mu.Lock()
				inst.waNumber = jid.User
				inst.waName = device.PushName
				inst.mu.Unlock()
				m.instances[instanceID] = inst
				return inst, nil
			}
			log.Warn().Err(err).Str("instance", instanceID).Msg("Mapped device not found, creating fresh device")
		} else {
			log.Warn().Err(err).Str("instance", instanceID).Str("jid", jidStr).Msg("Invalid JID in session map")
		}
	}

	device := m.container.NewDevice()
	inst := m.newInstance(instanceID, device)
	m.instances[instanceID] = inst
	return inst, nil
}

func (m *Manager) newInstance(instanceID string, device *store.Device) *Instance {
	clientLog := waLog.Stdout("Client-"+instanceID, "INFO", true)
	client := whatsmeow.NewClient(device, clientLog)
	inst := &Instance{
		ID:     instanceID,
		Client: client,
		status: StatusDisconnected,
	}
	m.registerEventHandlers(inst)
	return inst
}

// Get returns an instance without creating one.
func (m *Manager) Get(instanceID string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[instanceID]
	return inst, ok
}

// List snapshots every registered instance.
func (m *Manager) List() []InstanceInfo {
	m.mu.RLock()
	instances := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		instances = append(instances, inst)
	}
	m.mu.RUnlock()

	out := make([]InstanceInfo, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Info())
	}
	return out
}

// Status reports the lifecycle state for an id. Unknown ids report
// StatusNotFound rather than an error.
func (m *Manager) Status(instanceID string) InstanceInfo {
	inst, ok := m.Get(instanceID)
	if !ok {
		return InstanceInfo{ID: instanceID, Status: StatusNotFound}
	}
	return inst.Info()
}

// Connect dials the transport for an instance, creating it first if
// needed. Connecting an already connected instance is a no-op.
func (m *Manager) Connect(ctx context.Context, instanceID string) (*Instance, error) {
	inst, err := m.GetOrCreate(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if inst.Status() == StatusConnected {
		return inst, nil
	}

	if inst.Settings().SyncFullHistory {
		store.DeviceProps.RequireFullSync = proto.Bool(true)
	}

	inst.setStatus(StatusConnecting)
	if err := inst.Client.Connect(); err != nil {
		inst.setStatus(StatusDisconnected)
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return inst, nil
}

// ConnectWithPairingCode starts phone-number pairing for an unpaired
// instance and returns the code formatted as XXXX-XXXX.
func (m *Manager) ConnectWithPairingCode(ctx context.Context, instanceID, phone string) (string, error) {
	inst, err := m.GetOrCreate(ctx, instanceID)
	if err != nil {
		return "", err
	}

	if inst.Status() == StatusConnected {
		return "", fmt.Errorf("%w: already connected", ErrAlreadyPaired)
	}
	if inst.paired() {
		return "", ErrAlreadyPaired
	}

	phone = CleanPhone(phone)
	log.Info().Str("instance", instanceID).Str("phone", phone).Msg("Starting pairing code flow")

	inst.setStatus(StatusPairing)

	if !inst.Client.IsConnected() {
		if err := inst.Client.Connect(); err != nil {
			inst.setStatus(StatusDisconnected)
			return "", fmt.Errorf("failed to connect: %w", err)
		}
	}

	// The socket needs to be live before PairPhone; give it a bounded
	// window to come up.
	deadline := time.Now().Add(pairWaitTimeout)
	for !inst.Client.IsConnected() {
		if time.Now().After(deadline) {
			inst.setStatus(StatusDisconnected)
			return "", fmt.Errorf("timed out waiting for transport")
		}
		time.Sleep(pairWaitPoll)
	}

	code, err := inst.Client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Mac OS)")
	if err != nil {
		inst.setStatus(StatusDisconnected)
		return "", fmt.Errorf("failed to get pairing code: %w", err)
	}

	formatted := code
	if len(code) == 8 {
		formatted = code[:4] + "-" + code[4:]
	}

	inst.mu.Lock()
	inst.pairingCode = formatted
	inst.mu.Unlock()

	log.Info().Str("instance", instanceID).Str("code", formatted).Msg("Pairing code generated")
	m.bus.Publish(bus.Event{
		Type:       bus.EventPairingCode,
		InstanceID: instanceID,
		Data:       map[string]string{"code": formatted},
	})
	return formatted, nil
}

// Disconnect tears the transport down and keeps the identity.
func (m *Manager) Disconnect(instanceID string) error {
	inst, ok := m.Get(instanceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	m.stopHeartbeat(inst)
	inst.Client.Disconnect()

	inst.mu.Lock()
	inst.status = StatusDisconnected
	inst.qrCode = ""
	inst.qrPNG = ""
	inst.pairingCode = ""
	inst.mu.Unlock()
	return nil
}

// Logout destroys the WhatsApp identity, removes the session mapping
// and drops the instance. Irreversible.
func (m *Manager) Logout(ctx context.Context, instanceID string) error {
	inst, ok := m.Get(instanceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}

	m.stopHeartbeat(inst)

	if err := inst.Client.Logout(ctx); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	inst.Client.Disconnect()

	if err := m.forgetMapping(ctx, instanceID); err != nil {
		return err
	}
	m.cache.Drop(instanceID)

	m.mu.Lock()
	delete(m.instances, instanceID)
	m.mu.Unlock()

	log.Info().Str("instance", instanceID).Msg("Instance logged out and removed")
	return nil
}

// DisconnectAll tears down every transport, for shutdown.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	instances := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		instances = append(instances, inst)
	}
	m.mu.RUnlock()

	for _, inst := range instances {
		m.stopHeartbeat(inst)
		inst.Client.Disconnect()
		inst.setStatus(StatusDisconnected)
	}
}

// RestoreAll reconnects every persisted session sequentially. Failures
// are logged and skipped so one broken session cannot block the rest.
func (m *Manager) RestoreAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.mapping))
	for id := range m.mapping {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	if len(ids) == 0 {
		return
	}
	log.Info().Int("sessions", len(ids)).Msg("Restoring sessions")

	for _, id := range ids {
		inst, err := m.GetOrCreate(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("instance", id).Msg("Failed to restore instance")
			continue
		}
		if !inst.paired() {
			log.Warn().Str("instance", id).Msg("Mapped instance has no device identity, skipping restore")
			continue
		}
		if _, err := m.Connect(ctx, id); err != nil {
			log.Error().Err(err).Str("instance", id).Msg("Failed to reconnect restored session")
			continue
		}
		log.Info().Str("instance", id).Msg("Session restored")
	}
}

// saveMapping persists one pairing durably and mirrors it in memory.
func (m *Manager) saveMapping(ctx context.Context, instanceID, jid string) error {
	if err := m.sessions.Set(ctx, instanceID, jid); err != nil {
		return fmt.Errorf("persisting session map: %w", err)
	}
	m.mu.Lock()
	m.mapping[instanceID] = jid
	m.mu.Unlock()
	return nil
}

func (m *Manager) forgetMapping(ctx context.Context, instanceID string) error {
	if err := m.sessions.Delete(ctx, instanceID); err != nil {
		return fmt.Errorf("removing session map entry: %w", err)
	}
	m.mu.Lock()
	delete(m.mapping, instanceID)
	m.mu.Unlock()
	return nil
}

// SetRejectCalls toggles automatic call rejection. Unknown ids no-op.
func (m *Manager) SetRejectCalls(instanceID string, value bool) {
	m.setSetting(instanceID, "rejectCalls", func(s *Settings) { s.RejectCalls = value })
}

// SetAlwaysOnline toggles the online presence keeper. Enabling it on a
// connected instance sends presence immediately and starts the
// heartbeat; disabling stops it.
func (m *Manager) SetAlwaysOnline(instanceID string, value bool) {
	inst, ok := m.Get(instanceID)
	if !ok {
		return
	}
	inst.mu.Lock()
	inst.settings.AlwaysOnline = value
	inst.mu.Unlock()
	log.Info().Str("instance", instanceID).Bool("alwaysOnline", value).Msg("Updated setting")

	if value && inst.Status() == StatusConnected {
		if err := inst.Client.SendPresence(context.Background(), types.PresenceAvailable); err != nil {
			log.Warn().Err(err).Str("instance", instanceID).Msg("Failed to send presence")
		}
		m.startHeartbeat(inst)
	} else if !value {
		m.stopHeartbeat(inst)
	}
}

// SetIgnoreGroups toggles group message processing.
func (m *Manager) SetIgnoreGroups(instanceID string, value bool) {
	m.setSetting(instanceID, "ignoreGroups", func(s *Settings) { s.IgnoreGroups = value })
}

// SetReadMessages toggles automatic read receipts.
func (m *Manager) SetReadMessages(instanceID string, value bool) {
	m.setSetting(instanceID, "readMessages", func(s *Settings) { s.ReadMessages = value })
}

// SetSyncFullHistory toggles full history sync for the next pairing.
func (m *Manager) SetSyncFullHistory(instanceID string, value bool) {
	m.setSetting(instanceID, "syncFullHistory", func(s *Settings) { s.SyncFullHistory = value })
}

func (m *Manager) setSetting(instanceID, name string, apply func(*Settings)) {
	inst, ok := m.Get(instanceID)
	if !ok {
		return
	}
	inst.mu.Lock()
	apply(&inst.settings)
	inst.mu.Unlock()
	log.Info().Str("instance", instanceID).Str("setting", name).Msg("Updated setting")
}

// Settings returns the current toggles for an instance.
func (m *Manager) Settings(instanceID string) (Settings, error) {
	inst, ok := m.Get(instanceID)
	if !ok {
		return Settings{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	return inst.Settings(), nil
}

// startHeartbeat keeps presence available while the instance stays
// connected and the setting stays on. Restarting replaces any previous
// heartbeat.
func (m *Manager) startHeartbeat(inst *Instance) {
	inst.mu.Lock()
	if inst.heartbeatStop != nil {
		close(inst.heartbeatStop)
	}
	stop := make(chan struct{})
	inst.heartbeatStop = stop
	inst.mu.Unlock()

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if inst.Status() != StatusConnected || !inst.Settings().AlwaysOnline {
					return
				}
				if err := inst.Client.SendPresence(context.Background(), types.PresenceAvailable); err != nil {
					log.Warn().Err(err).Str("instance", inst.ID).Msg("Presence heartbeat failed")
				}
			}
		}
	}()
}

func (m *Manager) stopHeartbeat(inst *Instance) {
	inst.mu.Lock()
	if inst.heartbeatStop != nil {
		close(inst.heartbeatStop)
		inst.heartbeatStop = nil
	}
	inst.mu.Unlock()
}

// CleanPhone strips formatting from a phone number, leaving digits only.
func CleanPhone(phone string) string {
	phone = strings.TrimPrefix(phone, "+")
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")
	return phone
}

// NormalizeChatJID cleans a phone-or-JID destination into a parseable
// JID string, defaulting bare numbers to the user server.
func NormalizeChatJID(dest string) string {
	dest = CleanPhone(dest)
	if !strings.Contains(dest, "@") {
		dest = dest + "@s.whatsapp.net"
	}
	return dest
}
