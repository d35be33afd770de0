package whatsapp

import (
	"sync"

	"go.mau.fi/whatsmeow"
)

// Status is the lifecycle state of one instance.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusQR           Status = "qr"
	StatusPairing      Status = "pairing"
	StatusConnected    Status = "connected"
	// StatusNotFound is reported for ids that were never created.
	StatusNotFound Status = "not_found"
)

// Settings are per-instance behavior toggles, applied live.
type Settings struct {
	RejectCalls     bool `json:"rejectCalls"`
	AlwaysOnline    bool `json:"alwaysOnline"`
	IgnoreGroups    bool `json:"ignoreGroups"`
	ReadMessages    bool `json:"readMessages"`
	SyncFullHistory bool `json:"syncFullHistory"`
}

// ProxyConfig routes an instance's transport through a proxy.
type ProxyConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Protocol string `json:"protocol,omitempty"` // http, https, socks4, socks5
}

// Instance is one managed WhatsApp connection. All mutable state is
// guarded by mu; the Client pointer is set once at creation.
type Instance struct {
	ID     string
	Client *whatsmeow.Client

	mu          sync.RWMutex
	status      Status
	waNumber    string
	waName      string
	qrCode      string
	qrPNG       string
	pairingCode string
	settings    Settings
	proxy       ProxyConfig

	heartbeatStop chan struct{}
}

// InstanceInfo is a point-in-time snapshot safe to serialize.
type InstanceInfo struct {
	ID          string   `json:"id"`
	Status      Status   `json:"status"`
	WANumber    string   `json:"waNumber,omitempty"`
	WAName      string   `json:"waName,omitempty"`
	PairingCode string   `json:"pairingCode,omitempty"`
	Settings    Settings `json:"settings"`
}

func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	i.status = s
	i.mu.Unlock()
}

func (i *Instance) Settings() Settings {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.settings
}

// QRCode returns the raw pairing code and its rendered PNG data URL.
func (i *Instance) QRCode() (raw, png string) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.qrCode, i.qrPNG
}

func (i *Instance) Info() InstanceInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return InstanceInfo{
		ID:          i.ID,
		Status:      i.status,
		WANumber:    i.waNumber,
		WAName:      i.waName,
		PairingCode: i.pairingCode,
		Settings:    i.settings,
	}
}

// paired reports whether the device already holds a WhatsApp identity.
func (i *Instance) paired() bool {
	return i.Client != nil && i.Client.Store.ID != nil
}
