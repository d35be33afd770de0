package whatsapp

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// proxyReconnectDelay separates the transport teardown from the redial
// when a proxy change is applied live.
const proxyReconnectDelay = 1 * time.Second

// SetProxy stores the proxy configuration and applies it to the client.
// A connected instance is reconnected asynchronously so the new route
// takes effect.
func (m *Manager) SetProxy(instanceID string, cfg ProxyConfig) error {
	inst, ok := m.Get(instanceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}

	inst.mu.Lock()
	inst.proxy = cfg
	status := inst.status
	inst.mu.Unlock()

	proxyURL := buildProxyURL(cfg)
	inst.Client.SetProxyAddress(proxyURL)
	if proxyURL != "" {
		log.Info().Str("instance", instanceID).Str("proxy", cfg.Host+":"+cfg.Port).Msg("Proxy configured")
	} else {
		log.Info().Str("instance", instanceID).Msg("Proxy disabled")
	}

	if status == StatusConnected {
		go func() {
			inst.Client.Disconnect()
			time.Sleep(proxyReconnectDelay)
			if err := inst.Client.Connect(); err != nil {
				log.Error().Err(err).Str("instance", instanceID).Msg("Failed to reconnect after proxy change")
			}
		}()
	}
	return nil
}

// Proxy returns the stored proxy configuration without the password.
func (m *Manager) Proxy(instanceID string) (ProxyConfig, error) {
	inst, ok := m.Get(instanceID)
	if !ok {
		return ProxyConfig{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	cfg := inst.proxy
	cfg.Password = ""
	return cfg, nil
}

// CheckProxyIP probes the egress IP through the configured proxy.
func (m *Manager) CheckProxyIP(instanceID string) (string, error) {
	inst, ok := m.Get(instanceID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}

	inst.mu.RLock()
	cfg := inst.proxy
	inst.mu.RUnlock()

	transport := &http.Transport{}
	if proxyURL := buildProxyURL(cfg); proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return "", fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}
	resp, err := client.Get("https://api.ipify.org")
	if err != nil {
		return "", fmt.Errorf("failed to check IP: %w", err)
	}
	defer resp.Body.Close()

	ip, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read IP response: %w", err)
	}
	return string(ip), nil
}

// buildProxyURL assembles a proxy URL, defaulting to socks5. Empty host
// or port disables the proxy.
func buildProxyURL(cfg ProxyConfig) string {
	if cfg.Host == "" || cfg.Port == "" {
		return ""
	}
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "socks5"
	}
	if cfg.Username != "" && cfg.Password != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%s", protocol, cfg.Username, cfg.Password, cfg.Host, cfg.Port)
	}
	return fmt.Sprintf("%s://%s:%s", protocol, cfg.Host, cfg.Port)
}
