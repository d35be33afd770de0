// Package session persists the instance-id to WhatsApp JID mapping, the
// only durable state this service owns. The device keys themselves live
// in whatsmeow's sqlstore.
package session

import "context"

// Store records which WhatsApp identity each instance is paired to.
// Mutations must be durable before they return.
type Store interface {
	// Load returns the full mapping. A store with no prior state returns
	// an empty map, not an error.
	Load(ctx context.Context) (map[string]string, error)
	// Set upserts the mapping for an instance. Idempotent.
	Set(ctx context.Context, instanceID, jid string) error
	// Delete removes the mapping for an instance. Deleting an absent
	// entry is not an error.
	Delete(ctx context.Context, instanceID string) error
}
