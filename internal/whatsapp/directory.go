package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow/types"
)

// ContactInfo is one entry from the device contact store.
type ContactInfo struct {
	JID      string `json:"jid"`
	Name     string `json:"name,omitempty"`
	PushName string `json:"pushName,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// ChatInfo is a known conversation partner.
type ChatInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsGroup  bool   `json:"isGroup"`
	PushName string `json:"pushName,omitempty"`
}

// GroupInfo is a joined group.
type GroupInfo struct {
	JID         string `json:"jid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CheckNumberResult is the answer to a registration lookup.
type CheckNumberResult struct {
	Number       string `json:"number"`
	IsOnWhatsApp bool   `json:"isOnWhatsApp"`
	JID          string `json:"jid,omitempty"`
}

// ResolvedContact is contact info with lid resolution applied.
type ResolvedContact struct {
	OriginalJID   string `json:"originalJid"`
	ResolvedPhone string `json:"resolvedPhone,omitempty"`
	PushName      string `json:"pushName,omitempty"`
	FullName      string `json:"fullName,omitempty"`
	IsLID         bool   `json:"isLid"`
	Resolved      bool   `json:"resolved"`
}

// Contacts lists every contact known to the device store.
func (m *Manager) Contacts(ctx context.Context, instanceID string) ([]ContactInfo, error) {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return nil, err
	}

	contacts := make([]ContactInfo, 0)
	if inst.Client.Store != nil && inst.Client.Store.Contacts != nil {
		all, err := inst.Client.Store.Contacts.GetAllContacts(ctx)
		if err != nil {
			log.Warn().Err(err).Str("instance", instanceID).Msg("Failed to read contact store")
		} else {
			for jid, contact := range all {
				contacts = append(contacts, ContactInfo{
					JID:      jid.String(),
					Name:     contact.FullName,
					PushName: contact.PushName,
					Phone:    jid.User,
				})
			}
		}
	}
	return contacts, nil
}

// Chats lists conversation partners from the device contact store.
func (m *Manager) Chats(ctx context.Context, instanceID string) ([]ChatInfo, error) {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return nil, err
	}

	chats := make([]ChatInfo, 0)
	if inst.Client.Store != nil && inst.Client.Store.Contacts != nil {
		all, err := inst.Client.Store.Contacts.GetAllContacts(ctx)
		if err != nil {
			log.Warn().Err(err).Str("instance", instanceID).Msg("Failed to read contact store")
		} else {
			for jid, contact := range all {
				name := contact.FullName
				if name == "" {
					name = contact.PushName
				}
				if name == "" {
					name = jid.User
				}
				chats = append(chats, ChatInfo{
					ID:       jid.String(),
					Name:     name,
					IsGroup:  jid.Server == types.GroupServer,
					PushName: contact.PushName,
				})
			}
		}
	}
	return chats, nil
}

// Groups lists the groups the instance has joined.
func (m *Manager) Groups(ctx context.Context, instanceID string) ([]GroupInfo, error) {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return nil, err
	}

	groups := make([]GroupInfo, 0)
	joined, err := inst.Client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get joined groups: %w", err)
	}
	for _, group := range joined {
		groups = append(groups, GroupInfo{
			JID:         group.JID.String(),
			Name:        group.Name,
			Description: group.Topic,
		})
	}
	return groups, nil
}

// CheckNumber asks the server whether a phone number has an account.
func (m *Manager) CheckNumber(ctx context.Context, instanceID, number string) (*CheckNumberResult, error) {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return nil, err
	}

	number = CleanPhone(number)
	result, err := inst.Client.IsOnWhatsApp(ctx, []string{number})
	if err != nil {
		return nil, fmt.Errorf("failed to check number: %w", err)
	}
	if len(result) == 0 {
		return &CheckNumberResult{Number: number}, nil
	}
	return &CheckNumberResult{
		Number:       number,
		IsOnWhatsApp: result[0].IsIn,
		JID:          result[0].JID.String(),
	}, nil
}

// ContactDetail reads contact data from the device store and resolves
// lid identifiers to phone numbers when the mapping is known.
func (m *Manager) ContactDetail(ctx context.Context, instanceID, jidStr string) (*ResolvedContact, error) {
	inst, err := m.connectedInstance(instanceID)
	if err != nil {
		return nil, err
	}

	jid, err := types.ParseJID(NormalizeChatJID(jidStr))
	if err != nil {
		return nil, fmt.Errorf("invalid JID: %w", err)
	}

	result := &ResolvedContact{
		OriginalJID: jidStr,
		IsLID:       strings.HasSuffix(jidStr, "@lid"),
	}

	if inst.Client.Store != nil && inst.Client.Store.Contacts != nil {
		if contact, err := inst.Client.Store.Contacts.GetContact(ctx, jid); err == nil {
			result.FullName = contact.FullName
			result.PushName = contact.PushName
		}
	}

	if result.IsLID {
		if inst.Client.Store != nil && inst.Client.Store.LIDs != nil {
			if pn, err := inst.Client.Store.LIDs.GetPNForLID(ctx, jid); err == nil && pn.User != "" {
				result.ResolvedPhone = pn.User
				result.Resolved = true
			}
		}
	} else {
		result.ResolvedPhone = jid.User
		result.Resolved = true
	}
	return result, nil
}
