// Package msgcache keeps a bounded in-memory history of messages per
// instance and chat, feeding the chat listing and media re-download
// endpoints. Nothing here survives a restart.
package msgcache

import "sync"

// maxPerChat bounds the history kept for a single chat; the oldest
// entries are evicted first.
const maxPerChat = 500

// Message is a wire-ready representation of a sent or received message.
type Message struct {
	ID            string `json:"id"`
	ChatID        string `json:"chatId"`
	Sender        string `json:"sender"`
	To            string `json:"to,omitempty"`
	Body          string `json:"body"`
	Type          string `json:"type"`
	Timestamp     int64  `json:"timestamp"`
	FromMe        bool   `json:"fromMe"`
	IsGroup       bool   `json:"isGroup"`
	PushName      string `json:"pushName,omitempty"`
	ResolvedPhone string `json:"resolvedPhone,omitempty"`
	MediaBase64   string `json:"mediaBase64,omitempty"`
	MediaURL      string `json:"mediaUrl,omitempty"`
	Mimetype      string `json:"mimetype,omitempty"`
	Caption       string `json:"caption,omitempty"`
	FileName      string `json:"fileName,omitempty"`
}

// ChatSummary describes one chat with cached history.
type ChatSummary struct {
	ChatID       string   `json:"chatId"`
	MessageCount int      `json:"messageCount"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
}

type Cache struct {
	mu    sync.RWMutex
	chats map[string]map[string][]Message
}

func New() *Cache {
	return &Cache{chats: make(map[string]map[string][]Message)}
}

// Store appends msg to the chat history, evicting the oldest entries
// beyond the per-chat cap.
func (c *Cache) Store(instanceID, chatID string, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chats[instanceID] == nil {
		c.chats[instanceID] = make(map[string][]Message)
	}
	msgs := append(c.chats[instanceID][chatID], msg)
	if len(msgs) > maxPerChat {
		msgs = msgs[len(msgs)-maxPerChat:]
	}
	c.chats[instanceID][chatID] = msgs
}

// Messages returns up to limit of the most recent messages for a chat,
// oldest first. A non-positive limit returns everything cached.
func (c *Cache) Messages(instanceID, chatID string, limit int) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.chats[instanceID][chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Find returns the cached message with the given id within a chat.
func (c *Cache) Find(instanceID, chatID, messageID string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, msg := range c.chats[instanceID][chatID] {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return Message{}, false
}

// Chats lists every chat with cached history for an instance.
func (c *Cache) Chats(instanceID string) []ChatSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChatSummary, 0, len(c.chats[instanceID]))
	for chatID, msgs := range c.chats[instanceID] {
		summary := ChatSummary{ChatID: chatID, MessageCount: len(msgs)}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			summary.LastMessage = &last
		}
		out = append(out, summary)
	}
	return out
}

// Drop forgets all cached history for an instance.
func (c *Cache) Drop(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chats, instanceID)
}
