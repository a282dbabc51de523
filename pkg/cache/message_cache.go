// Package cache keeps recently seen messages so recall notices can show
// what was withdrawn.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCapacity = 500

// CachedMessage is the part of a message needed to report a recall.
type CachedMessage struct {
	ID       string
	Text     string
	UserID   int64
	GroupID  int64
	Time     time.Time
	Platform string
}

// MessageCache is a bounded, concurrency-safe store keyed by message id.
// Reads never refresh an entry, so eviction is oldest-insert first.
type MessageCache struct {
	entries *lru.Cache[string, CachedMessage]
	size    int
}

func New(capacity int) *MessageCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, CachedMessage](capacity)
	if err != nil {
		// Only possible for a non-positive size, ruled out above.
		panic(err)
	}
	return &MessageCache{entries: entries, size: capacity}
}

// Put stores msg unless it lacks an id or text. It reports whether an older
// entry was evicted to make room.
func (c *MessageCache) Put(msg CachedMessage) bool {
	if msg.ID == "" || msg.Text == "" {
		return false
	}
	return c.entries.Add(msg.ID, msg)
}

func (c *MessageCache) Get(id string) (CachedMessage, bool) {
	return c.entries.Peek(id)
}

func (c *MessageCache) Len() int {
	return c.entries.Len()
}

func (c *MessageCache) Capacity() int {
	return c.size
}

// IDs lists cached ids from oldest to newest.
func (c *MessageCache) IDs() []string {
	return c.entries.Keys()
}

func (c *MessageCache) Clear() {
	c.entries.Purge()
}
