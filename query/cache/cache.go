// Package cache provides the short-lived stores used for cached row counts.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store is the narrow get/set/delete contract the record layer depends on.
// A zero ttl means no expiry.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration) bool
	Delete(key string) bool
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	Size      int
	MaxSize   int
	Evictions int64
}

// HitRate returns hits as a percentage of lookups
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// LRUCache is an in-memory Store with LRU eviction and per-entry TTL
type LRUCache struct {
	mu      sync.Mutex
	data    map[string]*cacheNode
	maxSize int
	head    *cacheNode
	tail    *cacheNode
	stats   Stats
	now     func() time.Time
}

// cacheNode represents a node in the doubly-linked list for LRU
type cacheNode struct {
	key       string
	value     any
	expiresAt time.Time
	prev      *cacheNode
	next      *cacheNode
}

// NewLRUCache creates a new LRU cache holding at most maxSize entries
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &LRUCache{
		data:    make(map[string]*cacheNode),
		maxSize: maxSize,
		stats:   Stats{MaxSize: maxSize},
		now:     time.Now,
	}
}

// Get retrieves a value from the cache
func (c *LRUCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.data[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if !node.expiresAt.IsZero() && c.now().After(node.expiresAt) {
		c.removeNode(node)
		c.stats.Misses++
		return nil, false
	}

	c.moveToFront(node)
	c.stats.Hits++
	return node.value, true
}

// Set stores a value in the cache
func (c *LRUCache) Set(key string, value any, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if node, exists := c.data[key]; exists {
		node.value = value
		node.expiresAt = expiresAt
		c.moveToFront(node)
		return true
	}

	if len(c.data) >= c.maxSize && c.tail != nil {
		c.removeNode(c.tail)
		c.stats.Evictions++
	}

	node := &cacheNode{key: key, value: value, expiresAt: expiresAt}
	c.addToFront(node)
	c.data[key] = node
	return true
}

// Delete removes a key and reports whether it was present
func (c *LRUCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.data[key]
	if ok {
		c.removeNode(node)
	}
	return ok
}

// DeletePattern removes all keys matching a pattern such as "count:users:*"
func (c *LRUCache) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*cacheNode
	for key, node := range c.data {
		if matchesPattern(key, pattern) {
			toRemove = append(toRemove, node)
		}
	}
	for _, node := range toRemove {
		c.removeNode(node)
	}
	return len(toRemove)
}

// Clear removes all entries and resets statistics
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]*cacheNode)
	c.head, c.tail = nil, nil
	c.stats = Stats{MaxSize: c.maxSize}
}

// GetStats returns cache statistics
func (c *LRUCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = len(c.data)
	return stats
}

func (c *LRUCache) addToFront(node *cacheNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *LRUCache) moveToFront(node *cacheNode) {
	if node == c.head {
		return
	}
	c.unlink(node)
	c.addToFront(node)
}

// unlink detaches node from the list without touching the map
func (c *LRUCache) unlink(node *cacheNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (c *LRUCache) removeNode(node *cacheNode) {
	c.unlink(node)
	delete(c.data, node.key)
}

// matchesPattern checks a colon-separated key against a pattern whose
// segments are literals or "*"; a trailing "*" matches any remainder.
func matchesPattern(key, pattern string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, ":")
	keyParts := strings.Split(key, ":")

	for i, part := range parts {
		if i == len(parts)-1 && part == "*" {
			return len(keyParts) >= len(parts)
		}
		if i >= len(keyParts) || (part != "*" && part != keyParts[i]) {
			return false
		}
	}
	return len(parts) == len(keyParts)
}

// Hash returns a short digest of a statement and its arguments
func Hash(sql string, args []any) string {
	hasher := sha256.New()
	hasher.Write([]byte(sql))
	for _, arg := range args {
		fmt.Fprintf(hasher, "\x00%T:%v", arg, arg)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:32]
}

// Key joins key segments with ":"
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
