package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/linetrace/simulator/internal/agent"
)

const (
	DefaultSize = 256
	DefaultTTL  = 10 * time.Minute
)

// RemovedAgent is the last snapshot of an agent that left the world.
type RemovedAgent struct {
	Snapshot agent.Snapshot `json:"snapshot"`
	Reason   string         `json:"reason"`
	Tick     uint64         `json:"tick"`
	Age      uint64         `json:"age"`
}

// AgentCache remembers recently removed agents so status lookups still
// answer after the world has dropped them. Entries expire after the TTL and
// the oldest are evicted beyond the size limit.
type AgentCache struct {
	removed *expirable.LRU[int, RemovedAgent]
	// nickname -> agent IDs, in spawn order
	names map[string][]int
	mu    sync.Mutex
}

func NewAgentCache(size int, ttl time.Duration) *AgentCache {
	if size <= 0 {
		size = DefaultSize
	}
	return &AgentCache{
		removed: expirable.NewLRU[int, RemovedAgent](size, nil, ttl),
		names:   make(map[string][]int),
	}
}

// AddSpawned indexes a new agent by nickname.
func (c *AgentCache) AddSpawned(s agent.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[s.Nickname] = append(c.names[s.Nickname], s.ID)
}

// AddRemoved stores the final snapshot of an agent.
func (c *AgentCache) AddRemoved(r RemovedAgent) {
	c.removed.Add(r.Snapshot.ID, r)
}

func (c *AgentCache) GetRemoved(id int) (RemovedAgent, bool) {
	return c.removed.Get(id)
}

// IDsByNickname returns every agent ID spawned under a nickname.
func (c *AgentCache) IDsByNickname(nickname string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.names[nickname]
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}

// Len is the number of removed agents currently held.
func (c *AgentCache) Len() int {
	return c.removed.Len()
}

func (c *AgentCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed.Purge()
	c.names = make(map[string][]int)
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}
