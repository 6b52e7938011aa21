// Package dedup remembers packet fingerprints for loop suppression.
package dedup

import (
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/hashicorp/golang-lru/simplelru"

	"allnetd/internal/crypto"
	"allnetd/internal/packet"
)

const (
	DefaultWindow   = 60 * time.Second
	DefaultCapacity = 4096
)

// Cache maps content fingerprints to the time they were last observed.
// Observing an entry makes it the newest, so capacity eviction drops the
// fingerprint seen longest ago. It is owned by the forwarding loop and is not
// safe for concurrent use.
type Cache struct {
	window  time.Duration
	clock   mclock.Clock
	entries *simplelru.LRU
}

func New(capacity int, window time.Duration, clock mclock.Clock) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = mclock.System{}
	}
	entries, err := simplelru.NewLRU(capacity, nil)
	if err != nil {
		panic(err)
	}
	return &Cache{window: window, clock: clock, entries: entries}
}

// Observe fingerprints data past the per-hop header region, records the
// current time for it and returns how long ago it was previously observed.
// seen is false the first time a fingerprint is observed.
func (c *Cache) Observe(data []byte) (age time.Duration, seen bool) {
	key := Fingerprint(data)
	now := c.clock.Now()
	if v, ok := c.entries.Get(key); ok {
		age = time.Duration(now - v.(mclock.AbsTime))
		seen = true
	}
	c.entries.Add(key, now)
	return age, seen
}

// IsDuplicate applies the suppression window to an Observe result. Entries
// older than the window are stale and never count.
func (c *Cache) IsDuplicate(age time.Duration, seen bool) bool {
	return seen && age >= 0 && age < c.window
}

func (c *Cache) Window() time.Duration {
	return c.window
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// Fingerprint digests everything after the hop region, so the same packet
// arriving with a different hop count has the same identity.
func Fingerprint(data []byte) [32]byte {
	if len(data) <= packet.HopRegion {
		return crypto.Fingerprint(nil)
	}
	return crypto.Fingerprint(data[packet.HopRegion:])
}
