package processor

import (
	"sync"
	"time"
)

// LookupFunc resolves a sender ID to a display name. ok is false when the
// name is unknown.
type LookupFunc func(senderID string) (name string, ok bool)

type cachedName struct {
	name     string
	cachedAt time.Time
}

// ContactCache is a TTL cache over a contact-name lookup. It returns
// (name, ok) and leaves the fallback choice to the caller.
type ContactCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	lookup LookupFunc
	names  map[string]cachedName

	now func() time.Time // test seam
}

// NewContactCache creates a cache over lookup with the given TTL.
func NewContactCache(ttl time.Duration, lookup LookupFunc) *ContactCache {
	return &ContactCache{
		ttl:    ttl,
		lookup: lookup,
		names:  make(map[string]cachedName),
		now:    time.Now,
	}
}

// Get returns the cached name for senderID, consulting the lookup on a
// miss or an expired entry. Failed lookups are not negatively cached, so a
// name becomes visible as soon as the transport learns it.
func (c *ContactCache) Get(senderID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.names[senderID]; ok && c.now().Sub(entry.cachedAt) < c.ttl {
		return entry.name, entry.name != ""
	}

	if c.lookup == nil {
		return "", false
	}
	name, ok := c.lookup(senderID)
	if !ok {
		return "", false
	}
	c.names[senderID] = cachedName{name: name, cachedAt: c.now()}
	return name, name != ""
}

// Put primes the cache, typically from names the transport pushes along
// with messages.
func (c *ContactCache) Put(senderID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[senderID] = cachedName{name: name, cachedAt: c.now()}
}
