package chargepoint

import (
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// IdTagEntry is one row of the authorization cache.
type IdTagEntry struct {
	IdTag       string                    `json:"idTag"`
	Status      types.AuthorizationStatus `json:"status"`
	ExpiryDate  *time.Time                `json:"expiryDate,omitempty"`
	ParentIdTag string                    `json:"parentIdTag,omitempty"`
}

// AuthorizationCache remembers the last idTagInfo seen per idTag. Entries are
// never evicted, they read as Expired once their expiry date has passed.
type AuthorizationCache struct {
	mu      sync.RWMutex
	entries map[string]IdTagEntry
	now     func() time.Time
}

func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{
		entries: make(map[string]IdTagEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for expiry checks.
func (c *AuthorizationCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Lookup returns the entry for idTag with its effective status.
func (c *AuthorizationCache) Lookup(idTag string) (IdTagEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[idTag]
	if !ok {
		return IdTagEntry{}, false
	}
	if entry.ExpiryDate != nil && c.now().After(*entry.ExpiryDate) {
		entry.Status = types.AuthorizationStatusExpired
	}
	return entry, true
}

// Update stores the idTagInfo returned by the Central System for idTag.
func (c *AuthorizationCache) Update(idTag string, info *types.IdTagInfo) {
	if info == nil {
		return
	}
	entry := IdTagEntry{
		IdTag:       idTag,
		Status:      info.Status,
		ParentIdTag: info.ParentIdTag,
	}
	if info.ExpiryDate != nil {
		expiry := info.ExpiryDate.Time
		entry.ExpiryDate = &expiry
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[idTag] = entry
}

// Clear drops every entry.
func (c *AuthorizationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]IdTagEntry)
}

func (c *AuthorizationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
