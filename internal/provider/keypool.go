package provider

import (
	"errors"
	"sync"
	"time"
)

// ErrNoUsableKey is returned when every credential in the pool is cooling
// down after a rate limit.
var ErrNoUsableKey = errors.New("no usable credential in pool")

// KeyPool hands out API credentials round-robin and tracks rate-limit
// cooldowns per key. Safe for concurrent use by page workers.
type KeyPool struct {
	mu       sync.Mutex
	keys     []string
	next     int
	cooldown time.Duration
	until    map[string]time.Time
	now      func() time.Time
}

// NewKeyPool builds a pool over the given credentials. cooldown is how
// long a rate-limited key sits out before it is handed out again.
func NewKeyPool(keys []string, cooldown time.Duration) *KeyPool {
	return &KeyPool{
		keys:     keys,
		cooldown: cooldown,
		until:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// Size returns the number of credentials in the pool.
func (p *KeyPool) Size() int {
	return len(p.keys)
}

// Next returns the next credential in rotation, skipping keys that are
// cooling down. With every key cooling down it returns ErrNoUsableKey and
// the shortest remaining cooldown, so the caller can wait instead of spin.
func (p *KeyPool) Next() (string, time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", 0, ErrNoUsableKey
	}

	now := p.now()
	var soonest time.Duration = -1
	for i := 0; i < len(p.keys); i++ {
		key := p.keys[p.next]
		p.next = (p.next + 1) % len(p.keys)
		deadline, cooling := p.until[key]
		if !cooling || now.After(deadline) {
			delete(p.until, key)
			return key, 0, nil
		}
		if wait := deadline.Sub(now); soonest < 0 || wait < soonest {
			soonest = wait
		}
	}
	return "", soonest, ErrNoUsableKey
}

// MarkRateLimited puts key on cooldown. No-op for keys the pool does not
// own.
func (p *KeyPool) MarkRateLimited(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.keys {
		if k == key {
			p.until[key] = p.now().Add(p.cooldown)
			return
		}
	}
}
