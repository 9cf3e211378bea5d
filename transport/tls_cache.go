package transport

import (
	"sync"
	"time"

	tls "github.com/sardanioss/utls"
)

// Session cache limits. One resolution talks to two or three hosts.
const (
	tlsSessionMaxAge  = 24 * time.Hour
	tlsSessionMaxSize = 64
)

// sessionCache implements tls.ClientSessionCache with an age limit and a
// size bound, evicting the oldest session when full
type sessionCache struct {
	mu       sync.Mutex
	sessions map[string]cachedSession
	maxAge   time.Duration
	maxSize  int
	now      func() time.Time
}

type cachedSession struct {
	state     *tls.ClientSessionState
	createdAt time.Time
}

func newSessionCache() *sessionCache {
	return &sessionCache{
		sessions: make(map[string]cachedSession),
		maxAge:   tlsSessionMaxAge,
		maxSize:  tlsSessionMaxSize,
		now:      time.Now,
	}
}

// Get implements tls.ClientSessionCache
func (c *sessionCache) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.sessions[sessionKey]
	if !ok {
		return nil, false
	}
	if c.now().Sub(cached.createdAt) > c.maxAge {
		delete(c.sessions, sessionKey)
		return nil, false
	}
	return cached.state, true
}

// Put implements tls.ClientSessionCache. A nil state removes the entry.
func (c *sessionCache) Put(sessionKey string, cs *tls.ClientSessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cs == nil {
		delete(c.sessions, sessionKey)
		return
	}
	if _, exists := c.sessions[sessionKey]; !exists && len(c.sessions) >= c.maxSize {
		c.evictOldest()
	}
	c.sessions[sessionKey] = cachedSession{state: cs, createdAt: c.now()}
}

func (c *sessionCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, s := range c.sessions {
		if oldestKey == "" || s.createdAt.Before(oldest) {
			oldestKey, oldest = k, s.createdAt
		}
	}
	delete(c.sessions, oldestKey)
}

// Len returns the number of cached sessions
func (c *sessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
