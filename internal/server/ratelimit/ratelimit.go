package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const window = time.Minute

type RateLimiter struct {
	connections  map[string]int         // IP -> connection count
	joinAttempts map[string][]time.Time // IP -> timestamps of join attempts
	mu           sync.RWMutex
	maxConns     int
	maxJoins     int
	now          func() time.Time
	stop         chan struct{}
	stopOnce     sync.Once
}

// New starts a limiter allowing maxConns concurrent connections and maxJoins
// join attempts per minute from one IP. Call Close to stop its cleanup loop.
func New(maxConns, maxJoins int) *RateLimiter {
	rl := &RateLimiter{
		connections:  make(map[string]int),
		joinAttempts: make(map[string][]time.Time),
		maxConns:     maxConns,
		maxJoins:     maxJoins,
		now:          time.Now,
		stop:         make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanup()
			case <-rl.stop:
				return
			}
		}
	}()

	return rl
}

func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) Limits() (maxConns, maxJoins int) {
	return rl.maxConns, rl.maxJoins
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-window)
	for ip, attempts := range rl.joinAttempts {
		valid := recent(attempts, cutoff)
		if len(valid) == 0 {
			delete(rl.joinAttempts, ip)
		} else {
			rl.joinAttempts[ip] = valid
		}
	}
}

func recent(attempts []time.Time, cutoff time.Time) []time.Time {
	var valid []time.Time
	for _, t := range attempts {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

func (rl *RateLimiter) CanConnect(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.connections[ip] < rl.maxConns
}

func (rl *RateLimiter) AddConnection(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.connections[ip]++
}

func (rl *RateLimiter) RemoveConnection(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.connections[ip]--
	if rl.connections[ip] <= 0 {
		delete(rl.connections, ip)
	}
}

// CanJoin records a join attempt and reports whether it is within the limit.
func (rl *RateLimiter) CanJoin(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	attempts := recent(rl.joinAttempts[ip], now.Add(-window))
	if len(attempts) >= rl.maxJoins {
		rl.joinAttempts[ip] = attempts
		return false
	}

	rl.joinAttempts[ip] = append(attempts, now)
	return true
}

func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (for reverse proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}
