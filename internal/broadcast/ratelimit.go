package broadcast

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// connLimiter throttles new downstream connection attempts, protecting the
// repeater from a connection flood. Two levels: a global token bucket
// system-wide, and a per-IP bucket so one noisy client can't starve out
// everyone else's burst allowance.
type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type connLimiter struct {
	global *rate.Limiter

	mu    sync.Mutex
	byIP  map[string]*ipLimiterEntry
	ipRPS float64
	ipBrs int
}

const ipLimiterTTL = 5 * time.Minute

func newConnLimiter(globalRPS float64, globalBurst int, ipRPS float64, ipBurst int) *connLimiter {
	return &connLimiter{
		global: rate.NewLimiter(rate.Limit(globalRPS), globalBurst),
		byIP:   make(map[string]*ipLimiterEntry),
		ipRPS:  ipRPS,
		ipBrs:  ipBurst,
	}
}

// allow reports whether a new connection from addr may proceed.
func (l *connLimiter) allow(addr net.Addr) bool {
	if !l.global.Allow() {
		return false
	}
	return l.ipLimiter(hostOf(addr)).Allow()
}

func (l *connLimiter) ipLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.byIP[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(rate.Limit(l.ipRPS), l.ipBrs)}
		l.byIP[ip] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter
}

// runCleanup periodically drops per-IP limiters that haven't been touched
// in ipLimiterTTL, so a long-running process doesn't accumulate one entry
// per distinct client IP forever.
func (l *connLimiter) runCleanup(done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-ipLimiterTTL)
			l.mu.Lock()
			for ip, entry := range l.byIP {
				if entry.lastAccess.Before(cutoff) {
					delete(l.byIP, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
