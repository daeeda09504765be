package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter applies a per-remote token bucket to beacon ingestion.
// Entries idle past the stale window are evicted to bound memory.
type rateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	remotes map[string]*remoteLimiter
}

type remoteLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const staleRemoteAfter = 10 * time.Minute

func newRateLimiter(perSec float64, burst int) *rateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limit:   rate.Limit(perSec),
		burst:   burst,
		remotes: make(map[string]*remoteLimiter),
	}
}

// allow reports whether the remote may submit another beacon now.
func (rl *rateLimiter) allow(remote string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.remotes[remote]
	if !ok {
		entry = &remoteLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.remotes[remote] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

// sweep drops remotes not seen within the stale window.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-staleRemoteAfter)
	for remote, entry := range rl.remotes {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.remotes, remote)
		}
	}
}

// remoteKey extracts the client host from a request, ignoring the port
// so reconnects share a bucket.
func remoteKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
