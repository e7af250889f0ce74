package messages

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// SendLimiter keeps one token bucket per sender.
type SendLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	senders map[uuid.UUID]*senderEntry
	now     func() time.Time
}

type senderEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSendLimiter allows perMinute sends per sender with the given burst.
// A non-positive perMinute disables limiting.
func NewSendLimiter(perMinute, burst int) *SendLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	return &SendLimiter{
		limit:   limit,
		burst:   burst,
		senders: map[uuid.UUID]*senderEntry{},
		now:     time.Now,
	}
}

// Allow consumes one token for sender and reports whether the send may proceed.
func (l *SendLimiter) Allow(sender uuid.UUID) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	now := l.now()
	entry, ok := l.senders[sender]
	if !ok {
		entry = &senderEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.senders[sender] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// Prune drops senders idle longer than the TTL and returns how many remain.
func (l *SendLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-limiterIdleTTL)
	for key, entry := range l.senders {
		if entry.lastSeen.Before(cutoff) {
			delete(l.senders, key)
		}
	}
	return len(l.senders)
}
