package bot

import (
	"sync"
	"time"

	"moviebot/internal/clock"

	"golang.org/x/time/rate"
)

const (
	throttleIdleTTL = 10 * time.Minute
	throttleGCEvery = 1000
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// throttle token bucket на каждый чат. Простаивающие чаты вычищаются
// попутно, раз в throttleGCEvery проверок.
type throttle struct {
	rps   rate.Limit
	burst int
	clock clock.Clock

	mu       sync.Mutex
	visitors map[int64]*visitor
	checks   int
}

// newThrottle rps <= 0 отключает ограничение.
func newThrottle(rps float64, burst int, c clock.Clock) *throttle {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &throttle{
		rps:      rate.Limit(rps),
		burst:    burst,
		clock:    c,
		visitors: make(map[int64]*visitor),
	}
}

// Allow расходует токен чата. nil-throttle пропускает всё.
func (t *throttle) Allow(chatID int64) bool {
	if t == nil {
		return true
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.checks++
	if t.checks >= throttleGCEvery {
		for id, v := range t.visitors {
			if now.Sub(v.lastSeen) >= throttleIdleTTL {
				delete(t.visitors, id)
			}
		}
		t.checks = 0
	}

	v, ok := t.visitors[chatID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[chatID] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (t *throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visitors)
}
