package suite

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// pacerFloorRatio bounds how far a Pacer slows down, relative to its
	// configured rate.
	pacerFloorRatio = 0.1
	// pacerAlpha weights the newest response time in the moving average.
	pacerAlpha = 0.2
	// pacerRecovery is the per-response speedup when the site is fast.
	pacerRecovery = 1.1
	// pacerMaxDrop caps the slowdown from a single response.
	pacerMaxDrop = 0.5
)

// Pacer is a rate limiter that slows down when a site answers slower than
// a target response time and recovers toward its configured rate when it
// answers faster. The configured rate is a ceiling, never exceeded.
type Pacer struct {
	limiter *rate.Limiter
	target  time.Duration

	mu      sync.Mutex
	ceiling float64
	current float64
	avg     time.Duration
}

// NewPacer returns a Pacer allowing up to rps requests per second. A
// non-positive rps means unlimited, in which case Observe is a no-op.
func NewPacer(rps float64, target time.Duration) *Pacer {
	if rps <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(rps), burst(rps)),
		target:  target,
		ceiling: rps,
		current: rps,
		avg:     target,
	}
}

// Wait blocks until the next request may be sent.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Observe feeds one response time into the moving average and adjusts the
// rate.
func (p *Pacer) Observe(rtt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ceiling == 0 || p.target <= 0 {
		return
	}

	p.avg = time.Duration(pacerAlpha*float64(rtt) + (1-pacerAlpha)*float64(p.avg))
	ratio := float64(p.target) / float64(max(p.avg, time.Nanosecond))

	next := p.current * pacerRecovery
	if ratio < 1 {
		next = max(p.current*ratio, p.current*pacerMaxDrop)
	}
	next = min(max(next, p.ceiling*pacerFloorRatio), p.ceiling)

	if math.Abs(next-p.current) > 0.01 {
		p.current = next
		p.limiter.SetLimit(rate.Limit(next))
		p.limiter.SetBurst(burst(next))
	}
}

// Rate returns the current requests per second, 0 when unlimited.
func (p *Pacer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func burst(rps float64) int {
	return max(1, int(math.Ceil(rps)))
}
