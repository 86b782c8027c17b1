package upstream

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BackoffPolicy computes retry delays. Pure apart from the jitter source.
type BackoffPolicy struct {
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	RateLimitMultiplier float64
	JitterFraction      float64

	mu   sync.Mutex
	rand *rand.Rand
	now  func() time.Time
}

func NewBackoffPolicy(baseDelay, maxDelay time.Duration) *BackoffPolicy {
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &BackoffPolicy{
		BaseDelay:           baseDelay,
		MaxDelay:            maxDelay,
		RateLimitMultiplier: 1.5,
		JitterFraction:      0.2,
		rand:                rand.New(rand.NewSource(time.Now().UnixNano())),
		now:                 time.Now,
	}
}

// Delay returns how long to wait before retry number attempt (0-based count
// of failures so far). A Retry-After header value, seconds or HTTP-date,
// takes precedence over the computed delay; everything is clamped to
// MaxDelay.
func (p *BackoffPolicy) Delay(attempt int, lastStatus int, retryAfter string) time.Duration {
	if explicit, ok := p.parseRetryAfter(retryAfter); ok {
		return p.clamp(explicit)
	}

	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if lastStatus == http.StatusTooManyRequests && p.RateLimitMultiplier > 1 {
		delay = time.Duration(float64(delay) * p.RateLimitMultiplier)
	}
	delay = p.clamp(delay)
	return p.clamp(delay + p.jitter(delay))
}

func (p *BackoffPolicy) clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p *BackoffPolicy) jitter(delay time.Duration) time.Duration {
	if p.JitterFraction <= 0 || delay <= 0 {
		return 0
	}
	span := time.Duration(float64(delay) * p.JitterFraction)
	if span <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rand == nil {
		p.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(p.rand.Int63n(int64(span) + 1))
}

func (p *BackoffPolicy) parseRetryAfter(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	when, err := http.ParseTime(header)
	if err != nil {
		return 0, false
	}
	nowFn := p.now
	if nowFn == nil {
		nowFn = time.Now
	}
	until := when.Sub(nowFn())
	if until < 0 {
		until = 0
	}
	return until, true
}
