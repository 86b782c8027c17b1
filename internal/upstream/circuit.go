package upstream

import (
	"sync"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker isolates one logical upstream service. Closed until
// FailureThreshold consecutive failures, then open for Cooldown, then a
// single trial call is allowed; its outcome decides between closed and a
// fresh open interval.
type CircuitBreaker struct {
	service          string
	failureThreshold int
	cooldown         time.Duration
	logger           Logger

	mu        sync.Mutex
	state     circuitState
	failures  int
	openUntil time.Time
	trialing  bool
	now       func() time.Time
}

type CircuitBreakerOptions struct {
	Service          string
	FailureThreshold int
	Cooldown         time.Duration
	Logger           Logger
	Now              func() time.Time
}

func NewCircuitBreaker(opts CircuitBreakerOptions) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	service := opts.Service
	if service == "" {
		service = "upstream"
	}
	return &CircuitBreaker{
		service:          service,
		failureThreshold: opts.FailureThreshold,
		cooldown:         opts.Cooldown,
		logger:           opts.Logger,
		now:              now,
	}
}

// Allow reports whether a call may proceed. While open it returns a
// CircuitOpenError without any network attempt; once the cooldown has
// elapsed exactly one caller is admitted as the half-open trial.
func (b *CircuitBreaker) Allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case circuitClosed:
		return nil
	case circuitOpen:
		if b.now().Before(b.openUntil) {
			return &CircuitOpenError{Service: b.service, OpenUntil: b.openUntil}
		}
		b.state = circuitHalfOpen
		b.trialing = true
		b.logf("circuit %s: open -> half_open", b.service)
		return nil
	default: // half open
		if b.trialing {
			return &CircuitOpenError{Service: b.service, OpenUntil: b.openUntil}
		}
		b.trialing = true
		return nil
	}
}

func (b *CircuitBreaker) RecordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != circuitClosed {
		b.logf("circuit %s: %s -> closed", b.service, b.state)
	}
	b.state = circuitClosed
	b.failures = 0
	b.trialing = false
}

func (b *CircuitBreaker) RecordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == circuitHalfOpen {
		b.trip()
		return
	}
	b.failures++
	if b.failures >= b.failureThreshold {
		b.trip()
	}
}

// State reports the current state name for observability surfaces.
func (b *CircuitBreaker) State() string {
	if b == nil {
		return circuitClosed.String()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == circuitOpen && !b.now().Before(b.openUntil) {
		return circuitHalfOpen.String()
	}
	return b.state.String()
}

func (b *CircuitBreaker) trip() {
	b.state = circuitOpen
	b.failures = 0
	b.trialing = false
	b.openUntil = b.now().Add(b.cooldown)
	b.logf("circuit %s: open until %s", b.service, b.openUntil.UTC().Format(time.RFC3339))
}

func (b *CircuitBreaker) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}
