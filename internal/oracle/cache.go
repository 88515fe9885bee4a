package oracle

import (
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// PriceUpdate is one observation from the upstream feed.
type PriceUpdate struct {
	Price     *uint256.Int `json:"price"`
	Sequence  int64        `json:"sequence"`
	Timestamp int64        `json:"timestamp"` // unix seconds
}

// UpdateOutcome says what FeedCache.Update did with an observation.
type UpdateOutcome uint8

const (
	OutcomeAccepted UpdateOutcome = iota
	OutcomeAcceptedWithGap
	OutcomeStale
	OutcomeRejected
)

func (o UpdateOutcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeAcceptedWithGap:
		return "gap"
	case OutcomeStale:
		return "stale"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// FeedCache keeps the newest price from a sequenced feed. Older or repeated
// sequences are ignored; gaps are tolerated and counted. GetPrice refuses a
// price older than maxAge. A zero maxAge disables the age check.
type FeedCache struct {
	mu      sync.RWMutex
	latest  *PriceUpdate
	maxAge  time.Duration
	now     func() time.Time
	gaps    int64
	metrics *observability.Metrics
}

type CacheOption func(*FeedCache)

// WithClock replaces time.Now for the age check.
func WithClock(now func() time.Time) CacheOption {
	return func(c *FeedCache) { c.now = now }
}

func WithMetrics(m *observability.Metrics) CacheOption {
	return func(c *FeedCache) { c.metrics = m }
}

func NewFeedCache(maxAge time.Duration, opts ...CacheOption) *FeedCache {
	c := &FeedCache{
		maxAge: maxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update offers an observation to the cache.
func (c *FeedCache) Update(u PriceUpdate) (UpdateOutcome, error) {
	if u.Price == nil || u.Price.IsZero() {
		c.record(OutcomeRejected.String())
		return OutcomeRejected, fmt.Errorf("%w: sequence %d", ErrZeroPrice, u.Sequence)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	outcome := OutcomeAccepted
	if c.latest != nil {
		expected := c.latest.Sequence + 1
		switch {
		case u.Sequence < expected:
			c.record(OutcomeStale.String())
			return OutcomeStale, nil
		case u.Sequence > expected:
			c.gaps++
			outcome = OutcomeAcceptedWithGap
			if c.metrics != nil {
				c.metrics.PriceGaps.Inc()
			}
		}
	}

	c.latest = &PriceUpdate{Price: u.Price.Clone(), Sequence: u.Sequence, Timestamp: u.Timestamp}
	c.record(outcome.String())
	if c.metrics != nil {
		c.metrics.LastPrice.Set(fpmath.ToFloat(u.Price))
		c.metrics.PriceTimestamp.Set(float64(u.Timestamp))
	}
	return outcome, nil
}

func (c *FeedCache) record(outcome string) {
	if c.metrics != nil {
		c.metrics.PriceUpdates.WithLabelValues(outcome).Inc()
	}
}

// GetPrice returns the newest price.
func (c *FeedCache) GetPrice() (*uint256.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.latest == nil {
		return nil, ErrNoPrice
	}
	if c.maxAge > 0 {
		age := c.now().Sub(time.Unix(c.latest.Timestamp, 0))
		if age > c.maxAge {
			return nil, fmt.Errorf("%w: sequence %d is %s old", ErrStalePrice, c.latest.Sequence, age.Truncate(time.Second))
		}
	}
	return c.latest.Price.Clone(), nil
}

// Latest returns the newest observation regardless of age.
func (c *FeedCache) Latest() (PriceUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return PriceUpdate{}, false
	}
	return PriceUpdate{Price: c.latest.Price.Clone(), Sequence: c.latest.Sequence, Timestamp: c.latest.Timestamp}, true
}

// Gaps returns how many accepted updates skipped sequence numbers.
func (c *FeedCache) Gaps() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gaps
}

// Restore seeds the cache, e.g. from the last persisted price.
func (c *FeedCache) Restore(u PriceUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = &PriceUpdate{Price: u.Price.Clone(), Sequence: u.Sequence, Timestamp: u.Timestamp}
}
