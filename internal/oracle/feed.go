package oracle

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
)

var (
	ErrNoPrice    = errors.New("oracle: no price available")
	ErrStalePrice = errors.New("oracle: price is older than the allowed age")
	ErrZeroPrice  = errors.New("oracle: price must be greater than zero")
)

// FixedPriceFeed returns whatever price was last set. Used by tests and by
// the dev binary when no feed is configured.
type FixedPriceFeed struct {
	mu    sync.RWMutex
	price *uint256.Int
}

func NewFixedPriceFeed(price *uint256.Int) *FixedPriceFeed {
	f := &FixedPriceFeed{}
	if price != nil {
		f.price = price.Clone()
	}
	return f
}

func (f *FixedPriceFeed) Set(price *uint256.Int) {
	f.mu.Lock()
	f.price = price.Clone()
	f.mu.Unlock()
}

func (f *FixedPriceFeed) GetPrice() (*uint256.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, ErrNoPrice
	}
	if f.price.IsZero() {
		return nil, ErrZeroPrice
	}
	return f.price.Clone(), nil
}
