// Package market provides a cached view of exchange open/closed state for the
// job scheduler and processor.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/sentinel-jobs/internal/jobs"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long a fetched snapshot is considered fresh.
const DefaultTTL = 5 * time.Minute

// ErrRefreshInProgress is returned by Refresh when another refresh is running.
var ErrRefreshInProgress = errors.New("market status refresh already in progress")

// Status is the reported state of one market.
type Status struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// IsOpen reports whether the status is OPEN (case-insensitive).
func (s Status) IsOpen() bool {
	return strings.EqualFold(strings.TrimSpace(s.Status), "OPEN")
}

// StatusSource fetches market statuses. market "*" requests every market.
type StatusSource interface {
	GetMarketStatus(ctx context.Context, market string) ([]Status, error)
}

// SymbolResolver maps a security symbol to the market it trades on.
type SymbolResolver interface {
	MarketForSymbol(symbol string) (string, bool)
}

// Checker caches market open/closed state and implements jobs.MarketChecker.
type Checker struct {
	source   StatusSource
	resolver SymbolResolver
	ttl      time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	markets   map[string]bool
	fetchedAt time.Time

	refreshing atomic.Bool
}

// NewChecker creates a checker. resolver may be nil; ttl <= 0 uses DefaultTTL.
func NewChecker(source StatusSource, resolver SymbolResolver, ttl time.Duration, log zerolog.Logger) *Checker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Checker{
		source:   source,
		resolver: resolver,
		ttl:      ttl,
		log:      log.With().Str("component", "market_checker").Logger(),
		now:      time.Now,
		markets:  make(map[string]bool),
	}
}

// Refresh fetches all market statuses and replaces the snapshot.
// A failed fetch keeps the previous snapshot.
func (c *Checker) Refresh(ctx context.Context) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer c.refreshing.Store(false)

	statuses, err := c.source.GetMarketStatus(ctx, "*")
	if err != nil {
		return fmt.Errorf("failed to fetch market status: %w", err)
	}

	markets := make(map[string]bool, len(statuses))
	open := 0
	for _, s := range statuses {
		if s.Name == "" {
			continue
		}
		markets[s.Name] = s.IsOpen()
		if markets[s.Name] {
			open++
		}
	}

	c.mu.Lock()
	c.markets = markets
	c.fetchedAt = c.now()
	c.mu.Unlock()

	c.log.Debug().
		Int("markets", len(markets)).
		Int("open", open).
		Msg("Market status refreshed")
	return nil
}

// EnsureFresh refreshes the snapshot when it is stale or was never fetched.
// A refresh already running elsewhere is not an error.
func (c *Checker) EnsureFresh(ctx context.Context) error {
	if !c.isStale() {
		return nil
	}
	err := c.Refresh(ctx)
	if errors.Is(err, ErrRefreshInProgress) {
		return nil
	}
	return err
}

func (c *Checker) isStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt.IsZero() || c.now().Sub(c.fetchedAt) >= c.ttl
}

// LastRefresh returns when the snapshot was last fetched.
func (c *Checker) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// IsAnyMarketOpen reports whether at least one market is open.
func (c *Checker) IsAnyMarketOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, open := range c.markets {
		if open {
			return true
		}
	}
	return false
}

// AreAllMarketsClosed reports whether no market is open.
// An empty snapshot counts as all closed.
func (c *Checker) AreAllMarketsClosed() bool {
	return !c.IsAnyMarketOpen()
}

// IsMarketOpen reports the cached state of one market. Unknown markets are closed.
func (c *Checker) IsMarketOpen(market string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.markets[market]
}

// IsSecurityMarketOpen reports whether the market of symbol is open.
// Symbols that cannot be resolved fall back to IsAnyMarketOpen.
func (c *Checker) IsSecurityMarketOpen(symbol string) bool {
	if c.resolver == nil {
		return c.IsAnyMarketOpen()
	}

	market, ok := c.resolver.MarketForSymbol(symbol)
	if !ok {
		return c.IsAnyMarketOpen()
	}

	c.mu.RLock()
	open, known := c.markets[market]
	c.mu.RUnlock()
	if !known {
		return c.IsAnyMarketOpen()
	}
	return open
}

var _ jobs.MarketChecker = (*Checker)(nil)
