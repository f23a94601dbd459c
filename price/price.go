// Package price looks up the USD spot price of the native asset.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/types"
)

const (
	DefaultFeedURL = "https://api.coinbase.com/v2/prices/ETH-USD/spot"
	DefaultTTL     = 60 * time.Second
)

// Source returns the current USD price of one ETH.
type Source interface {
	USDPerETH(ctx context.Context) (decimal.Decimal, error)
}

// HTTPSource reads a Coinbase style spot price document:
//
//	{"data": {"base": "ETH", "currency": "USD", "amount": "3012.45"}}
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if url == "" {
		url = DefaultFeedURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{url: url, client: client}
}

type spotResponse struct {
	Data struct {
		Amount string `json:"amount"`
	} `json:"data"`
}

func (s *HTTPSource) USDPerETH(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return decimal.Zero, unavailable("failed to build price request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, unavailable("price request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, unavailable("price feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return decimal.Zero, unavailable("failed to read price response: %v", err)
	}

	var spot spotResponse
	if err := json.Unmarshal(body, &spot); err != nil {
		return decimal.Zero, unavailable("failed to decode price response: %v", err)
	}

	amount, err := decimal.NewFromString(spot.Data.Amount)
	if err != nil {
		return decimal.Zero, unavailable("invalid price %q", spot.Data.Amount)
	}
	if !amount.IsPositive() {
		return decimal.Zero, unavailable("non-positive price %s", amount)
	}
	return amount, nil
}

// Cache wraps a Source and serves the last value for ttl. Concurrent refreshes
// are not coalesced; the last one to finish wins.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger

	mu        sync.RWMutex
	value     decimal.Decimal
	fetchedAt time.Time
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

func NewCache(source Source, opts ...Option) *Cache {
	c := &Cache{
		source: source,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// USDPerETH returns the cached price while it is younger than the TTL and
// refreshes it otherwise. A failed refresh is an error; a stale value is
// never served in its place.
func (c *Cache) USDPerETH(ctx context.Context) (decimal.Decimal, error) {
	now := c.now()

	c.mu.RLock()
	value, fetchedAt := c.value, c.fetchedAt
	c.mu.RUnlock()

	if !fetchedAt.IsZero() && now.Sub(fetchedAt) < c.ttl {
		return value, nil
	}

	fresh, err := c.source.USDPerETH(ctx)
	if err != nil {
		c.logger.Warn("price refresh failed", map[string]any{"error": err.Error()})
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.value, c.fetchedAt = fresh, now
	c.mu.Unlock()

	c.logger.Debug("price refreshed", map[string]any{"usdPerEth": fresh.String()})
	return fresh, nil
}

// Invalidate drops the cached value.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

func unavailable(format string, args ...any) *types.X402Error {
	return &types.X402Error{
		Code:    types.ErrPriceUnavailable,
		Message: fmt.Sprintf(format, args...),
	}
}
