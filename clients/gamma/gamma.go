// Package gamma resolves per-cycle markets via the Gamma metadata API.
package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Market is the per-cycle market a slug resolves to.
type Market struct {
	Slug        string
	Title       string
	ConditionID string
	TokenIDs    []string
}

// Client looks up markets by slug. Lookups are cached briefly because a
// cycle's market never changes once listed; entries expire so memory
// stays bounded across cycles.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string

	cacheMu  sync.Mutex
	cache    map[string]cacheEntry
	cacheTTL time.Duration
}

type cacheEntry struct {
	market    Market
	expiresAt time.Time
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:  baseURL,
		cache:    make(map[string]cacheEntry),
		cacheTTL: 15 * time.Minute,
	}
}

type gammaMarket struct {
	Slug         string          `json:"slug"`
	Question     string          `json:"question"`
	ConditionID  string          `json:"conditionId"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
}

// Resolve looks up the market listed under slug and returns its token IDs,
// title and condition ID.
func (c *Client) Resolve(ctx context.Context, slug string) (*Market, error) {
	now := time.Now()

	c.cacheMu.Lock()
	if entry, ok := c.cache[slug]; ok && now.Before(entry.expiresAt) {
		m := entry.market
		c.cacheMu.Unlock()
		return &m, nil
	}
	c.cacheMu.Unlock()

	endpoint := fmt.Sprintf("%s/markets?slug=%s", c.baseURL, url.QueryEscape(slug))

	var markets []gammaMarket
	if err := c.doGet(ctx, endpoint, &markets); err != nil {
		return nil, fmt.Errorf("resolve %q: %w", slug, err)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("resolve %q: no market listed", slug)
	}

	gm := markets[0]
	tokenIDs := parseTokenIDs(gm.ClobTokenIDs)
	if len(tokenIDs) == 0 {
		return nil, fmt.Errorf("resolve %q: market has no token ids", slug)
	}

	m := Market{
		Slug:        slug,
		Title:       gm.Question,
		ConditionID: gm.ConditionID,
		TokenIDs:    tokenIDs,
	}

	c.cacheMu.Lock()
	c.cache[slug] = cacheEntry{market: m, expiresAt: now.Add(c.cacheTTL)}
	c.pruneLocked(now)
	c.cacheMu.Unlock()

	c.logger.Debug("market resolved",
		zap.String("slug", slug),
		zap.String("conditionId", gm.ConditionID),
		zap.Int("tokens", len(tokenIDs)),
	)

	return &m, nil
}

func (c *Client) pruneLocked(now time.Time) {
	for slug, entry := range c.cache {
		if now.After(entry.expiresAt) {
			delete(c.cache, slug)
		}
	}
}

// parseTokenIDs handles both a direct array and a JSON string containing
// an array (the API returns the latter).
func parseTokenIDs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		return ids
	}

	var jsonStr string
	if err := json.Unmarshal(raw, &jsonStr); err == nil {
		if err := json.Unmarshal([]byte(jsonStr), &ids); err == nil {
			return ids
		}
	}

	return nil
}

func (c *Client) doGet(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
