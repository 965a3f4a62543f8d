// Package binance fetches spot klines used by the minimum-spread gate.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Base-spread computation over closed candles before a cycle.
const (
	autoHistoryLimit     = 20
	autoSpreadMultiplier = 0.7
	minSamplesAfterIQR   = 3
)

// Client reads public market data; no API key is required.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
	}
}

// Kline is one candle.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
}

var intervalNames = map[int64]string{
	60:   "1m",
	300:  "5m",
	900:  "15m",
	3600: "1h",
}

// CycleMove returns the absolute open-to-latest price move of symbol for
// the candle starting at periodStart, in quote units.
func (c *Client) CycleMove(ctx context.Context, symbol string, intervalSeconds, periodStart int64) (float64, error) {
	k, err := c.Kline(ctx, symbol, intervalSeconds, periodStart)
	if err != nil {
		return 0, err
	}
	return math.Abs(k.Close - k.Open), nil
}

// Kline fetches the single candle of the given interval starting at
// startUnix.
func (c *Client) Kline(ctx context.Context, symbol string, intervalSeconds, startUnix int64) (*Kline, error) {
	name, ok := intervalNames[intervalSeconds]
	if !ok {
		return nil, fmt.Errorf("binance: unsupported interval %ds", intervalSeconds)
	}

	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&limit=1",
		c.baseURL, symbol, name, startUnix*1000)
	rows, err := c.fetchKlines(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("binance: no kline for %s at %d", symbol, startUnix)
	}
	return &rows[0], nil
}

// AutoBaseSpread computes the per-direction base spread for the cycle
// starting at periodStart: the last closed candles before the cycle are
// split by direction, outliers are trimmed with an IQR filter, and the
// average is scaled down. Up covers outcome 0, down covers outcome 1.
func (c *Client) AutoBaseSpread(ctx context.Context, symbol string, intervalSeconds, periodStart int64) (up, down float64, err error) {
	name, ok := intervalNames[intervalSeconds]
	if !ok {
		return 0, 0, fmt.Errorf("binance: unsupported interval %ds", intervalSeconds)
	}

	// endTime just before periodStart keeps the live candle out of the
	// sample.
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&endTime=%d&limit=%d",
		c.baseURL, symbol, name, periodStart*1000-1, autoHistoryLimit)
	rows, err := c.fetchKlines(ctx, url)
	if err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, fmt.Errorf("binance: no klines before %d for %s", periodStart, symbol)
	}

	var upMoves, downMoves []float64
	for i := range rows {
		switch {
		case rows[i].Close > rows[i].Open:
			upMoves = append(upMoves, rows[i].Close-rows[i].Open)
		case rows[i].Close < rows[i].Open:
			downMoves = append(downMoves, rows[i].Open-rows[i].Close)
		}
	}

	up = trimmedMean(upMoves) * autoSpreadMultiplier
	down = trimmedMean(downMoves) * autoSpreadMultiplier
	c.logger.Info("base spread computed",
		zap.String("symbol", symbol),
		zap.Int64("periodStart", periodStart),
		zap.Int("upSamples", len(upMoves)),
		zap.Int("downSamples", len(downMoves)),
		zap.Float64("up", up),
		zap.Float64("down", down),
	)
	return up, down, nil
}

// trimmedMean averages the values after dropping IQR outliers. When the
// filter would leave too few samples the full set is averaged instead.
func trimmedMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	q1 := sorted[clampIndex(int(float64(n)*0.25), n)]
	q3 := sorted[clampIndex(int(float64(n)*0.75), n)]
	iqr := q3 - q1
	lower, upper := q1-1.5*iqr, q3+1.5*iqr

	filtered := sorted[:0:0]
	for _, v := range sorted {
		if v >= lower && v <= upper {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) < minSamplesAfterIQR {
		filtered = sorted
	}

	var sum float64
	for _, v := range filtered {
		sum += v
	}
	return sum / float64(len(filtered))
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (c *Client) fetchKlines(ctx context.Context, url string) ([]Kline, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: status=%d body=%s", resp.StatusCode, body)
	}

	// Each kline is a mixed-type array:
	// [openTime, open, high, low, close, volume, closeTime, ...]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("binance: malformed kline row")
		}

		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("binance: parse open time: %w", err)
		}

		prices := make([]float64, 4)
		for i := 1; i <= 4; i++ {
			var s string
			if err := json.Unmarshal(row[i], &s); err != nil {
				return nil, fmt.Errorf("binance: parse price field %d: %w", i, err)
			}
			p, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("binance: parse price %q: %w", s, err)
			}
			prices[i-1] = p
		}

		klines = append(klines, Kline{
			OpenTime: time.UnixMilli(openMs),
			Open:     prices[0],
			High:     prices[1],
			Low:      prices[2],
			Close:    prices[3],
		})
	}
	return klines, nil
}
