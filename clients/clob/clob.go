// Package clob is an authenticated client for the CLOB trading API.
//
// Authentication is two-level: an EIP-712 ClobAuth signature derives API
// credentials once (L1), then every request carries HMAC-SHA256 headers
// built from those credentials (L2).
package clob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tailbot/clients/signer"
)

const maxRetries = 3

// OrderTypeFAK submits a fill-and-kill order: match what crosses, cancel
// the rest.
const OrderTypeFAK = "FAK"

type credentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Client talks to the CLOB REST API on behalf of one wallet.
type Client struct {
	logger  *zap.Logger
	http    *http.Client
	baseURL string
	signer  *signer.Signer
	limiter *rate.Limiter

	credsMu sync.Mutex
	creds   *credentials
}

func NewClient(baseURL string, s *signer.Signer, requestsPerSecond float64, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &Client{
		logger:  logger,
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  s,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
	}
}

// EnsureCreds derives API credentials via L1 auth. Credentials are cached;
// calling again is a no-op.
func (c *Client) EnsureCreds(ctx context.Context) error {
	c.credsMu.Lock()
	defer c.credsMu.Unlock()
	if c.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := c.signer.SignClobAuth(ts, "0")
	if err != nil {
		return fmt.Errorf("clob: sign l1: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("clob: derive-api-key request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_NONCE", "0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("clob: derive-api-key: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clob: derive-api-key status %d: %s", resp.StatusCode, body)
	}

	var creds credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return fmt.Errorf("clob: parse creds: %w", err)
	}
	c.creds = &creds

	c.logger.Info("clob credentials derived", zap.String("address", c.signer.Address()))
	return nil
}

func (c *Client) l2Headers(method, path, body string) (map[string]string, error) {
	c.credsMu.Lock()
	creds := c.creds
	c.credsMu.Unlock()
	if creds == nil {
		return nil, fmt.Errorf("clob: credentials not derived yet")
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	msg := ts + strings.ToUpper(method) + path + body

	secretBytes, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("clob: decode secret: %w", err)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(msg))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    c.signer.Address(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    creds.APIKey,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	select {
	case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
	case <-ctx.Done():
	}
}

// doL2 executes one authenticated request with rate limiting. 429 and 5xx
// responses are retried; HMAC headers are regenerated per attempt so the
// timestamp stays fresh.
func (c *Client) doL2(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyStr string
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("clob: marshal body: %w", err)
		}
		bodyStr = string(b)
	}

	fullURL := c.baseURL + path

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("clob: rate limiter: %w", err)
		}

		headers, err := c.l2Headers(method, path, bodyStr)
		if err != nil {
			return err
		}

		var bodyReader io.Reader
		if bodyStr != "" {
			bodyReader = strings.NewReader(bodyStr)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return fmt.Errorf("clob: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("clob: request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if attempt == maxRetries {
				return fmt.Errorf("clob: status %d: %s", resp.StatusCode, respBody)
			}
			c.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("clob: client error %d: %s", resp.StatusCode, respBody)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("clob: decode response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("clob: exhausted %d retries", maxRetries)
}

type orderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type orderRequest struct {
	Order     orderBody `json:"order"`
	Owner     string    `json:"owner"`
	OrderType string    `json:"orderType"`
}

type orderResponse struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
}

// PlacedOrder is the venue's acknowledgment of a submitted order.
type PlacedOrder struct {
	OrderID string
	Status  string
}

// SubmitOrder posts a signed order with the given order type.
func (c *Client) SubmitOrder(ctx context.Context, signed *gomodel.SignedOrder, tokenID, orderType string) (*PlacedOrder, error) {
	if err := c.EnsureCreds(ctx); err != nil {
		return nil, err
	}
	c.credsMu.Lock()
	owner := c.creds.APIKey
	c.credsMu.Unlock()

	body := orderRequest{
		Order: orderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       tokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          "BUY",
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     owner,
		OrderType: orderType,
	}

	var resp orderResponse
	if err := c.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return nil, fmt.Errorf("clob: order rejected: %s", resp.ErrorMsg)
	}

	return &PlacedOrder{OrderID: resp.OrderID, Status: resp.Status}, nil
}

// OrderFill is the actual execution state of a submitted order.
type OrderFill struct {
	OrderID     string
	Price       float64
	SizeMatched float64
	Status      string
}

type orderDetail struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	SizeMatched string `json:"size_matched"`
}

// GetOrder queries an order by ID for its fill price and matched size.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderFill, error) {
	if err := c.EnsureCreds(ctx); err != nil {
		return nil, err
	}

	var detail orderDetail
	if err := c.doL2(ctx, http.MethodGet, "/data/order/"+orderID, nil, &detail); err != nil {
		return nil, err
	}

	price, _ := strconv.ParseFloat(detail.Price, 64)
	matched, _ := strconv.ParseFloat(detail.SizeMatched, 64)

	return &OrderFill{
		OrderID:     detail.ID,
		Price:       price,
		SizeMatched: matched,
		Status:      detail.Status,
	}, nil
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// Balance fetches the available collateral balance in USDC.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	if err := c.EnsureCreds(ctx); err != nil {
		return 0, err
	}

	var resp balanceResponse
	path := "/balance-allowance?asset_type=COLLATERAL"
	if err := c.doL2(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}

	// Balance is reported in 6-decimal base units.
	raw, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return 0, fmt.Errorf("clob: parse balance %q: %w", resp.Balance, err)
	}
	bal, _ := raw.Shift(-6).Float64()
	return bal, nil
}

type feeRateMarket struct {
	TakerBaseFee json.Number `json:"taker_base_fee"`
}

// TokenFeeRate returns the taker fee rate in basis points for the market
// holding tokenID's condition.
func (c *Client) TokenFeeRate(ctx context.Context, conditionID string) (string, error) {
	if err := c.EnsureCreds(ctx); err != nil {
		return "", err
	}

	var m feeRateMarket
	if err := c.doL2(ctx, http.MethodGet, "/markets/"+conditionID, nil, &m); err != nil {
		return "", err
	}
	if m.TakerBaseFee.String() == "" {
		return "0", nil
	}
	return m.TakerBaseFee.String(), nil
}
