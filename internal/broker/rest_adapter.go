package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"autotrader/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const recvWindow = "5000" // how long a signed request stays valid, in milliseconds

// RestAdapter is the reference Adapter implementation for vendors exposing a
// signed JSON-over-REST API. Vendor-specific adapters follow the same shape.
type RestAdapter struct {
	name      string
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
	caps      Capabilities

	mu    sync.Mutex
	state ConnectionState
	token string
}

// ensure RestAdapter implements the contract
var _ Adapter = (*RestAdapter)(nil)

// NewRestAdapter creates a REST adapter from one broker's configuration.
func NewRestAdapter(cfg config.Broker, logger *zap.Logger) *RestAdapter {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// rate.Limit is requests per second; the adapter waits on this budget
	// instead of surfacing vendor rate-limit errors to callers.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestAdapter{
		name:      cfg.Name,
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger.Named("broker." + cfg.Name),
		limiter:   limiter,
		caps: Capabilities{
			AssetTypes: []string{AssetTypeEquity, AssetTypeCrypto},
			OrderTypes: []string{OrderTypeMarket, OrderTypeLimit},
		},
		state: StateDisconnected,
	}
}

// Name returns the registry name of this connection.
func (a *RestAdapter) Name() string { return a.name }

// State reports the current connection state.
func (a *RestAdapter) State() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// sign creates a HMAC-SHA256 signature for the request payload.
func (a *RestAdapter) sign(data string) string {
	h := hmac.New(sha256.New, []byte(a.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest executes one API call with rate limiting and retry/backoff.
// Retryable failures are 429/418 (honoring Retry-After), 5xx, and transport
// errors; everything else is classified and returned immediately.
func (a *RestAdapter) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, wrap(ErrRateLimited, err)
		}

		a.logger.Debug("Executing request", zap.String("method", method), zap.String("url", a.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze the failure: non-retryable statuses return immediately,
		// everything else falls through to the backoff below.
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			switch {
			case statusCode == http.StatusTooManyRequests || statusCode == 418:
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			case statusCode >= 500:
				// retryable
			case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
				a.setState(StateError)
				return nil, wrapf(ErrAuthentication, "status %s: %s", resp.Status(), resp.String())
			default:
				return nil, wrapf(ErrOrder, "status %s: %s", resp.Status(), resp.String())
			}
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		a.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.setState(StateError)
	return nil, wrapf(ErrConnection, "request failed after %d attempts: %v", maxRetries, err)
}

func (a *RestAdapter) setState(s ConnectionState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

type sessionResponse struct {
	Token string `json:"token"`
}

// Connect establishes an authenticated session. Safe to call repeatedly; an
// already-connected adapter returns immediately.
func (a *RestAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateConnected {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	req := a.client.R().
		SetHeader("X-API-KEY", a.apiKey).
		SetResult(&sessionResponse{})

	resp, err := a.doRequest(ctx, http.MethodPost, "/session", req)
	if err != nil {
		a.logger.Error("Failed to open session", zap.Error(err))
		return err
	}

	session := resp.Result().(*sessionResponse)
	a.mu.Lock()
	a.token = session.Token
	a.state = StateConnected
	a.mu.Unlock()

	a.logger.Info("Broker session established")
	return nil
}

// Disconnect tears down the session.
func (a *RestAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateConnected {
		a.state = StateDisconnected
		a.mu.Unlock()
		return nil
	}
	token := a.token
	a.mu.Unlock()

	req := a.client.R().SetHeader("Authorization", "Bearer "+token)
	if _, err := a.doRequest(ctx, http.MethodDelete, "/session", req); err != nil {
		a.logger.Warn("Failed to close session cleanly", zap.Error(err))
	}

	a.mu.Lock()
	a.token = ""
	a.state = StateDisconnected
	a.mu.Unlock()
	return nil
}

// authedRequest prepares a request carrying the session token.
func (a *RestAdapter) authedRequest() (*resty.Request, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateConnected {
		return nil, ErrNotConnected
	}
	return a.client.R().SetHeader("Authorization", "Bearer "+a.token), nil
}

type marketStatusResponse struct {
	Open bool `json:"open"`
}

// IsMarketOpen asks the vendor whether its market is currently open.
func (a *RestAdapter) IsMarketOpen(ctx context.Context) (bool, error) {
	req, err := a.authedRequest()
	if err != nil {
		return false, err
	}
	req.SetResult(&marketStatusResponse{})

	resp, err := a.doRequest(ctx, http.MethodGet, "/market/status", req)
	if err != nil {
		return false, wrap(ErrMarketData, err)
	}
	return resp.Result().(*marketStatusResponse).Open, nil
}

// GetAccountInfo fetches the normalized account snapshot.
func (a *RestAdapter) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	req, err := a.authedRequest()
	if err != nil {
		return nil, err
	}
	req.SetResult(&AccountInfo{})

	resp, err := a.doRequest(ctx, http.MethodGet, "/account", req)
	if err != nil {
		return nil, err
	}
	return resp.Result().(*AccountInfo), nil
}

// GetPositions fetches all open positions.
func (a *RestAdapter) GetPositions(ctx context.Context) ([]Position, error) {
	req, err := a.authedRequest()
	if err != nil {
		return nil, err
	}
	var positions []Position
	req.SetResult(&positions)

	resp, err := a.doRequest(ctx, http.MethodGet, "/positions", req)
	if err != nil {
		return nil, err
	}
	return *resp.Result().(*[]Position), nil
}

// GetPosition fetches one position by symbol, or nil if the account is flat.
func (a *RestAdapter) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	req, err := a.authedRequest()
	if err != nil {
		return nil, err
	}
	req.SetResult(&Position{})

	resp, err := a.doRequest(ctx, http.MethodGet, "/positions/"+symbol, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNoContent {
		return nil, nil
	}
	return resp.Result().(*Position), nil
}

// GetQuote fetches a live quote for one symbol.
func (a *RestAdapter) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	req, err := a.authedRequest()
	if err != nil {
		return nil, err
	}
	req.SetResult(&Quote{}).SetQueryParam("symbol", symbol)

	resp, err := a.doRequest(ctx, http.MethodGet, "/quote", req)
	if err != nil {
		return nil, wrap(ErrMarketData, err)
	}
	return resp.Result().(*Quote), nil
}

// GetQuotes fetches quotes for many symbols. Symbols the vendor could not
// price are logged and omitted from the result, never fatal for the batch.
func (a *RestAdapter) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	req, err := a.authedRequest()
	if err != nil {
		return nil, err
	}
	var quotes []Quote
	req.SetResult(&quotes).SetQueryParam("symbols", strings.Join(symbols, ","))

	resp, err := a.doRequest(ctx, http.MethodGet, "/quotes", req)
	if err != nil {
		return nil, wrap(ErrMarketData, err)
	}

	out := make(map[string]Quote, len(symbols))
	for _, q := range *resp.Result().(*[]Quote) {
		out[q.Symbol] = q
	}
	for _, s := range symbols {
		if _, ok := out[s]; !ok {
			a.logger.Warn("Quote missing from batch response", zap.String("symbol", s))
		}
	}
	return out, nil
}

// PlaceOrder validates the order against the adapter's declared capabilities
// and submits it. The initial status reported by the vendor is never FILLED.
func (a *RestAdapter) PlaceOrder(ctx context.Context, order *Order) (*OrderUpdate, error) {
	if err := ValidateOrder(order, a.caps); err != nil {
		return nil, err
	}

	req, err := a.authedRequest()
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"client_order_id": order.ClientOrderID,
		"symbol":          order.Symbol,
		"side":            order.Side,
		"type":            order.Type,
		"quantity":        fmt.Sprintf("%f", order.Quantity),
		"timestamp":       fmt.Sprintf("%d", time.Now().UnixMilli()),
		"recvWindow":      recvWindow,
	}
	if order.Type == OrderTypeLimit {
		payload["limit_price"] = fmt.Sprintf("%f", order.LimitPrice)
	}
	payload["signature"] = a.sign(canonical(payload))

	req.SetBody(payload).SetResult(&OrderUpdate{})

	resp, err := a.doRequest(ctx, http.MethodPost, "/orders", req)
	if err != nil {
		a.logger.Error("Failed to place order",
			zap.Error(err),
			zap.String("symbol", order.Symbol),
		)
		return nil, err
	}

	update := resp.Result().(*OrderUpdate)
	a.logger.Info("Order accepted by broker",
		zap.String("order_id", update.OrderID),
		zap.String("status", update.Status))
	return update, nil
}

// CancelOrder requests cancellation of an open order.
func (a *RestAdapter) CancelOrder(ctx context.Context, orderID string) error {
	req, err := a.authedRequest()
	if err != nil {
		return err
	}
	if _, err := a.doRequest(ctx, http.MethodDelete, "/orders/"+orderID, req); err != nil {
		return err
	}
	return nil
}

// GetOrderStatus fetches the current state of a placed order.
func (a *RestAdapter) GetOrderStatus(ctx context.Context, orderID string) (*OrderUpdate, error) {
	req, err := a.authedRequest()
	if err != nil {
		return nil, err
	}
	req.SetResult(&OrderUpdate{})

	resp, err := a.doRequest(ctx, http.MethodGet, "/orders/"+orderID, req)
	if err != nil {
		return nil, err
	}
	return resp.Result().(*OrderUpdate), nil
}

// GetOrders lists orders, filtered vendor-side where supported and
// client-side otherwise.
func (a *RestAdapter) GetOrders(ctx context.Context, filter OrderFilter) ([]OrderUpdate, error) {
	req, err := a.authedRequest()
	if err != nil {
		return nil, err
	}
	var updates []OrderUpdate
	req.SetResult(&updates)
	if filter.Symbol != "" {
		req.SetQueryParam("symbol", filter.Symbol)
	}
	if filter.Status != "" {
		req.SetQueryParam("status", filter.Status)
	}

	resp, err := a.doRequest(ctx, http.MethodGet, "/orders", req)
	if err != nil {
		return nil, err
	}

	var out []OrderUpdate
	for _, u := range *resp.Result().(*[]OrderUpdate) {
		if filter.Matches(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

// canonical renders a payload map as a deterministic query string for signing.
func canonical(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%v", k, payload[k])
	}
	return b.String()
}
