package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/config"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// MEXCClient is an OAuth bearer-token broker client: login returns an
// access/refresh token pair, every request carries Authorization: Bearer,
// and there is no server-side logout (OAuth brokers skip it, per the
// re-auth contract). Grounded on core/services/broker/config.py's caching
// semantics and adapters.BinanceAdapter's WS subscription shape, with the
// OAuth expiry check modeled on the jwt.v5 usage in the pack's
// SynapseStrike repo.
type MEXCClient struct {
	*fsm
	cfg     config.BrokerConfig
	http    *http.Client
	limiter *limiterHandle

	mu           sync.Mutex
	accessToken  string
	refreshToken string

	wsConn      *websocket.Conn
	onTrade     func(epic string, price decimal.Decimal, size decimal.Decimal, at time.Time)
}

func NewMEXCClient(log *zap.Logger, cfg config.BrokerConfig) *MEXCClient {
	return &MEXCClient{
		fsm:     newFSM(log),
		cfg:     cfg,
		http:    newHTTPClient(log),
		limiter: newLimiterHandle(10),
	}
}

func (c *MEXCClient) Kind() types.BrokerKind { return types.BrokerMEXC }

func (c *MEXCClient) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	if err := c.login(ctx); err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("mexc: login: %w", err)
	}
	c.setState(StateConnected)
	return nil
}

func (c *MEXCClient) login(ctx context.Context) error {
	if err := acquire(ctx, c.limiter.l); err != nil {
		return err
	}

	form := url.Values{"api_key": {c.cfg.APIKey}, "api_secret": {c.cfg.APISecret}, "grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mexc: oauth token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: oauth token returned %d", ErrAuthFailed, resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("mexc: decoding oauth token response: %w", err)
	}

	c.mu.Lock()
	c.accessToken, c.refreshToken = body.AccessToken, body.RefreshToken
	c.mu.Unlock()
	return nil
}

// tokenExpiringSoon reads the unverified "exp" claim off the current access
// token (the signature is validated by MEXC, not by us) to decide whether a
// proactive refresh is worthwhile before issuing a request.
func (c *MEXCClient) tokenExpiringSoon() bool {
	c.mu.Lock()
	tok := c.accessToken
	c.mu.Unlock()
	if tok == "" {
		return true
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Until(exp.Time) < 30*time.Second
}

func (c *MEXCClient) Disconnect(ctx context.Context) error {
	// OAuth brokers skip server-side logout; just drop local state.
	c.mu.Lock()
	c.accessToken, c.refreshToken = "", ""
	c.mu.Unlock()
	if c.wsConn != nil {
		c.wsConn.Close()
		c.wsConn = nil
	}
	c.setState(StateDisconnected)
	return nil
}

func (c *MEXCClient) doSigned(ctx context.Context, method, path string, out any) error {
	if c.tokenExpiringSoon() {
		if err := c.login(ctx); err != nil {
			return fmt.Errorf("mexc: proactive token refresh: %w", err)
		}
	}

	return c.withReauth(ctx, c.login, func(ctx context.Context) error {
		if err := acquire(ctx, c.limiter.l); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, nil)
		if err != nil {
			return err
		}
		c.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		c.mu.Unlock()

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("mexc: request %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			return ErrTokenInvalid
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("mexc: %s returned %d", path, resp.StatusCode)
		}
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	})
}

func (c *MEXCClient) GetAccountState(ctx context.Context) (*types.AccountState, error) {
	var raw struct {
		Balance   decimal.Decimal `json:"balance"`
		Equity    decimal.Decimal `json:"equity"`
		Available decimal.Decimal `json:"available"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/account", &raw); err != nil {
		return nil, fmt.Errorf("mexc: get account state: %w", err)
	}
	return &types.AccountState{Balance: raw.Balance, Equity: raw.Equity, AvailableFunds: raw.Available, AsOf: time.Now()}, nil
}

func (c *MEXCClient) GetSymbolPrice(ctx context.Context, epic string) (*types.SymbolPrice, error) {
	var raw struct {
		Bid decimal.Decimal `json:"bidPrice"`
		Ask decimal.Decimal `json:"askPrice"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/ticker/bookTicker?symbol="+epic, &raw); err != nil {
		return nil, fmt.Errorf("mexc: get price for %s: %w", epic, err)
	}
	return &types.SymbolPrice{Epic: epic, Bid: raw.Bid, Ask: raw.Ask, Timestamp: time.Now()}, nil
}

func (c *MEXCClient) GetOpenPositions(ctx context.Context) ([]types.Position, error) {
	var raw []struct {
		Symbol     string          `json:"symbol"`
		Side       string          `json:"side"`
		Size       decimal.Decimal `json:"positionAmt"`
		EntryPrice decimal.Decimal `json:"entryPrice"`
		MarkPrice  decimal.Decimal `json:"markPrice"`
		UpdateTime int64           `json:"updateTime"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/positions", &raw); err != nil {
		return nil, fmt.Errorf("mexc: get open positions: %w", err)
	}
	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		side := types.OrderSideBuy
		if strings.EqualFold(p.Side, "SELL") {
			side = types.OrderSideSell
		}
		out = append(out, types.Position{
			Epic:         p.Symbol,
			Side:         side,
			Size:         p.Size,
			OpenLevel:    p.EntryPrice,
			CurrentLevel: p.MarkPrice,
			OpenedAt:     time.UnixMilli(p.UpdateTime).UTC(),
		})
	}
	return out, nil
}

// GetHistoricalPrices returns closed candles ascending by time from MEXC's
// klines endpoint; the newest element may still be the forming bar.
func (c *MEXCClient) GetHistoricalPrices(ctx context.Context, epic string, resolution string, numPoints int) ([]types.OHLC, error) {
	var raw [][]any
	path := fmt.Sprintf("/klines?symbol=%s&interval=%s&limit=%d", epic, mexcInterval(resolution), numPoints)
	if err := c.doSigned(ctx, http.MethodGet, path, &raw); err != nil {
		return nil, fmt.Errorf("mexc: get historical prices for %s: %w", epic, err)
	}
	out := make([]types.OHLC, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTime, _ := row[0].(float64)
		open, _ := decimal.NewFromString(fmt.Sprint(row[1]))
		high, _ := decimal.NewFromString(fmt.Sprint(row[2]))
		low, _ := decimal.NewFromString(fmt.Sprint(row[3]))
		closeP, _ := decimal.NewFromString(fmt.Sprint(row[4]))
		vol, _ := decimal.NewFromString(fmt.Sprint(row[5]))
		out = append(out, types.OHLC{Time: time.UnixMilli(int64(openTime)).UTC(), Open: open, High: high, Low: low, Close: closeP, Volume: vol})
	}
	return out, nil
}

func mexcInterval(resolution string) string {
	switch resolution {
	case "5m":
		return "5m"
	case "15m":
		return "15m"
	case "1h":
		return "60m"
	default:
		return "1m"
	}
}

func (c *MEXCClient) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	var raw struct {
		OrderID string          `json:"orderId"`
		Price   decimal.Decimal `json:"price"`
	}
	if err := c.doSigned(ctx, http.MethodPost, "/order", &raw); err != nil {
		return nil, fmt.Errorf("mexc: place order for %s: %w", req.Epic, err)
	}
	return &types.OrderResult{DealID: raw.OrderID, Status: types.OrderStatusFilled, FilledPrice: raw.Price, FilledAt: time.Now()}, nil
}

// SubscribeTrades opens the MEXC trade-stream websocket feeding the
// Streaming Worker's 1-minute aggregation, grounded on
// adapters.BinanceAdapter.subscribeToStreams/readWebSocket.
func (c *MEXCClient) SubscribeTrades(ctx context.Context, epics []string, onTrade func(epic string, price, size decimal.Decimal, at time.Time)) error {
	c.onTrade = onTrade

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("mexc: dialing trade stream: %w", err)
	}
	c.wsConn = conn

	sub := map[string]any{"method": "SUBSCRIPTION", "params": epics}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("mexc: subscribing trade stream: %w", err)
	}

	go c.readLoop(conn)
	return nil
}

func (c *MEXCClient) readLoop(conn *websocket.Conn) {
	for {
		var msg struct {
			Symbol string          `json:"symbol"`
			Price  decimal.Decimal `json:"price"`
			Size   decimal.Decimal `json:"size"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if c.onTrade != nil {
			c.onTrade(msg.Symbol, msg.Price, msg.Size, time.Now())
		}
	}
}
