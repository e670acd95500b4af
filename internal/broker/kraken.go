package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/relvacode/iso8601"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/config"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// KrakenClient is a 24/7 crypto venue: API-key+secret HMAC-SHA512 signed
// REST, no session/OAuth concept to expire, and a trade-stream websocket
// consumed by the Streaming Worker. Grounded on
// adapters.BinanceAdapter.sign/signedRequest, generalized from
// HMAC-SHA256-over-query to Kraken's nonce+path HMAC-SHA512 scheme.
type KrakenClient struct {
	*fsm
	cfg     config.BrokerConfig
	http    *http.Client
	limiter *limiterHandle

	mu    sync.Mutex
	nonce int64

	wsConn *websocket.Conn
}

func NewKrakenClient(log *zap.Logger, cfg config.BrokerConfig) *KrakenClient {
	return &KrakenClient{
		fsm:     newFSM(log),
		cfg:     cfg,
		http:    newHTTPClient(log),
		limiter: newLimiterHandle(15),
		nonce:   time.Now().UnixNano(),
	}
}

func (c *KrakenClient) Kind() types.BrokerKind { return types.BrokerKraken }

// Kraken has no login call; the API key itself authenticates every signed
// request, so Connect only verifies the credentials work.
func (c *KrakenClient) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	if _, err := c.GetAccountState(ctx); err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("kraken: verifying credentials: %w", err)
	}
	c.setState(StateConnected)
	return nil
}

func (c *KrakenClient) Disconnect(ctx context.Context) error {
	if c.wsConn != nil {
		c.wsConn.Close()
		c.wsConn = nil
	}
	c.setState(StateDisconnected)
	return nil
}

func (c *KrakenClient) nextNonce() string {
	c.mu.Lock()
	c.nonce++
	n := c.nonce
	c.mu.Unlock()
	return strconv.FormatInt(n, 10)
}

// sign implements Kraken's private-endpoint signature: HMAC-SHA512 over
// path + SHA256(nonce + postData), keyed by the base64-decoded API secret.
func (c *KrakenClient) sign(path, nonce string, postData url.Values) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.cfg.APISecret)
	if err != nil {
		return "", fmt.Errorf("kraken: decoding api secret: %w", err)
	}

	inner := sha256.Sum256([]byte(nonce + postData.Encode()))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (c *KrakenClient) doSigned(ctx context.Context, method, path string, params url.Values, out any) error {
	return c.withReauth(ctx, func(context.Context) error { return nil }, func(ctx context.Context) error {
		if err := acquire(ctx, c.limiter.l); err != nil {
			return err
		}
		if params == nil {
			params = url.Values{}
		}
		nonce := c.nextNonce()
		params.Set("nonce", nonce)

		sig, err := c.sign(path, nonce, params)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("API-Key", c.cfg.APIKey)
		req.Header.Set("API-Sign", sig)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("kraken: request %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			return ErrTokenInvalid
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("kraken: %s returned %d", path, resp.StatusCode)
		}
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	})
}

func (c *KrakenClient) GetAccountState(ctx context.Context) (*types.AccountState, error) {
	var raw struct {
		Result map[string]decimal.Decimal `json:"result"`
	}
	if err := c.doSigned(ctx, http.MethodPost, "/0/private/Balance", nil, &raw); err != nil {
		return nil, fmt.Errorf("kraken: get account state: %w", err)
	}
	var total decimal.Decimal
	for _, v := range raw.Result {
		total = total.Add(v)
	}
	return &types.AccountState{Balance: total, Equity: total, AvailableFunds: total, AsOf: time.Now()}, nil
}

func (c *KrakenClient) GetSymbolPrice(ctx context.Context, epic string) (*types.SymbolPrice, error) {
	var raw struct {
		Result map[string]struct {
			Bid []string `json:"b"`
			Ask []string `json:"a"`
		} `json:"result"`
	}
	resp, err := http.Get(c.cfg.BaseURL + "/0/public/Ticker?pair=" + epic)
	if err != nil {
		return nil, fmt.Errorf("kraken: get price for %s: %w", epic, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("kraken: decoding ticker response: %w", err)
	}

	pair, ok := raw.Result[epic]
	if !ok || len(pair.Bid) == 0 || len(pair.Ask) == 0 {
		return nil, fmt.Errorf("kraken: no ticker data for %s", epic)
	}
	bid, err := decimal.NewFromString(pair.Bid[0])
	if err != nil {
		return nil, fmt.Errorf("kraken: parsing bid: %w", err)
	}
	ask, err := decimal.NewFromString(pair.Ask[0])
	if err != nil {
		return nil, fmt.Errorf("kraken: parsing ask: %w", err)
	}
	return &types.SymbolPrice{Epic: epic, Bid: bid, Ask: ask, Timestamp: time.Now()}, nil
}

func (c *KrakenClient) GetOpenPositions(ctx context.Context) ([]types.Position, error) {
	var raw struct {
		Result map[string]struct {
			Pair  string          `json:"pair"`
			Type  string          `json:"type"`
			Vol   decimal.Decimal `json:"vol"`
			Cost  decimal.Decimal `json:"cost"`
			Value decimal.Decimal `json:"value"`
			Time  float64         `json:"time"`
		} `json:"result"`
	}
	if err := c.doSigned(ctx, http.MethodPost, "/0/private/OpenPositions", nil, &raw); err != nil {
		return nil, fmt.Errorf("kraken: get open positions: %w", err)
	}
	out := make([]types.Position, 0, len(raw.Result))
	for dealID, p := range raw.Result {
		side := types.OrderSideBuy
		if strings.EqualFold(p.Type, "sell") {
			side = types.OrderSideSell
		}
		var avgLevel decimal.Decimal
		if p.Vol.IsPositive() {
			avgLevel = p.Cost.Div(p.Vol)
		}
		out = append(out, types.Position{
			DealID:    dealID,
			Epic:      p.Pair,
			Side:      side,
			Size:      p.Vol,
			OpenLevel: avgLevel,
			OpenedAt:  time.Unix(int64(p.Time), 0).UTC(),
		})
	}
	return out, nil
}

// GetHistoricalPrices calls Kraken's public OHLC endpoint. Kraken always
// includes the currently-forming bar as the newest element; closed-only
// trimming is the caller's responsibility per spec.md §4.2.
func (c *KrakenClient) GetHistoricalPrices(ctx context.Context, epic string, resolution string, numPoints int) ([]types.OHLC, error) {
	interval := krakenInterval(resolution)
	resp, err := http.Get(fmt.Sprintf("%s/0/public/OHLC?pair=%s&interval=%d", c.cfg.BaseURL, epic, interval))
	if err != nil {
		return nil, fmt.Errorf("kraken: get historical prices for %s: %w", epic, err)
	}
	defer resp.Body.Close()

	var raw struct {
		Result map[string][][]any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("kraken: decoding OHLC response: %w", err)
	}
	rows, ok := raw.Result[epic]
	if !ok {
		return nil, fmt.Errorf("kraken: no OHLC data for %s", epic)
	}
	if numPoints > 0 && len(rows) > numPoints {
		rows = rows[len(rows)-numPoints:]
	}
	out := make([]types.OHLC, 0, len(rows))
	for _, r := range rows {
		if len(r) < 7 {
			continue
		}
		ts, _ := r[0].(float64)
		open, _ := decimal.NewFromString(fmt.Sprint(r[1]))
		high, _ := decimal.NewFromString(fmt.Sprint(r[2]))
		low, _ := decimal.NewFromString(fmt.Sprint(r[3]))
		closeP, _ := decimal.NewFromString(fmt.Sprint(r[4]))
		vol, _ := decimal.NewFromString(fmt.Sprint(r[6]))
		out = append(out, types.OHLC{Time: time.Unix(int64(ts), 0).UTC(), Open: open, High: high, Low: low, Close: closeP, Volume: vol})
	}
	return out, nil
}

// krakenInterval maps a resolution label to Kraken's OHLC interval in
// minutes, defaulting to 1-minute bars for anything unrecognized.
func krakenInterval(resolution string) int {
	switch resolution {
	case "5m":
		return 5
	case "15m":
		return 15
	case "1h":
		return 60
	default:
		return 1
	}
}

func (c *KrakenClient) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	params := url.Values{
		"pair": {req.Epic},
		"type": {strings.ToLower(string(req.Side))},
	}
	var raw struct {
		Result struct {
			TxID []string `json:"txid"`
		} `json:"result"`
	}
	if err := c.doSigned(ctx, http.MethodPost, "/0/private/AddOrder", params, &raw); err != nil {
		return nil, fmt.Errorf("kraken: place order for %s: %w", req.Epic, err)
	}
	var dealID string
	if len(raw.Result.TxID) > 0 {
		dealID = raw.Result.TxID[0]
	}
	return &types.OrderResult{DealID: dealID, Status: types.OrderStatusFilled, FilledPrice: req.LimitLevel, FilledAt: time.Now()}, nil
}

// SubscribeTrades opens Kraken's public trade-stream websocket feeding the
// Streaming Worker's 1-minute aggregation.
func (c *KrakenClient) SubscribeTrades(ctx context.Context, pairs []string, onTrade func(epic string, price, size decimal.Decimal, at time.Time)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("kraken: dialing trade stream: %w", err)
	}
	c.wsConn = conn

	sub := map[string]any{"event": "subscribe", "pair": pairs, "subscription": map[string]string{"name": "trade"}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("kraken: subscribing trade stream: %w", err)
	}

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			epic, price, size, at, ok := parseKrakenTradeMessage(raw)
			if ok && onTrade != nil {
				onTrade(epic, price, size, at)
			}
		}
	}()
	return nil
}

// parseKrakenTradeMessage decodes Kraken's [channelID, [[price, volume,
// time, ...]], "trade", pair] wire format; timestamps arrive as ISO-8601
// strings on some payload variants, parsed with relvacode/iso8601.
func parseKrakenTradeMessage(raw []byte) (epic string, price, size decimal.Decimal, at time.Time, ok bool) {
	var generic []json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil || len(generic) < 4 {
		return "", decimal.Zero, decimal.Zero, time.Time{}, false
	}

	var pair string
	if err := json.Unmarshal(generic[len(generic)-1], &pair); err != nil {
		return "", decimal.Zero, decimal.Zero, time.Time{}, false
	}

	var trades [][]string
	if err := json.Unmarshal(generic[1], &trades); err != nil || len(trades) == 0 {
		return "", decimal.Zero, decimal.Zero, time.Time{}, false
	}

	t := trades[0]
	p, err1 := decimal.NewFromString(t[0])
	v, err2 := decimal.NewFromString(t[1])
	if err1 != nil || err2 != nil {
		return "", decimal.Zero, decimal.Zero, time.Time{}, false
	}

	ts := time.Now()
	if len(t) > 2 {
		if parsed, err := iso8601.ParseString(t[2]); err == nil {
			ts = parsed
		}
	}
	return pair, p, v, ts, true
}
