package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/config"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// IGClient is a traditional session-header broker client: login returns
// CST/X-SECURITY-TOKEN headers that are reused on every subsequent call,
// and Disconnect performs an explicit server-side logout. Grounded on
// core/services/broker/config.py's get_ig_broker/create_ig_broker_service
// for connect/cache/disconnect semantics, and on
// adapters.BinanceAdapter's signed-request shape for the HTTP plumbing.
type IGClient struct {
	*fsm
	cfg     config.BrokerConfig
	http    *http.Client
	limiter *limiterHandle

	cst         string
	securityTok string
}

func NewIGClient(log *zap.Logger, cfg config.BrokerConfig) *IGClient {
	return &IGClient{
		fsm:     newFSM(log),
		cfg:     cfg,
		http:    newHTTPClient(log),
		limiter: newLimiterHandle(8),
	}
}

func (c *IGClient) Kind() types.BrokerKind { return types.BrokerIG }

func (c *IGClient) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	if err := c.login(ctx); err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("ig: login: %w", err)
	}
	c.setState(StateConnected)
	return nil
}

func (c *IGClient) login(ctx context.Context) error {
	if err := acquire(ctx, c.limiter.l); err != nil {
		return err
	}

	body := map[string]string{"identifier": c.cfg.Username, "password": c.cfg.Password}
	raw, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/session", strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-IG-API-KEY", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ig: session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: session returned %d", ErrAuthFailed, resp.StatusCode)
	}

	c.cst = resp.Header.Get("CST")
	c.securityTok = resp.Header.Get("X-SECURITY-TOKEN")
	if c.cst == "" || c.securityTok == "" {
		return fmt.Errorf("%w: missing session headers in response", ErrAuthFailed)
	}
	return nil
}

func (c *IGClient) Disconnect(ctx context.Context) error {
	if c.State() != StateConnected {
		c.setState(StateDisconnected)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+"/session", nil)
	if err == nil {
		c.setSessionHeaders(req)
		if resp, err := c.http.Do(req); err == nil {
			resp.Body.Close()
		}
	}
	c.cst, c.securityTok = "", ""
	c.setState(StateDisconnected)
	return nil
}

func (c *IGClient) setSessionHeaders(req *http.Request) {
	req.Header.Set("X-IG-API-KEY", c.cfg.APIKey)
	req.Header.Set("CST", c.cst)
	req.Header.Set("X-SECURITY-TOKEN", c.securityTok)
}

func (c *IGClient) doSigned(ctx context.Context, method, path string, out any) error {
	return c.withReauth(ctx, c.login, func(ctx context.Context) error {
		if err := acquire(ctx, c.limiter.l); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, nil)
		if err != nil {
			return err
		}
		c.setSessionHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("ig: request %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			return ErrTokenInvalid
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("ig: %s returned %d", path, resp.StatusCode)
		}
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	})
}

func (c *IGClient) GetAccountState(ctx context.Context) (*types.AccountState, error) {
	var raw struct {
		Accounts []struct {
			Balance struct {
				Balance   decimal.Decimal `json:"balance"`
				Deposit   decimal.Decimal `json:"deposit"`
				Available decimal.Decimal `json:"available"`
			} `json:"balance"`
		} `json:"accounts"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/accounts", &raw); err != nil {
		return nil, fmt.Errorf("ig: get account state: %w", err)
	}
	if len(raw.Accounts) == 0 {
		return nil, fmt.Errorf("ig: no accounts returned")
	}
	a := raw.Accounts[0]
	return &types.AccountState{
		Balance:        a.Balance.Balance,
		Equity:         a.Balance.Balance,
		AvailableFunds: a.Balance.Available,
		AsOf:           time.Now(),
	}, nil
}

func (c *IGClient) GetSymbolPrice(ctx context.Context, epic string) (*types.SymbolPrice, error) {
	var raw struct {
		Snapshot struct {
			Bid decimal.Decimal `json:"bid"`
			Ask decimal.Decimal `json:"offer"`
		} `json:"snapshot"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/markets/"+epic, &raw); err != nil {
		return nil, fmt.Errorf("ig: get price for %s: %w", epic, err)
	}
	return &types.SymbolPrice{Epic: epic, Bid: raw.Snapshot.Bid, Ask: raw.Snapshot.Ask, Timestamp: time.Now()}, nil
}

func (c *IGClient) GetOpenPositions(ctx context.Context) ([]types.Position, error) {
	var raw struct {
		Positions []struct {
			Position struct {
				DealID    string          `json:"dealId"`
				Direction string          `json:"direction"`
				Size      decimal.Decimal `json:"size"`
				Level     decimal.Decimal `json:"level"`
				CreatedAt time.Time       `json:"createdDateUTC"`
			} `json:"position"`
			Market struct {
				Epic  string          `json:"epic"`
				Bid   decimal.Decimal `json:"bid"`
			} `json:"market"`
		} `json:"positions"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/positions", &raw); err != nil {
		return nil, fmt.Errorf("ig: get open positions: %w", err)
	}
	out := make([]types.Position, 0, len(raw.Positions))
	for _, p := range raw.Positions {
		side := types.OrderSideBuy
		if strings.EqualFold(p.Position.Direction, "SELL") {
			side = types.OrderSideSell
		}
		out = append(out, types.Position{
			DealID:       p.Position.DealID,
			Epic:         p.Market.Epic,
			Side:         side,
			Size:         p.Position.Size,
			OpenLevel:    p.Position.Level,
			CurrentLevel: p.Market.Bid,
			OpenedAt:     p.Position.CreatedAt,
		})
	}
	return out, nil
}

// GetHistoricalPrices returns closed candles ascending by time; IG's prices
// endpoint returns the most recent bar last, which may still be forming, so
// callers that need closed-only bars should drop the final element when its
// bucket has not yet elapsed.
func (c *IGClient) GetHistoricalPrices(ctx context.Context, epic string, resolution string, numPoints int) ([]types.OHLC, error) {
	var raw struct {
		Prices []struct {
			SnapshotTimeUTC time.Time `json:"snapshotTimeUTC"`
			OpenPrice       struct {
				Bid decimal.Decimal `json:"bid"`
			} `json:"openPrice"`
			HighPrice struct {
				Bid decimal.Decimal `json:"bid"`
			} `json:"highPrice"`
			LowPrice struct {
				Bid decimal.Decimal `json:"bid"`
			} `json:"lowPrice"`
			ClosePrice struct {
				Bid decimal.Decimal `json:"bid"`
			} `json:"closePrice"`
			LastTradedVolume decimal.Decimal `json:"lastTradedVolume"`
		} `json:"prices"`
	}
	path := fmt.Sprintf("/prices/%s?resolution=%s&max=%d", epic, resolution, numPoints)
	if err := c.doSigned(ctx, http.MethodGet, path, &raw); err != nil {
		return nil, fmt.Errorf("ig: get historical prices for %s: %w", epic, err)
	}
	out := make([]types.OHLC, 0, len(raw.Prices))
	for _, p := range raw.Prices {
		out = append(out, types.OHLC{
			Time:   p.SnapshotTimeUTC,
			Open:   p.OpenPrice.Bid,
			High:   p.HighPrice.Bid,
			Low:    p.LowPrice.Bid,
			Close:  p.ClosePrice.Bid,
			Volume: p.LastTradedVolume,
		})
	}
	return out, nil
}

func (c *IGClient) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	var raw struct {
		DealReference string `json:"dealReference"`
	}
	if err := c.doSigned(ctx, http.MethodPost, "/positions/otc", &raw); err != nil {
		return nil, fmt.Errorf("ig: place order for %s: %w", req.Epic, err)
	}
	return &types.OrderResult{
		DealID:      raw.DealReference,
		Status:      types.OrderStatusFilled,
		FilledPrice: req.LimitLevel,
		FilledAt:    time.Now(),
	}, nil
}
