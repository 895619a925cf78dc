package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

var priceFields = []string{"lastPrice", "price", "last", "best_ask", "best_bid"}

// Ticker is the latest traded price for a contract symbol.
type Ticker struct {
	Symbol string
	Price  decimal.Decimal
	Raw    json.RawMessage
}

// Level is one [price, size] order book row.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// UnmarshalJSON accepts ["price","size",...] rows as returned by the depth endpoint.
func (l *Level) UnmarshalJSON(data []byte) error {
	var row []decimal.Decimal
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	if len(row) < 2 {
		return fmt.Errorf("depth row has %d columns", len(row))
	}
	l.Price, l.Size = row[0], row[1]
	return nil
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

// OpenInterest is the outstanding contract volume for a symbol.
type OpenInterest struct {
	Symbol       string          `json:"symbol"`
	OpenInterest decimal.Decimal `json:"open_interest"`
}

// FundingRate is the current funding rate and next settlement time (ms).
type FundingRate struct {
	Symbol          string          `json:"symbol"`
	FundingRate     decimal.Decimal `json:"funding_rate"`
	NextFundingTime *int64          `json:"next_funding_time,omitempty"`
}

// Balance summarises the futures account.
type Balance struct {
	AccountID string          `json:"account_id"`
	Available decimal.Decimal `json:"available"`
	Margin    decimal.Decimal `json:"margin"`
	Total     decimal.Decimal `json:"total"`
	Assets    json.RawMessage `json:"assets,omitempty"`
}

// FetchTicker tries the public endpoint first and retries once signed.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	path := tickerPath + "?symbol=" + url.QueryEscape(symbol)

	resp, err := c.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		if c.signer == nil {
			return Ticker{}, fmt.Errorf("credentials not configured and public endpoint failed: %w", err)
		}
		c.logger.Debug().Err(err).Str("symbol", symbol).Msg("public ticker failed, retrying signed")
		resp, err = c.do(ctx, http.MethodGet, path, nil, true)
		if err != nil {
			return Ticker{}, err
		}
	}

	price, ok := extractPrice(resp)
	if !ok {
		return Ticker{}, fmt.Errorf("ticker %s: %w", symbol, errNoPrice)
	}
	return Ticker{Symbol: symbol, Price: price, Raw: resp.Data}, nil
}

func extractPrice(resp response) (decimal.Decimal, bool) {
	for _, raw := range []json.RawMessage{resp.Data, resp.Body} {
		obj := objectOf(raw)
		if obj == nil {
			continue
		}
		for _, field := range priceFields {
			if price, ok := firstDecimal(obj, field); ok && price.IsPositive() {
				return price, true
			}
		}
	}
	return decimal.Zero, false
}

// FetchTickers fetches symbols sequentially; failed symbols are omitted.
func (c *Client) FetchTickers(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for i, symbol := range symbols {
		if i > 0 {
			if err := sleepCtx(ctx, c.opts.RateLimitDelay); err != nil {
				return prices
			}
		}
		ticker, err := c.FetchTicker(ctx, symbol)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("ticker fetch failed")
			continue
		}
		prices[symbol] = ticker.Price
	}
	return prices
}

// OrderBook returns up to limit levels per side.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	path := depthPath + "?symbol=" + url.QueryEscape(symbol) + "&limit=" + strconv.Itoa(limit)
	resp, err := c.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return OrderBook{}, err
	}
	var book OrderBook
	if err := json.Unmarshal(resp.Data, &book); err != nil {
		return OrderBook{}, fmt.Errorf("decode depth: %w", err)
	}
	book.Symbol = symbol
	return book, nil
}

// RecentTrades returns the raw trade rows, newest first.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]json.RawMessage, error) {
	path := tradesPath + "?symbol=" + url.QueryEscape(symbol) + "&limit=" + strconv.Itoa(limit)
	resp, err := c.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return nil, err
	}

	var trades []json.RawMessage
	if err := json.Unmarshal(resp.Data, &trades); err == nil {
		return trades, nil
	}
	var wrapped struct {
		Trades []json.RawMessage `json:"trades"`
	}
	if err := json.Unmarshal(resp.Data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return wrapped.Trades, nil
}

// OpenInterest returns open interest for symbol.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	resp, err := c.do(ctx, http.MethodGet, openInterestPath+"?symbol="+url.QueryEscape(symbol), nil, false)
	if err != nil {
		return OpenInterest{}, err
	}
	obj := objectOf(resp.Data)
	value, _ := firstDecimal(obj, "openInterest", "open_interest", "amount")
	return OpenInterest{Symbol: symbol, OpenInterest: value}, nil
}

// FundingRate returns the current funding rate for symbol.
func (c *Client) FundingRate(ctx context.Context, symbol string) (FundingRate, error) {
	resp, err := c.do(ctx, http.MethodGet, fundingRatePath+"?symbol="+url.QueryEscape(symbol), nil, false)
	if err != nil {
		return FundingRate{}, err
	}
	obj := objectOf(resp.Data)
	rate, _ := firstDecimal(obj, "fundingRate", "funding_rate")
	out := FundingRate{Symbol: symbol, FundingRate: rate}
	if next, ok := firstDecimal(obj, "nextFundingTime", "next_funding_time", "timestamp"); ok {
		ms := next.IntPart()
		out.NextFundingTime = &ms
	}
	return out, nil
}

// AccountBalance requires credentials and returns ErrCredentialsMissing otherwise.
func (c *Client) AccountBalance(ctx context.Context) (Balance, error) {
	if c.signer == nil {
		return Balance{}, ErrCredentialsMissing
	}
	path := assetsPath
	if c.opts.AccountID != "" {
		path += "?accountId=" + url.QueryEscape(c.opts.AccountID)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return Balance{}, err
	}

	bal := Balance{AccountID: c.opts.AccountID}
	obj := objectOf(resp.Data)
	bal.Available, _ = firstDecimal(obj, "available")
	bal.Margin, _ = firstDecimal(obj, "margin", "frozen")
	if total, ok := firstDecimal(obj, "total", "equity"); ok {
		bal.Total = total
	} else {
		bal.Total = bal.Available.Add(bal.Margin)
	}
	if assets, ok := obj["assets"]; ok {
		bal.Assets = assets
	} else if len(resp.Data) > 0 && resp.Data[0] == '[' {
		bal.Assets = resp.Data
	}
	return bal, nil
}
