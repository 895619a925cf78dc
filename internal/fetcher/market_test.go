package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spread-sentinel/internal/pricebook"
)

func decimalOne() decimal.Decimal {
	return decimal.NewFromInt(1)
}

func TestBinanceFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			t.Errorf("symbol 映射错误: %s", r.URL.Query().Get("symbol"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"symbol": "BTCUSDT", "price": "65010.12000000"})
	}))
	defer srv.Close()

	src := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	price, err := src.FetchComparison(context.Background(), "cmt_btcusdt", decimal.Zero)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("65010.12")) {
		t.Fatalf("期望 65010.12, 实际 %s", price)
	}
}

func TestBinanceFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -1121, "msg": "Invalid symbol."})
	}))
	defer srv.Close()

	src := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second, Symbols: map[string]string{"cmt_xyzusdt": "XYZUSDT"}}, noopLogger())
	if _, err := src.FetchComparison(context.Background(), "cmt_xyzusdt", decimal.Zero); err == nil {
		t.Fatal("HTTP 400 应返回错误")
	}
}

func TestSimulatedDriftBounded(t *testing.T) {
	book := pricebook.NewMemory()
	src := NewSimulated(SimulatedOptions{MaxDriftPct: decimal.NewFromInt(1), Seed: 7}, book, noopLogger())

	ref := decimal.NewFromInt(100)
	lo, hi := decimal.NewFromInt(99), decimal.NewFromInt(101)
	for i := 0; i < 200; i++ {
		price, err := src.FetchComparison(context.Background(), "cmt_btcusdt", ref)
		if err != nil {
			t.Fatalf("模拟报价失败: %v", err)
		}
		if price.LessThan(lo) || price.GreaterThan(hi) {
			t.Fatalf("漂移越界: %s", price)
		}
		entry, ok, _ := book.Get(context.Background(), "cmt_btcusdt")
		if !ok || !entry.Price.Equal(price) {
			t.Fatal("价格簿应记录最新模拟价")
		}
	}

	if _, err := src.FetchComparison(context.Background(), "cmt_btcusdt", decimal.Zero); err == nil {
		t.Fatal("参考价为零时应报错")
	}
}

func TestSymbolMapping(t *testing.T) {
	if got := AssetOf("cmt_btcusdt"); got != "BTC_USDT" {
		t.Fatalf("AssetOf: %s", got)
	}
	if got := SpotSymbolOf("cmt_ethusdt"); got != "ETHUSDT" {
		t.Fatalf("SpotSymbolOf: %s", got)
	}
}

func TestSimulatedServesFreshBookPrice(t *testing.T) {
	ctx := context.Background()
	book := pricebook.NewMemory()
	if err := book.Set(ctx, "cmt_btcusdt", decimal.NewFromInt(105)); err != nil {
		t.Fatalf("写入价格簿失败: %v", err)
	}
	src := NewSimulated(SimulatedOptions{MaxDriftPct: decimal.NewFromInt(1), Seed: 7, PriceTTL: time.Minute}, book, noopLogger())

	price, err := src.FetchComparison(ctx, "cmt_btcusdt", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("模拟报价失败: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("未过期的价格簿条目应直接返回, 实际 %s", price)
	}

	// 条目过期后重新抽样
	src.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	drawn, err := src.FetchComparison(ctx, "cmt_btcusdt", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("模拟报价失败: %v", err)
	}
	if drawn.LessThan(decimal.NewFromInt(99)) || drawn.GreaterThan(decimal.NewFromInt(101)) {
		t.Fatalf("过期后应围绕参考价重新抽样, 实际 %s", drawn)
	}

	src.now = time.Now
	held, err := src.FetchComparison(ctx, "cmt_btcusdt", decimal.NewFromInt(200))
	if err != nil {
		t.Fatalf("模拟报价失败: %v", err)
	}
	if !held.Equal(drawn) {
		t.Fatalf("新抽样价应在有效期内保持, 期望 %s 实际 %s", drawn, held)
	}
}
