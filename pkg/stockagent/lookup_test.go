package stockagent

import (
	"context"
	"errors"
	"testing"
)

var testListings = []StockListing{
	{Code: "600519", Name: "贵州茅台"},
	{Code: "000001", Name: "平安银行"},
	{Code: "600000", Name: "浦发银行"},
	{Code: "300750", Name: "宁德时代"},
}

func newTestDirectory(entries []StockListing) (*StockDirectory, *int) {
	calls := 0
	loader := func(ctx context.Context) ([]StockListing, error) {
		calls++
		return entries, nil
	}
	return NewStockDirectory(loader, nil), &calls
}

func TestNormalizeByExactName(t *testing.T) {
	dir, _ := newTestDirectory(testListings)
	stock, err := dir.Normalize(context.Background(), "贵州茅台")
	assertNoError(t, err, "Normalize")
	if stock == nil || stock.Code != "600519" || stock.Market != MarketShanghai {
		t.Fatalf("unexpected stock: %+v", stock)
	}
}

func TestNormalizeBySubstringName(t *testing.T) {
	dir, _ := newTestDirectory(testListings)
	stock, err := dir.Normalize(context.Background(), "茅台")
	assertNoError(t, err, "Normalize")
	if stock == nil || stock.Code != "600519" {
		t.Fatalf("unexpected stock: %+v", stock)
	}
}

func TestNormalizeByCode(t *testing.T) {
	dir, _ := newTestDirectory(testListings)

	stock, err := dir.Normalize(context.Background(), "000001")
	assertNoError(t, err, "Normalize code")
	if stock == nil || stock.Name != "平安银行" || stock.Market != MarketShenzhen {
		t.Fatalf("unexpected stock: %+v", stock)
	}

	stock, err = dir.Normalize(context.Background(), "300750")
	assertNoError(t, err, "Normalize chinext code")
	if stock == nil || stock.Market != MarketShenzhen {
		t.Fatalf("300750 should resolve to Shenzhen: %+v", stock)
	}
}

func TestNormalizeDottedCode(t *testing.T) {
	dir, _ := newTestDirectory(testListings)

	stock, err := dir.Normalize(context.Background(), "600519.SH")
	assertNoError(t, err, "Normalize dotted")
	if stock == nil || stock.Code != "600519" || stock.Market != MarketShanghai {
		t.Fatalf("unexpected stock: %+v", stock)
	}

	// Unknown suffix falls back to the derived market.
	stock, err = dir.Normalize(context.Background(), "000001.XX")
	assertNoError(t, err, "Normalize bad suffix")
	if stock == nil || stock.Market != MarketShenzhen {
		t.Fatalf("unexpected stock: %+v", stock)
	}

	// Dotted input with an unknown code is not found.
	stock, err = dir.Normalize(context.Background(), "999999.SH")
	assertNoError(t, err, "Normalize unknown dotted")
	if stock != nil {
		t.Fatalf("expected nil for unknown dotted code, got %+v", stock)
	}
}

func TestNormalizeNotFound(t *testing.T) {
	dir, _ := newTestDirectory(testListings)
	stock, err := dir.Normalize(context.Background(), "不存在的股票")
	assertNoError(t, err, "Normalize not found")
	if stock != nil {
		t.Fatalf("expected nil for unknown name, got %+v", stock)
	}

	stock, err = dir.Normalize(context.Background(), "  ")
	assertNoError(t, err, "Normalize blank")
	if stock != nil {
		t.Fatalf("expected nil for blank input, got %+v", stock)
	}
}

func TestDirectoryLoadsOnce(t *testing.T) {
	dir, calls := newTestDirectory(testListings)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := dir.Normalize(ctx, "平安银行"); err != nil {
			t.Fatalf("Normalize: %v", err)
		}
	}
	if *calls != 1 {
		t.Fatalf("loader called %d times, want 1", *calls)
	}
}

func TestDirectoryRetriesAfterFailedLoad(t *testing.T) {
	calls := 0
	loader := func(ctx context.Context) ([]StockListing, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("network down")
		}
		return testListings, nil
	}
	dir := NewStockDirectory(loader, nil)
	ctx := context.Background()

	_, err := dir.Normalize(ctx, "贵州茅台")
	assertErrorCode(t, err, ErrCodeUpstreamData, "first load")

	// A failed load must not pin an empty list.
	stock, err := dir.Normalize(ctx, "贵州茅台")
	assertNoError(t, err, "second load")
	if stock == nil || stock.Code != "600519" {
		t.Fatalf("unexpected stock after retry: %+v", stock)
	}
	if calls != 2 {
		t.Fatalf("loader called %d times, want 2", calls)
	}
}

func TestDirectoryPrimeAndInvalidate(t *testing.T) {
	dir, calls := newTestDirectory(testListings)
	ctx := context.Background()

	dir.Prime([]StockListing{{Code: "601318", Name: "中国平安"}})
	stock, err := dir.Normalize(ctx, "中国平安")
	assertNoError(t, err, "Normalize primed")
	if stock == nil || stock.Code != "601318" {
		t.Fatalf("unexpected stock: %+v", stock)
	}
	if *calls != 0 {
		t.Fatalf("primed directory must not hit the loader, calls = %d", *calls)
	}

	dir.Invalidate()
	stock, err = dir.Normalize(ctx, "贵州茅台")
	assertNoError(t, err, "Normalize after invalidate")
	if stock == nil || stock.Code != "600519" {
		t.Fatalf("unexpected stock: %+v", stock)
	}
	if *calls != 1 {
		t.Fatalf("invalidate must force a reload, calls = %d", *calls)
	}
}

func TestValidate(t *testing.T) {
	dir, _ := newTestDirectory(testListings)
	ctx := context.Background()
	if !dir.Validate(ctx, "600519") {
		t.Fatalf("600519 should validate")
	}
	if dir.Validate(ctx, "999999") {
		t.Fatalf("999999 should not validate")
	}
}

func TestMarketForCode(t *testing.T) {
	cases := map[string]string{
		"600519": MarketShanghai,
		"000001": MarketShenzhen,
		"300750": MarketShenzhen,
		"688111": MarketShanghai,
	}
	for code, want := range cases {
		if got := marketForCode(code); got != want {
			t.Errorf("marketForCode(%s) = %s, want %s", code, got, want)
		}
	}
}
