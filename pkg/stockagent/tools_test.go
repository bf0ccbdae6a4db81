package stockagent

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestStockInfo(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: directoryBody}}}
	core, cleanup := setupTestDBWithClient(t, doer)
	defer cleanup()
	ctx := context.Background()

	stock, err := core.StockInfo(ctx, "贵州茅台")
	assertNoError(t, err, "StockInfo")
	if stock.Code != "600519" || stock.Market != MarketShanghai {
		t.Fatalf("unexpected stock: %+v", stock)
	}

	_, err = core.StockInfo(ctx, "不存在")
	assertErrorCode(t, err, ErrCodeNotFound, "unknown stock")
}

func TestIdentifierForCode(t *testing.T) {
	stock, err := identifierForCode("000001")
	assertNoError(t, err, "identifierForCode")
	if stock.Market != MarketShenzhen {
		t.Fatalf("unexpected market: %s", stock.Market)
	}

	_, err = identifierForCode("平安银行")
	assertErrorCode(t, err, ErrCodeInvalidInput, "name instead of code")
	_, err = identifierForCode("12345")
	assertErrorCode(t, err, ErrCodeInvalidInput, "short code")
}

func TestDailyDataClampsEndDate(t *testing.T) {
	withFixedNow(t, time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: klineBody}}}
	core, cleanup := setupTestDBWithClient(t, doer)
	defer cleanup()

	bars, err := core.DailyData(context.Background(), "600519", "2024-06-03", "2030-01-01")
	assertNoError(t, err, "DailyData")
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if got := doer.requests[0].URL.Query().Get("end"); got != "20240615" {
		t.Fatalf("future end not clamped: %s", got)
	}
}

func TestDailyDataRejectsBadCode(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := core.DailyData(context.Background(), "茅台", "2024-06-03", "2024-06-04")
	assertErrorCode(t, err, ErrCodeInvalidInput, "bad code")
}

func TestFinancialReportDefaultsToAll(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: financialsBody}}}
	core, cleanup := setupTestDBWithClient(t, doer)
	defer cleanup()

	data, err := core.FinancialReport(context.Background(), "600519", "", 0)
	assertNoError(t, err, "FinancialReport")
	// "all" fans out into the three statement keys.
	if len(data) != 3 {
		t.Fatalf("expected 3 statement groups, got %v", data)
	}
	balance := data[ReportBalanceSheet]
	if len(balance) != 2 {
		t.Fatalf("expected 2 balance periods, got %d", len(balance))
	}
	if _, ok := balance[0].Values["资产负债率"]; !ok {
		t.Fatalf("missing debt ratio: %+v", balance[0].Values)
	}
	if _, ok := balance[0].Values["基本每股收益"]; ok {
		t.Fatalf("eps must not land in the balance sheet: %+v", balance[0].Values)
	}
	if _, ok := data[ReportProfitSheet][0].Values["基本每股收益"]; !ok {
		t.Fatalf("missing eps: %+v", data[ReportProfitSheet])
	}
	if _, ok := data[ReportCashFlow][0].Values["现金流量比率"]; !ok {
		t.Fatalf("missing cash flow ratio: %+v", data[ReportCashFlow])
	}
}

func TestFinancialReportSingleType(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: financialsBody}}}
	core, cleanup := setupTestDBWithClient(t, doer)
	defer cleanup()

	data, err := core.FinancialReport(context.Background(), "600519", ReportCashFlow, 1)
	assertNoError(t, err, "FinancialReport cash flow")
	if len(data) != 1 {
		t.Fatalf("expected 1 statement group, got %v", data)
	}
	periods := data[ReportCashFlow]
	if len(periods) != 1 {
		t.Fatalf("expected 1 period, got %d", len(periods))
	}
	if _, ok := periods[0].Values["现金流量比率"]; !ok {
		t.Fatalf("missing cash flow ratio: %+v", periods[0].Values)
	}
	if _, ok := periods[0].Values["资产负债率"]; ok {
		t.Fatalf("debt ratio must not land in the cash flow group: %+v", periods[0].Values)
	}
}

func TestIndicators(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()

	metrics, trend := core.Indicators(rowsFromCloses(10, 11, 12))
	assertFloatEquals(t, metrics[MetricLatestClose], 12, "latest close")
	if trend.Direction != TrendUp {
		t.Fatalf("trend = %+v", trend)
	}

	metrics, trend = core.Indicators(nil)
	if len(metrics) != 0 || trend.Direction != TrendFlat {
		t.Fatalf("empty input should be neutral: %v %+v", metrics, trend)
	}
}
