package stockagent

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

var maotai = &StockIdentifier{Code: "600519", Market: MarketShanghai, Name: "贵州茅台"}

const klineBody = `{"data":{"code":"600519","name":"贵州茅台","klines":[
"2024-06-03,1700.00,1710.50,1720.00,1695.00,25000,42762500000,1.47,0.62,10.50,0.20",
"2024-06-04,1710.50,1688.00,1715.00,1680.00,31000,52328000000,2.05,-1.32,-22.50,0.25"
]}}`

func newTestMarketClient(doer HTTPDoer) *MarketClient {
	return NewMarketClient(MarketClientOptions{HTTPClient: doer})
}

func TestFetchDailyParsesKlines(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: klineBody}}}
	mc := newTestMarketClient(doer)

	bars, err := mc.FetchDaily(context.Background(), maotai, "2024-06-03", "2024-06-04")
	assertNoError(t, err, "FetchDaily")
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}

	first := bars[0]
	if first.Date != "2024-06-03" {
		t.Fatalf("date = %s", first.Date)
	}
	assertFloatEquals(t, first.Open.Float(), 1700.00, "open")
	assertFloatEquals(t, first.Close.Float(), 1710.50, "close")
	assertFloatEquals(t, first.High.Float(), 1720.00, "high")
	assertFloatEquals(t, first.Low.Float(), 1695.00, "low")
	if first.Volume != 25000 {
		t.Fatalf("volume = %d", first.Volume)
	}
	assertFloatEquals(t, first.PctChg.Float(), 0.62, "pct chg")
	assertFloatEquals(t, first.Turnover.Float(), 0.20, "turnover")

	// The request targets the kline endpoint with the Shanghai secid.
	u := doer.requests[0].URL
	if u.Host != "push2his.eastmoney.com" {
		t.Fatalf("host = %s", u.Host)
	}
	q := u.Query()
	if q.Get("secid") != "1.600519" || q.Get("klt") != "101" || q.Get("fqt") != "0" {
		t.Fatalf("unexpected query: %s", u.RawQuery)
	}
	if q.Get("beg") != "20240603" || q.Get("end") != "20240604" {
		t.Fatalf("unexpected range: %s", u.RawQuery)
	}
}

func TestFetchDailyShenzhenSecid(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: klineBody}}}
	mc := newTestMarketClient(doer)

	pingan := &StockIdentifier{Code: "000001", Market: MarketShenzhen, Name: "平安银行"}
	_, err := mc.FetchDaily(context.Background(), pingan, "2024-06-03", "2024-06-04")
	assertNoError(t, err, "FetchDaily")
	if got := doer.requests[0].URL.Query().Get("secid"); got != "0.000001" {
		t.Fatalf("secid = %s", got)
	}
}

func TestFetchDailyValidation(t *testing.T) {
	mc := newTestMarketClient(&sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: klineBody}}})
	ctx := context.Background()

	_, err := mc.FetchDaily(ctx, &StockIdentifier{Code: "60051", Market: MarketShanghai}, "2024-06-03", "2024-06-04")
	assertErrorCode(t, err, ErrCodeInvalidInput, "short code")

	_, err = mc.FetchDaily(ctx, nil, "2024-06-03", "2024-06-04")
	assertErrorCode(t, err, ErrCodeInvalidInput, "nil stock")

	_, err = mc.FetchDaily(ctx, maotai, "bad-date", "2024-06-04")
	assertErrorCode(t, err, ErrCodeInvalidInput, "bad start date")

	_, err = mc.FetchDaily(ctx, maotai, "2024-06-04", "2024-06-03")
	assertErrorCode(t, err, ErrCodeInvalidInput, "inverted range")
}

func TestFetchDailyEmptyKlines(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{
		{status: http.StatusOK, body: `{"data":{"code":"600519","name":"贵州茅台","klines":[]}}`},
	}}
	mc := newTestMarketClient(doer)

	_, err := mc.FetchDaily(context.Background(), maotai, "2024-06-03", "2024-06-04")
	assertErrorCode(t, err, ErrCodeNotFound, "empty klines")
}

func TestFetchDailyUpstreamStatus(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusBadGateway, body: ""}}}
	mc := newTestMarketClient(doer)

	_, err := mc.FetchDaily(context.Background(), maotai, "2024-06-03", "2024-06-04")
	assertErrorCode(t, err, ErrCodeHTTP, "bad gateway")
}

func TestFetchDailyTimeout(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{err: timeoutError{}}}}
	mc := newTestMarketClient(doer)

	_, err := mc.FetchDaily(context.Background(), maotai, "2024-06-03", "2024-06-04")
	assertErrorCode(t, err, ErrCodeTimeout, "timeout")
}

func TestFetchDailyCircuitOpens(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{err: timeoutError{}}}}
	mc := NewMarketClient(MarketClientOptions{
		HTTPClient:    doer,
		FailThreshold: 3,
		FailWindow:    time.Minute,
		Cooldown:      5 * time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := mc.FetchDaily(ctx, maotai, "2024-06-03", "2024-06-04")
		assertErrorCode(t, err, ErrCodeTimeout, "failing fetch")
	}

	// Circuit is open: the next call is rejected without touching the network.
	before := doer.callCount()
	_, err := mc.FetchDaily(ctx, maotai, "2024-06-03", "2024-06-04")
	assertErrorCode(t, err, ErrCodeUpstream, "circuit open")
	if e, ok := err.(*Error); !ok || !strings.Contains(e.Message, "熔断") {
		t.Fatalf("unexpected circuit message: %v", err)
	}
	if doer.callCount() != before {
		t.Fatalf("open circuit must not issue requests")
	}
}

func TestFetchDailyCircuitResetsOnSuccess(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{
		{err: timeoutError{}},
		{err: timeoutError{}},
		{status: http.StatusOK, body: klineBody},
		{err: timeoutError{}},
	}}
	mc := NewMarketClient(MarketClientOptions{HTTPClient: doer, FailThreshold: 3})
	ctx := context.Background()

	mc.FetchDaily(ctx, maotai, "2024-06-03", "2024-06-04")
	mc.FetchDaily(ctx, maotai, "2024-06-03", "2024-06-04")
	_, err := mc.FetchDaily(ctx, maotai, "2024-06-03", "2024-06-04")
	assertNoError(t, err, "successful fetch resets the window")

	// The next failure starts a fresh count instead of tripping the breaker.
	_, err = mc.FetchDaily(ctx, maotai, "2024-06-03", "2024-06-04")
	assertErrorCode(t, err, ErrCodeTimeout, "fresh failure")
	_, err = mc.FetchDaily(ctx, maotai, "2024-06-03", "2024-06-04")
	assertErrorCode(t, err, ErrCodeTimeout, "still closed")
}

func TestFetchDailyWithPrevExtendsRange(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: klineBody}}}
	mc := newTestMarketClient(doer)

	// 2024-06-03 is a Monday; the previous trading day is Friday 05-31.
	_, err := mc.FetchDailyWithPrev(context.Background(), maotai, "2024-06-03", "2024-06-04")
	assertNoError(t, err, "FetchDailyWithPrev")
	if got := doer.requests[0].URL.Query().Get("beg"); got != "20240531" {
		t.Fatalf("beg = %s, want 20240531", got)
	}
}

func TestParseKlineMalformed(t *testing.T) {
	_, err := parseKline("2024-06-03,1700.00")
	if err == nil {
		t.Fatalf("expected error for truncated kline")
	}
	_, err = parseKline("2024-06-03,abc,1710.50,1720.00,1695.00,25000,1,1,1,1,1")
	if err == nil {
		t.Fatalf("expected error for non-numeric price")
	}
}

func TestListStocks(t *testing.T) {
	body := `{"data":{"total":3,"diff":[
{"f12":"600519","f14":"贵州茅台"},
{"f12":"000001","f14":"平安银行"},
{"f12":"BK0475","f14":"银行板块"}
]}}`
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: body}}}
	mc := newTestMarketClient(doer)

	listings, err := mc.ListStocks(context.Background())
	assertNoError(t, err, "ListStocks")
	// Non 6-digit codes (board indexes) are filtered out.
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}
	if listings[0].Code != "600519" || listings[1].Name != "平安银行" {
		t.Fatalf("unexpected listings: %+v", listings)
	}

	q := doer.requests[0].URL.Query()
	if q.Get("fs") != ashareListFilter || q.Get("fields") != "f12,f14" {
		t.Fatalf("unexpected query: %s", doer.requests[0].URL.RawQuery)
	}
}

func TestListStocksEmpty(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{
		{status: http.StatusOK, body: `{"data":{"total":0,"diff":[]}}`},
	}}
	mc := newTestMarketClient(doer)

	_, err := mc.ListStocks(context.Background())
	assertErrorCode(t, err, ErrCodeUpstreamData, "empty directory")
}

const financialsBody = `{"result":{"data":[
{"REPORT_DATE":"2024-03-31 00:00:00","EPSJB":15.01,"ZCFZL":20.1,"TOTALOPERATEREVE":46485000000},
{"REPORT_DATE":"2023-12-31 00:00:00","EPSJB":59.49,"ZCFZL":21.4,"TOTALOPERATEREVE":150560000000,"MGJYXJJE":52.66,"XJLLB":1.2},
{"REPORT_DATE":"2022-12-31 00:00:00","EPSJB":49.93,"ZCFZL":23.2,"TOTALOPERATEREVE":127554000000,"MGJYXJJE":29.25,"XJLLB":1.1}
]}}`

func TestFetchFinancialsAnnualOnly(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: financialsBody}}}
	mc := newTestMarketClient(doer)

	periods, err := mc.FetchFinancials(context.Background(), maotai, ReportAll, 5)
	assertNoError(t, err, "FetchFinancials")
	if len(periods) != 2 {
		t.Fatalf("expected 2 annual periods, got %d", len(periods))
	}
	if periods[0].ReportDate != "2023-12-31" || periods[1].ReportDate != "2022-12-31" {
		t.Fatalf("unexpected period order: %+v", periods)
	}
	assertFloatEquals(t, periods[0].Values["基本每股收益"], 59.49, "eps")
	assertFloatEquals(t, periods[0].Values["资产负债率"], 21.4, "debt ratio")

	q := doer.requests[0].URL.Query()
	if q.Get("reportName") != "RPT_F10_FINANCE_MAINFINADATA" {
		t.Fatalf("unexpected report name: %s", q.Get("reportName"))
	}
	if q.Get("filter") != `(SECUCODE="600519.SH")` {
		t.Fatalf("unexpected filter: %s", q.Get("filter"))
	}
}

func TestFetchFinancialsTypeFilter(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: financialsBody}}}
	mc := newTestMarketClient(doer)

	periods, err := mc.FetchFinancials(context.Background(), maotai, ReportCashFlow, 5)
	assertNoError(t, err, "FetchFinancials cash flow")
	values := periods[0].Values
	if _, ok := values["现金流量比率"]; !ok {
		t.Fatalf("cash flow indicator missing: %v", values)
	}
	if _, ok := values["资产负债率"]; ok {
		t.Fatalf("balance sheet indicator leaked into cash flow: %v", values)
	}
}

func TestFetchFinancialsLimit(t *testing.T) {
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: financialsBody}}}
	mc := newTestMarketClient(doer)

	periods, err := mc.FetchFinancials(context.Background(), maotai, ReportAll, 1)
	assertNoError(t, err, "FetchFinancials limit")
	if len(periods) != 1 || periods[0].ReportDate != "2023-12-31" {
		t.Fatalf("unexpected periods: %+v", periods)
	}
}

func TestFetchFinancialsValidation(t *testing.T) {
	mc := newTestMarketClient(&sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: financialsBody}}})
	ctx := context.Background()

	_, err := mc.FetchFinancials(ctx, &StockIdentifier{Code: "abc"}, ReportAll, 5)
	assertErrorCode(t, err, ErrCodeInvalidInput, "bad code")

	_, err = mc.FetchFinancials(ctx, maotai, "income_statement", 5)
	assertErrorCode(t, err, ErrCodeInvalidInput, "bad report type")
}

func TestFetchFinancialsNoAnnualData(t *testing.T) {
	body := `{"result":{"data":[{"REPORT_DATE":"2024-03-31 00:00:00","EPSJB":15.01}]}}`
	doer := &sequencedDoer{responses: []mockResponse{{status: http.StatusOK, body: body}}}
	mc := newTestMarketClient(doer)

	_, err := mc.FetchFinancials(context.Background(), maotai, ReportAll, 5)
	assertErrorCode(t, err, ErrCodeNotFound, "quarterly only")
}
