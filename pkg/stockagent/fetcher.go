package stockagent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Circuit breaker defaults for market data sources.
const (
	defaultFailThreshold = 3
	defaultFailWindow    = time.Minute
	defaultCooldown      = 5 * time.Minute
	defaultFetchTimeout  = 15 * time.Second

	// maxMarketResponseSize limits provider responses. The full A-share
	// directory runs to a few MB of JSON.
	maxMarketResponseSize = 8 << 20
)

// Service names used as circuit breaker keys.
const (
	serviceKline      = "eastmoney_kline"
	serviceDirectory  = "eastmoney_clist"
	serviceFinancials = "eastmoney_datacenter"
)

var reStockCode = regexp.MustCompile(`^\d{6}$`)

// MarketClientOptions configures a MarketClient.
type MarketClientOptions struct {
	Logger        *slog.Logger
	HTTPClient    HTTPDoer // Optional: inject custom client for testing
	Timeout       time.Duration
	FailThreshold int
	FailWindow    time.Duration
	Cooldown      time.Duration
}

// MarketClient fetches A-share market data from Eastmoney endpoints. Each
// endpoint runs behind a per-service circuit breaker so a flapping upstream
// is left alone for a cooldown period instead of being hammered.
type MarketClient struct {
	logger *slog.Logger
	client HTTPDoer

	failThreshold int
	failWindow    time.Duration
	cooldown      time.Duration

	circuitMu    sync.Mutex
	serviceState map[string]*serviceState
}

type serviceState struct {
	failCount     int
	firstFailAt   time.Time
	cooldownUntil time.Time
}

// NewMarketClient builds a MarketClient with defaults filled in.
func NewMarketClient(opts MarketClientOptions) *MarketClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultFetchTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	failThreshold := opts.FailThreshold
	if failThreshold <= 0 {
		failThreshold = defaultFailThreshold
	}
	failWindow := opts.FailWindow
	if failWindow <= 0 {
		failWindow = defaultFailWindow
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &MarketClient{
		logger:        logger,
		client:        client,
		failThreshold: failThreshold,
		failWindow:    failWindow,
		cooldown:      cooldown,
		serviceState:  map[string]*serviceState{},
	}
}

func (mc *MarketClient) serviceAvailable(service string) bool {
	mc.circuitMu.Lock()
	defer mc.circuitMu.Unlock()
	state, ok := mc.serviceState[service]
	if !ok {
		return true
	}
	return time.Now().After(state.cooldownUntil)
}

func (mc *MarketClient) recordServiceFailure(service string) {
	mc.circuitMu.Lock()
	defer mc.circuitMu.Unlock()
	state := mc.serviceState[service]
	now := time.Now()
	if state == nil {
		state = &serviceState{firstFailAt: now}
		mc.serviceState[service] = state
	}
	if now.Sub(state.firstFailAt) > mc.failWindow {
		state.failCount = 0
		state.firstFailAt = now
	}
	state.failCount++
	if state.failCount >= mc.failThreshold {
		state.cooldownUntil = now.Add(mc.cooldown)
		mc.logger.Warn("market service circuit opened", "service", service, "cooldown", mc.cooldown)
	}
}

func (mc *MarketClient) recordServiceSuccess(service string) {
	mc.circuitMu.Lock()
	defer mc.circuitMu.Unlock()
	delete(mc.serviceState, service)
}

// secidFor builds the Eastmoney security id ("1.600519" / "0.000001").
func secidFor(stock *StockIdentifier) string {
	market := "0"
	if stock.Market == MarketShanghai {
		market = "1"
	}
	return market + "." + stock.Code
}

// FetchDaily retrieves unadjusted daily bars for the inclusive date range.
// Dates are YYYY-MM-DD. An empty range yields ErrCodeNotFound.
func (mc *MarketClient) FetchDaily(ctx context.Context, stock *StockIdentifier, startDate, endDate string) ([]DailyBar, error) {
	if stock == nil || !reStockCode.MatchString(stock.Code) {
		return nil, NewError(ErrCodeInvalidInput, "无效的股票代码")
	}
	start, err := ParseDate(startDate)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate(endDate)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, NewError(ErrCodeInvalidInput, "结束日期早于开始日期")
	}
	if !mc.serviceAvailable(serviceKline) {
		return nil, NewError(ErrCodeUpstream, "行情数据源熔断冷却中")
	}

	query := url.Values{}
	query.Set("secid", secidFor(stock))
	query.Set("klt", "101")
	query.Set("fqt", "0")
	query.Set("beg", start.Format(dateLayoutCompact))
	query.Set("end", end.Format(dateLayoutCompact))
	query.Set("fields1", "f1,f2,f3,f4,f5,f6")
	query.Set("fields2", "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61")
	endpoint := "https://push2his.eastmoney.com/api/qt/stock/kline/get?" + query.Encode()

	body, err := mc.httpGet(ctx, endpoint, map[string]string{
		"User-Agent": "Mozilla/5.0",
		"Referer":    "http://quote.eastmoney.com/",
	})
	if err != nil {
		mc.recordServiceFailure(serviceKline)
		return nil, err
	}

	var payload struct {
		Data *struct {
			Code   string   `json:"code"`
			Name   string   `json:"name"`
			Klines []string `json:"klines"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		mc.recordServiceFailure(serviceKline)
		return nil, WrapError(ErrCodeMalformedResponse, "行情数据格式异常", err)
	}
	mc.recordServiceSuccess(serviceKline)

	if payload.Data == nil || len(payload.Data.Klines) == 0 {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("未获取到股票 %s 的数据", stock.Code))
	}

	bars := make([]DailyBar, 0, len(payload.Data.Klines))
	for _, line := range payload.Data.Klines {
		bar, err := parseKline(line)
		if err != nil {
			return nil, WrapError(ErrCodeMalformedResponse, "行情数据格式异常", err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKline parses one comma-joined kline record:
// date,open,close,high,low,volume,amount,amplitude,pct_chg,change,turnover.
func parseKline(line string) (DailyBar, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 11 {
		return DailyBar{}, fmt.Errorf("kline has %d fields", len(fields))
	}
	prices := make([]Price, 8)
	for i, idx := range []int{1, 2, 3, 4, 6, 7, 8, 9} {
		p, err := ParsePrice(fields[idx])
		if err != nil {
			return DailyBar{}, err
		}
		prices[i] = p
	}
	volumeFloat, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return DailyBar{}, err
	}
	turnover, err := ParsePrice(fields[10])
	if err != nil {
		return DailyBar{}, err
	}
	return DailyBar{
		Date:      fields[0],
		Open:      prices[0],
		Close:     prices[1],
		High:      prices[2],
		Low:       prices[3],
		Volume:    int64(volumeFloat),
		Amount:    prices[4],
		Amplitude: prices[5],
		PctChg:    prices[6],
		Change:    prices[7],
		Turnover:  turnover,
	}, nil
}

// FetchDailyWithPrev extends the range back to the previous trading day so
// the first in-range bar has a reference close for change calculations.
func (mc *MarketClient) FetchDailyWithPrev(ctx context.Context, stock *StockIdentifier, startDate, endDate string) ([]DailyBar, error) {
	prev, err := PrevTradeDate(startDate, nil)
	if err != nil {
		return nil, err
	}
	return mc.FetchDaily(ctx, stock, prev, endDate)
}

// ashareListFilter selects all A-share boards in the clist API.
const ashareListFilter = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23,m:0+t:81+s:2048"

// ListStocks downloads the full A-share directory as (code, name) pairs.
// Shaped to serve as a DirectoryLoader.
func (mc *MarketClient) ListStocks(ctx context.Context) ([]StockListing, error) {
	if !mc.serviceAvailable(serviceDirectory) {
		return nil, NewError(ErrCodeUpstream, "行情数据源熔断冷却中")
	}

	query := url.Values{}
	query.Set("pn", "1")
	query.Set("pz", "50000")
	query.Set("po", "1")
	query.Set("np", "1")
	query.Set("fltt", "2")
	query.Set("invt", "2")
	query.Set("fid", "f12")
	query.Set("fs", ashareListFilter)
	query.Set("fields", "f12,f14")
	endpoint := "https://80.push2.eastmoney.com/api/qt/clist/get?" + query.Encode()

	body, err := mc.httpGet(ctx, endpoint, map[string]string{
		"User-Agent": "Mozilla/5.0",
		"Referer":    "http://quote.eastmoney.com/",
	})
	if err != nil {
		mc.recordServiceFailure(serviceDirectory)
		return nil, err
	}

	var payload struct {
		Data *struct {
			Total int `json:"total"`
			Diff  []struct {
				Code string `json:"f12"`
				Name string `json:"f14"`
			} `json:"diff"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		mc.recordServiceFailure(serviceDirectory)
		return nil, WrapError(ErrCodeMalformedResponse, "股票列表格式异常", err)
	}
	mc.recordServiceSuccess(serviceDirectory)

	if payload.Data == nil || len(payload.Data.Diff) == 0 {
		return nil, NewError(ErrCodeUpstreamData, "股票列表为空")
	}

	listings := make([]StockListing, 0, len(payload.Data.Diff))
	for _, item := range payload.Data.Diff {
		if !reStockCode.MatchString(item.Code) {
			continue
		}
		listings = append(listings, StockListing{Code: item.Code, Name: item.Name})
	}
	return listings, nil
}

// Financial indicator columns of the main-financials report, mapped to their
// Chinese labels. Report-type filtering keys off the label text.
var financialIndicators = []struct {
	column string
	label  string
}{
	{"EPSJB", "基本每股收益"},
	{"BPS", "每股净资产"},
	{"MGZBGJ", "每股资本公积"},
	{"MGWFPLR", "每股未分配利润"},
	{"MGJYXJJE", "每股经营现金流量"},
	{"TOTALOPERATEREVE", "营业总收入"},
	{"MLR", "毛利润"},
	{"PARENTNETPROFIT", "归属净利润"},
	{"KCFJCXSYJLR", "扣非净利润"},
	{"ROEJQ", "净资产收益率"},
	{"ZZCJLL", "总资产收益率"},
	{"XSJLL", "销售净利率"},
	{"XSMLL", "销售毛利率"},
	{"LD", "流动比率"},
	{"SD", "速动比率"},
	{"XJLLB", "现金流量比率"},
	{"ZCFZL", "资产负债率"},
	{"QYCS", "权益乘数"},
	{"CQBL", "产权比率"},
}

// reportTypeKeywords filters indicator labels per statement type. ReportAll
// keeps every indicator.
var reportTypeKeywords = map[string][]string{
	ReportBalanceSheet: {"资产", "负债", "权益"},
	ReportProfitSheet:  {"利润", "收入", "成本", "费用", "收益"},
	ReportCashFlow:     {"现金流量"},
}

// FetchFinancials retrieves the most recent annual main-financials periods
// for a stock, filtered to the requested statement type. limit caps the
// number of periods, newest first; values <= 0 default to 5.
func (mc *MarketClient) FetchFinancials(ctx context.Context, stock *StockIdentifier, reportType string, limit int) ([]FinancialPeriod, error) {
	if stock == nil || !reStockCode.MatchString(stock.Code) {
		return nil, NewError(ErrCodeInvalidInput, "无效的股票代码")
	}
	keywords, ok := reportTypeKeywords[reportType]
	if !ok && reportType != ReportAll {
		return nil, NewError(ErrCodeInvalidInput, fmt.Sprintf("不支持的报表类型: %s", reportType))
	}
	if limit <= 0 {
		limit = 5
	}
	if !mc.serviceAvailable(serviceFinancials) {
		return nil, NewError(ErrCodeUpstream, "财务数据源熔断冷却中")
	}

	query := url.Values{}
	query.Set("reportName", "RPT_F10_FINANCE_MAINFINADATA")
	query.Set("columns", "ALL")
	query.Set("filter", fmt.Sprintf(`(SECUCODE="%s.%s")`, stock.Code, stock.Market))
	query.Set("sortColumns", "REPORT_DATE")
	query.Set("sortTypes", "-1")
	query.Set("pageNumber", "1")
	query.Set("pageSize", "120")
	endpoint := "https://datacenter.eastmoney.com/securities/api/data/v1/get?" + query.Encode()

	body, err := mc.httpGet(ctx, endpoint, map[string]string{
		"User-Agent": "Mozilla/5.0",
		"Referer":    "https://emweb.securities.eastmoney.com/",
	})
	if err != nil {
		mc.recordServiceFailure(serviceFinancials)
		return nil, err
	}

	var payload struct {
		Result *struct {
			Data []map[string]any `json:"data"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		mc.recordServiceFailure(serviceFinancials)
		return nil, WrapError(ErrCodeMalformedResponse, "财务数据格式异常", err)
	}
	mc.recordServiceSuccess(serviceFinancials)

	if payload.Result == nil || len(payload.Result.Data) == 0 {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("未获取到股票 %s 的财务数据", stock.Code))
	}

	periods := make([]FinancialPeriod, 0, limit)
	for _, row := range payload.Result.Data {
		reportDate, _ := row["REPORT_DATE"].(string)
		if len(reportDate) >= 10 {
			reportDate = reportDate[:10]
		}
		// Annual reports only.
		if !strings.HasSuffix(reportDate, "-12-31") {
			continue
		}
		values := map[string]float64{}
		for _, ind := range financialIndicators {
			if !matchesReportType(ind.label, keywords) {
				continue
			}
			if f, ok := asFloat(row[ind.column]); ok {
				values[ind.label] = f
			}
		}
		if len(values) == 0 {
			continue
		}
		periods = append(periods, FinancialPeriod{ReportDate: reportDate, Values: values})
		if len(periods) >= limit {
			break
		}
	}
	if len(periods) == 0 {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("未获取到股票 %s 的年报数据", stock.Code))
	}
	return periods, nil
}

// splitByStatement regroups all-indicator periods under the three statement
// types by label keyword. A label matching several statements appears under
// each; periods with no matching label for a statement are skipped.
func splitByStatement(periods []FinancialPeriod) map[string][]FinancialPeriod {
	out := map[string][]FinancialPeriod{}
	for _, reportType := range []string{ReportBalanceSheet, ReportProfitSheet, ReportCashFlow} {
		keywords := reportTypeKeywords[reportType]
		for _, p := range periods {
			values := map[string]float64{}
			for label, v := range p.Values {
				if matchesReportType(label, keywords) {
					values[label] = v
				}
			}
			if len(values) == 0 {
				continue
			}
			out[reportType] = append(out[reportType], FinancialPeriod{ReportDate: p.ReportDate, Values: values})
		}
	}
	return out
}

func matchesReportType(label string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(label, kw) {
			return true
		}
	}
	return false
}

func (mc *MarketClient) httpGet(ctx context.Context, endpoint string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, WrapError(ErrCodeInternal, "构造请求失败", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := mc.client.Do(req)
	if err != nil {
		if isTimeoutError(err) {
			return nil, WrapError(ErrCodeTimeout, "数据源请求超时", err)
		}
		return nil, WrapError(ErrCodeUpstream, "数据源请求失败", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewError(ErrCodeHTTP, fmt.Sprintf("数据源请求失败: HTTP %d", resp.StatusCode))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMarketResponseSize))
}
