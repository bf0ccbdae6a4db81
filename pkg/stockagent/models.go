package stockagent

// Market suffixes for A-share exchanges.
const (
	MarketShanghai = "SH"
	MarketShenzhen = "SZ"
)

// StockIdentifier is a normalized stock reference.
// Code is the bare 6-digit code; Symbol joins it with the market suffix.
type StockIdentifier struct {
	Code   string `json:"code"`
	Market string `json:"market"`
	Name   string `json:"name"`
}

// Symbol returns the canonical "code.market" form, e.g. "600519.SH".
func (s StockIdentifier) Symbol() string {
	return s.Code + "." + s.Market
}

// DailyBar is one day of OHLCV data as returned by the market-data provider.
type DailyBar struct {
	Date      string `json:"date"`
	Open      Price  `json:"open"`
	Close     Price  `json:"close"`
	High      Price  `json:"high"`
	Low       Price  `json:"low"`
	Volume    int64  `json:"volume"`
	Amount    Price  `json:"amount"`
	Amplitude Price  `json:"amplitude"`
	PctChg    Price  `json:"pct_chg"`
	Change    Price  `json:"change"`
	Turnover  Price  `json:"turnover"`
}

// Row is one loosely typed record of daily data, as accepted by the
// indicators tool. Field names are resolved through the alias table in
// the metrics engine.
type Row = map[string]any

// MetricsSnapshot maps metric names to values. It is derived on demand and
// never persisted.
type MetricsSnapshot map[string]float64

// Metric keys produced by ComputeMetrics.
const (
	MetricLatestClose     = "latest_close"
	MetricMaxClose        = "max_close"
	MetricMinClose        = "min_close"
	MetricMeanClose       = "mean_close"
	MetricPeriodChange    = "period_change"
	MetricPeriodReturnPct = "period_return_pct"
	MetricMaxDailyGainPct = "max_daily_gain_pct"
	MetricMaxDailyLossPct = "max_daily_loss_pct"
	MetricMaxDrawdownPct  = "max_drawdown_pct"
	MetricMaxRunupPct     = "max_runup_pct"
	MetricAnnVolPct       = "annualized_volatility_pct"
	MetricMeanVolume      = "mean_volume"
	MetricMaxVolume       = "max_volume"
	MetricLatestVolume    = "latest_volume"
)

// Trend directions and strengths.
const (
	TrendUp   = "up"
	TrendDown = "down"
	TrendFlat = "flat"

	StrengthWeak   = "weak"
	StrengthMedium = "medium"
	StrengthStrong = "strong"
)

// TrendAssessment is the result of a linear fit over a close series.
type TrendAssessment struct {
	Direction   string `json:"direction"`
	Strength    string `json:"strength"`
	Description string `json:"description"`
}

// FinancialNeeds describes which financial statements a request wants.
type FinancialNeeds struct {
	Needed    bool     `json:"needed"`
	Types     []string `json:"types,omitempty"`
	Period    int      `json:"period,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
}

// Requirements captures the analysis preferences extracted from a user request.
type Requirements struct {
	IncludeNews   bool            `json:"include_news"`
	SearchQuery   string          `json:"search_query,omitempty"`
	ReportLength  int             `json:"report_length"`
	Metrics       []string        `json:"metrics,omitempty"`
	Comparison    bool            `json:"comparison"`
	FinancialData *FinancialNeeds `json:"financial_data,omitempty"`
}

// ParsedIntent is the structured result of natural-language request parsing.
// It is created per user request and consumed immediately.
type ParsedIntent struct {
	Stocks       []string     `json:"stocks"`
	DateStart    string       `json:"date_start,omitempty"`
	DateEnd      string       `json:"date_end,omitempty"`
	RelativeDate string       `json:"relative_date,omitempty"`
	DataType     string       `json:"data_type"`
	Requirements Requirements `json:"requirements"`
}

// NewsItem is one news reference passed into report generation.
type NewsItem struct {
	Title       string `json:"title"`
	Link        string `json:"link,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
	FullContent string `json:"full_content,omitempty"`
}

// FinancialPeriod is one reporting period of financial-abstract data.
// Values are indicator name -> value, with report_date carried separately.
type FinancialPeriod struct {
	ReportDate string             `json:"report_date"`
	Values     map[string]float64 `json:"values"`
}

// Financial report types accepted by the financial-report tool.
const (
	ReportBalanceSheet = "balance_sheet"
	ReportProfitSheet  = "profit_sheet"
	ReportCashFlow     = "cash_flow_sheet"
	ReportAll          = "all"
)
