package stockagent

import (
	"context"
	"fmt"
)

// StockInfo resolves a free-form name or code to a normalized identifier.
func (c *Core) StockInfo(ctx context.Context, nameOrCode string) (*StockIdentifier, error) {
	stock, err := c.directory.Normalize(ctx, nameOrCode)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("未找到股票: %s", nameOrCode))
	}
	return stock, nil
}

// identifierForCode builds an identifier for a bare 6-digit code without
// consulting the directory. The daily and financial tools accept codes only,
// so a directory outage must not block them.
func identifierForCode(stockCode string) (*StockIdentifier, error) {
	if !reStockCode.MatchString(stockCode) {
		return nil, NewError(ErrCodeInvalidInput, fmt.Sprintf("无效的股票代码: %s", stockCode))
	}
	return &StockIdentifier{Code: stockCode, Market: marketForCode(stockCode)}, nil
}

// DailyData fetches daily bars for a 6-digit stock code. An empty or future
// end date is clamped to today.
func (c *Core) DailyData(ctx context.Context, stockCode, startDate, endDate string) ([]DailyBar, error) {
	stock, err := identifierForCode(stockCode)
	if err != nil {
		return nil, err
	}
	end, err := NormalizeEndDate(endDate)
	if err != nil {
		return nil, err
	}
	return c.market.FetchDaily(ctx, stock, startDate, end)
}

// FinancialReport fetches annual financial indicators for a stock code,
// keyed by statement type. ReportAll fans out into the three statements.
func (c *Core) FinancialReport(ctx context.Context, stockCode, reportType string, limit int) (map[string][]FinancialPeriod, error) {
	stock, err := identifierForCode(stockCode)
	if err != nil {
		return nil, err
	}
	if reportType == "" {
		reportType = ReportAll
	}
	periods, err := c.market.FetchFinancials(ctx, stock, reportType, limit)
	if err != nil {
		return nil, err
	}
	if reportType == ReportAll {
		return splitByStatement(periods), nil
	}
	return map[string][]FinancialPeriod{reportType: periods}, nil
}

// Indicators computes descriptive metrics and a trend assessment over
// loosely typed daily rows.
func (c *Core) Indicators(rows []Row) (MetricsSnapshot, TrendAssessment) {
	return ComputeMetrics(rows), ComputeTrend(rows)
}

// ParseRequest extracts a structured intent from free-form request text.
func (c *Core) ParseRequest(ctx context.Context, text string) (*ParsedIntent, error) {
	return c.parser.Parse(ctx, text)
}
