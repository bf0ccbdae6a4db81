package stockagent

import (
	"context"
	"fmt"
	"strings"
)

// StockReport is one stock's slice of an analysis result.
type StockReport struct {
	Stock    StockIdentifier `json:"stock"`
	Bars     int             `json:"bars"`
	Metrics  MetricsSnapshot `json:"metrics"`
	Trend    TrendAssessment `json:"trend"`
	Report   string          `json:"report"`
	ReportID int64           `json:"report_id,omitempty"`
}

// AnalyzeResult is the outcome of the full request pipeline.
type AnalyzeResult struct {
	Intent           *ParsedIntent `json:"intent"`
	StartDate        string        `json:"start_date"`
	EndDate          string        `json:"end_date"`
	Unresolved       []string      `json:"unresolved,omitempty"`
	Reports          []StockReport `json:"reports"`
	ComparisonReport string        `json:"comparison_report,omitempty"`
}

// AnalyzeRequest runs the full pipeline for a free-form analysis request:
// parse the intent, resolve the stocks, fetch daily data, derive metrics,
// generate reports, and archive them. Per-stock data failures surface inside
// that stock's report text; only parsing and total resolution failures abort
// the pipeline.
func (c *Core) AnalyzeRequest(ctx context.Context, text string) (*AnalyzeResult, error) {
	intent, err := c.parser.Parse(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(intent.Stocks) == 0 {
		return nil, NewError(ErrCodeInvalidInput, "未能从请求中识别出股票")
	}

	stocks := make([]StockIdentifier, 0, len(intent.Stocks))
	var unresolved []string
	for _, raw := range intent.Stocks {
		stock, err := c.directory.Normalize(ctx, raw)
		if err != nil {
			return nil, err
		}
		if stock == nil {
			unresolved = append(unresolved, raw)
			continue
		}
		stocks = append(stocks, *stock)
	}
	if len(stocks) == 0 {
		return nil, NewError(ErrCodeNotFound,
			fmt.Sprintf("未找到股票: %s", strings.Join(unresolved, ", ")))
	}

	startDate, endDate, err := c.resolveRange(intent)
	if err != nil {
		return nil, err
	}

	result := &AnalyzeResult{
		Intent:     intent,
		StartDate:  startDate,
		EndDate:    endDate,
		Unresolved: unresolved,
		Reports:    make([]StockReport, 0, len(stocks)),
	}

	snapshots := make([]MetricsSnapshot, 0, len(stocks))
	for _, stock := range stocks {
		report := c.analyzeStock(ctx, stock, startDate, endDate, intent.Requirements)
		snapshots = append(snapshots, report.Metrics)
		result.Reports = append(result.Reports, report)
	}

	if intent.Requirements.Comparison && len(stocks) > 1 {
		table := FormatComparisonTable(stocks, snapshots)
		result.ComparisonReport = c.reports.GenerateComparison(ctx, stocks, table, intent.Requirements)
	}
	return result, nil
}

// resolveRange turns the intent's date fields into a concrete range,
// defaulting to the past year.
func (c *Core) resolveRange(intent *ParsedIntent) (string, string, error) {
	startDate := intent.DateStart
	endDate := intent.DateEnd
	if startDate == "" {
		relative := intent.RelativeDate
		if relative == "" {
			relative = "最近一年"
		}
		startDate, endDate = RelativeRange(relative, timeNow())
	}
	endDate, err := NormalizeEndDate(endDate)
	if err != nil {
		return "", "", err
	}
	if _, err := ParseDate(startDate); err != nil {
		return "", "", err
	}
	return startDate, endDate, nil
}

// analyzeStock runs the data and report stages for one stock. Fetch failures
// are folded into the report text so one broken stock does not sink a
// multi-stock request.
func (c *Core) analyzeStock(ctx context.Context, stock StockIdentifier, startDate, endDate string, requirements Requirements) StockReport {
	report := StockReport{Stock: stock}

	var bars []DailyBar
	var err error
	if requirements.Comparison {
		bars, err = c.market.FetchDailyWithPrev(ctx, &stock, startDate, endDate)
	} else {
		bars, err = c.market.FetchDaily(ctx, &stock, startDate, endDate)
	}
	if err != nil {
		c.logger.Warn("daily data fetch failed", "stock", stock.Symbol(), "err", err)
		report.Report = fmt.Sprintf("生成报告时出错: %v", err)
		return report
	}
	report.Bars = len(bars)

	rows := RowsFromBars(bars)
	report.Metrics = ComputeMetrics(rows)
	report.Trend = ComputeTrend(rows)

	financialData := c.fetchFinancialData(ctx, stock, requirements.FinancialData)

	report.Report = c.reports.Generate(ctx, ReportInput{
		Stock:         &stock,
		StartDate:     startDate,
		EndDate:       endDate,
		Bars:          bars,
		Metrics:       report.Metrics,
		Requirements:  requirements,
		FinancialData: financialData,
	})

	id, err := c.SaveReport(ctx, ReportRecord{
		StockCode: stock.Code,
		StockName: stock.Name,
		StartDate: startDate,
		EndDate:   endDate,
		Model:     c.ai.Model(),
		Content:   report.Report,
	})
	if err != nil {
		c.logger.Warn("report archive failed", "stock", stock.Symbol(), "err", err)
	} else {
		report.ReportID = id
	}
	return report
}

// fetchFinancialData loads the statements the intent asked for. Failures are
// logged and skipped; financial data enriches a report but never blocks it.
func (c *Core) fetchFinancialData(ctx context.Context, stock StockIdentifier, needs *FinancialNeeds) map[string][]FinancialPeriod {
	if needs == nil || !needs.Needed {
		return nil
	}
	types := needs.Types
	if len(types) == 0 {
		types = []string{ReportAll}
	}
	for _, t := range types {
		if t == ReportAll {
			types = []string{ReportAll}
			break
		}
	}
	limit := needs.Period
	if limit <= 0 {
		limit = 4
	}

	data := map[string][]FinancialPeriod{}
	for _, reportType := range types {
		periods, err := c.market.FetchFinancials(ctx, &stock, reportType, limit)
		if err != nil {
			c.logger.Warn("financial data fetch failed",
				"stock", stock.Symbol(), "report_type", reportType, "err", err)
			continue
		}
		data[reportType] = periods
	}
	if len(data) == 0 {
		return nil
	}
	return data
}
