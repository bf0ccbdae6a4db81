package stockagent

import (
	"fmt"
	"sort"
	"strings"
)

// metricLabels orders metric keys for prompt rendering and maps them to the
// Chinese labels the analysis model sees.
var metricLabels = []struct {
	key   string
	label string
}{
	{MetricLatestClose, "最新收盘价"},
	{MetricMaxClose, "最高收盘价"},
	{MetricMinClose, "最低收盘价"},
	{MetricMeanClose, "平均收盘价"},
	{MetricPeriodChange, "期间涨跌额"},
	{MetricPeriodReturnPct, "期间涨跌幅(%)"},
	{MetricMaxDailyGainPct, "最大单日涨幅(%)"},
	{MetricMaxDailyLossPct, "最大单日跌幅(%)"},
	{MetricMaxDrawdownPct, "最大回撤(%)"},
	{MetricMaxRunupPct, "最大上涨幅度(%)"},
	{MetricAnnVolPct, "年化波动率(%)"},
	{MetricMeanVolume, "平均成交量"},
	{MetricMaxVolume, "最大成交量"},
	{MetricLatestVolume, "最新成交量"},
}

// FormatDataSummary renders a short Chinese summary of a daily series for
// inclusion in an analysis prompt.
func FormatDataSummary(bars []DailyBar) string {
	if len(bars) == 0 {
		return "无数据"
	}
	lines := []string{fmt.Sprintf("数据条数: %d", len(bars))}

	minDate, maxDate := bars[0].Date, bars[0].Date
	for _, b := range bars[1:] {
		if b.Date < minDate {
			minDate = b.Date
		}
		if b.Date > maxDate {
			maxDate = b.Date
		}
	}
	lines = append(lines, "起始日期: "+minDate, "结束日期: "+maxDate)

	last := bars[len(bars)-1].Close.Float()
	lines = append(lines, fmt.Sprintf("最新收盘价: %.2f", last))
	if len(bars) > 1 {
		first := bars[0].Close.Float()
		change := last - first
		changePct := change / first * 100
		lines = append(lines, fmt.Sprintf("期间涨跌: %+.2f (%+.2f%%)", change, changePct))
	}
	return strings.Join(lines, "\n")
}

// FormatMetricsTable renders a metrics snapshot as a Markdown table. Known
// metrics appear in canonical order with Chinese labels; unknown keys follow
// in sorted order.
func FormatMetricsTable(metrics MetricsSnapshot) string {
	if len(metrics) == 0 {
		return "无指标数据"
	}
	lines := []string{"| 指标 | 数值 |", "|------|------|"}
	seen := map[string]bool{}
	for _, m := range metricLabels {
		if value, ok := metrics[m.key]; ok {
			lines = append(lines, fmt.Sprintf("| %s | %.2f |", m.label, value))
			seen[m.key] = true
		}
	}
	extras := make([]string, 0)
	for key := range metrics {
		if !seen[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		lines = append(lines, fmt.Sprintf("| %s | %.2f |", key, metrics[key]))
	}
	return strings.Join(lines, "\n")
}

// FormatStockInfo renders "**name** (code)".
func FormatStockInfo(name, code string) string {
	return fmt.Sprintf("**%s** (%s)", name, code)
}

// FormatDateRange renders "start 至 end", or just start when end is empty.
func FormatDateRange(startDate, endDate string) string {
	if endDate == "" {
		return startDate
	}
	return startDate + " 至 " + endDate
}

// FormatComparisonTable renders one Markdown table with a metric column per
// stock, in canonical metric order.
func FormatComparisonTable(stocks []StockIdentifier, snapshots []MetricsSnapshot) string {
	if len(stocks) == 0 || len(stocks) != len(snapshots) {
		return "无对比数据"
	}
	var b strings.Builder
	b.WriteString("| 指标 |")
	for _, stock := range stocks {
		b.WriteString(" " + stock.Name + " |")
	}
	b.WriteString("\n|------|")
	for range stocks {
		b.WriteString("------|")
	}
	for _, m := range metricLabels {
		present := false
		for _, snapshot := range snapshots {
			if _, ok := snapshot[m.key]; ok {
				present = true
				break
			}
		}
		if !present {
			continue
		}
		b.WriteString("\n| " + m.label + " |")
		for _, snapshot := range snapshots {
			if value, ok := snapshot[m.key]; ok {
				b.WriteString(fmt.Sprintf(" %.2f |", value))
			} else {
				b.WriteString(" - |")
			}
		}
	}
	return b.String()
}

// reportTypeNames maps statement types to their Chinese names for prompts.
var reportTypeNames = map[string]string{
	ReportBalanceSheet: "资产负债表",
	ReportProfitSheet:  "利润表",
	ReportCashFlow:     "现金流量表",
	ReportAll:          "主要财务指标",
}

// FormatFinancialTable renders financial periods as a Markdown table, one
// row per reporting period, indicator columns taken from the newest period
// in sorted order.
func FormatFinancialTable(periods []FinancialPeriod) string {
	if len(periods) == 0 {
		return "无财务数据"
	}
	columns := make([]string, 0, len(periods[0].Values))
	for name := range periods[0].Values {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	var b strings.Builder
	b.WriteString("| 报告期 |")
	for _, col := range columns {
		b.WriteString(" " + col + " |")
	}
	b.WriteString("\n|--------|")
	for range columns {
		b.WriteString("------|")
	}
	for _, p := range periods {
		b.WriteString("\n| " + p.ReportDate + " |")
		for _, col := range columns {
			if value, ok := p.Values[col]; ok {
				b.WriteString(fmt.Sprintf(" %.2f |", value))
			} else {
				b.WriteString(" - |")
			}
		}
	}
	return b.String()
}
