package stockagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// maxNewsInPrompt caps how many news items are inlined into a report prompt.
const maxNewsInPrompt = 5

const reportSystemPrompt = `你是一位专业的股票分析师。请根据提供的股票数据、指标和用户需求，生成一份专业、客观的股票分析报告。
报告应该：
1. 语言专业但易懂
2. 基于数据进行分析，避免主观臆测
3. 包含对关键指标的解读
4. 如果提供了新闻信息，可以结合新闻进行分析
5. 保持客观中立，不给出投资建议
6. 按照用户要求的字数撰写`

const comparisonSystemPrompt = `你是一位专业的股票分析师。请根据提供的多股票对比数据，生成一份专业的对比分析报告。
报告应该：
1. 对比各股票的关键指标
2. 分析各股票的优劣势
3. 保持客观中立
4. 按照用户要求的字数撰写`

// ReportInput carries everything the report prompt is assembled from.
type ReportInput struct {
	Stock         *StockIdentifier
	StartDate     string
	EndDate       string
	Bars          []DailyBar
	Metrics       MetricsSnapshot
	Requirements  Requirements
	News          []NewsItem
	ChartDesc     string
	FinancialData map[string][]FinancialPeriod
}

// ReportGenerator produces analysis reports through the high-temperature
// call profile. Generation failures never propagate as errors; they come
// back as a Chinese failure string, so a broken model credential degrades
// the report rather than the whole pipeline.
type ReportGenerator struct {
	ai     *AIClient
	logger *slog.Logger
}

// NewReportGenerator builds a generator on top of the given AI client.
func NewReportGenerator(ai *AIClient, logger *slog.Logger) *ReportGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportGenerator{ai: ai, logger: logger}
}

// Generate produces a single-stock analysis report.
func (g *ReportGenerator) Generate(ctx context.Context, input ReportInput) string {
	prompt := buildReportPrompt(input)
	report, err := g.ai.Complete(ctx, prompt, reportSystemPrompt, reportCallOptions)
	if err != nil {
		g.logger.Warn("report generation failed", "err", err)
		return fmt.Sprintf("生成报告时出错: %v", err)
	}
	return strings.TrimSpace(report)
}

func buildReportPrompt(input ReportInput) string {
	var b strings.Builder
	b.WriteString("请分析以下股票数据并生成报告：\n\n")
	b.WriteString("股票信息：\n")
	name, code := "", ""
	if input.Stock != nil {
		name, code = input.Stock.Name, input.Stock.Code
	}
	fmt.Fprintf(&b, "- 股票：%s\n", FormatStockInfo(name, code))
	if input.StartDate != "" {
		fmt.Fprintf(&b, "- 分析区间：%s\n", FormatDateRange(input.StartDate, input.EndDate))
	}

	if len(input.Bars) > 0 {
		trend := ComputeTrend(RowsFromBars(input.Bars))
		fmt.Fprintf(&b, "\n数据摘要：\n%s\n\n技术指标：\n%s\n\n趋势分析：\n%s\n",
			FormatDataSummary(input.Bars),
			FormatMetricsTable(input.Metrics),
			trend.Description)
	}

	if input.ChartDesc != "" {
		fmt.Fprintf(&b, "\n图表描述：\n%s\n", input.ChartDesc)
	}

	if len(input.News) > 0 {
		b.WriteString("\n相关新闻：\n")
		for i, news := range input.News {
			if i >= maxNewsInPrompt {
				break
			}
			fmt.Fprintf(&b, "%d. %s\n   链接: %s\n   摘要: %s\n", i+1, news.Title, news.Link, news.Snippet)
			if news.FullContent != "" {
				content := news.FullContent
				if len(content) > 1000 {
					content = content[:1000]
				}
				fmt.Fprintf(&b, "   详细内容: %s\n", content)
			}
			b.WriteString("\n")
		}
	}

	if len(input.FinancialData) > 0 {
		b.WriteString("\n财务数据概要：\n")
		for _, reportType := range []string{ReportBalanceSheet, ReportProfitSheet, ReportCashFlow, ReportAll} {
			periods, ok := input.FinancialData[reportType]
			if !ok || len(periods) == 0 {
				continue
			}
			typeName := reportTypeNames[reportType]
			if typeName == "" {
				typeName = reportType
			}
			fmt.Fprintf(&b, "\n%s (最近%d期):\n%s\n", typeName, len(periods), FormatFinancialTable(periods))
		}
	}

	reportLength := input.Requirements.ReportLength
	if reportLength <= 0 {
		reportLength = DefaultReportLength
	}
	fmt.Fprintf(&b, "\n\n请生成一份约%d字的分析报告，要求：\n", reportLength)
	if input.Requirements.Comparison {
		b.WriteString("- 包含与前一交易日的对比分析\n")
	}
	if len(input.Requirements.Metrics) > 0 {
		fmt.Fprintf(&b, "- 重点分析以下指标：%s\n", strings.Join(input.Requirements.Metrics, ", "))
	}
	if len(input.News) > 0 {
		b.WriteString("- 结合新闻信息进行综合分析\n")
	}
	b.WriteString("- 报告应该结构清晰，包含数据解读、趋势分析和综合评价\n")
	return b.String()
}

// GenerateComparison produces a multi-stock comparison report from a
// pre-rendered comparison table.
func (g *ReportGenerator) GenerateComparison(ctx context.Context, stocks []StockIdentifier, comparisonTable string, requirements Requirements) string {
	var b strings.Builder
	fmt.Fprintf(&b, "请对以下股票进行对比分析：\n\n对比数据：\n%s\n\n股票列表：\n", comparisonTable)
	for _, stock := range stocks {
		fmt.Fprintf(&b, "- %s\n", FormatStockInfo(stock.Name, stock.Code))
	}
	reportLength := requirements.ReportLength
	if reportLength <= 0 {
		reportLength = DefaultReportLength
	}
	fmt.Fprintf(&b, "\n\n请生成一份约%d字的对比分析报告，包含各股票的指标对比、优劣势分析和综合评价。", reportLength)

	report, err := g.ai.Complete(ctx, b.String(), comparisonSystemPrompt, reportCallOptions)
	if err != nil {
		g.logger.Warn("comparison report generation failed", "err", err)
		return fmt.Sprintf("生成对比报告时出错: %v", err)
	}
	return strings.TrimSpace(report)
}
