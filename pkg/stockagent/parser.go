package stockagent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// DefaultReportLength is the word-count target applied when a request does
// not specify one.
const DefaultReportLength = 500

// DataTypeDaily is the only supported data granularity.
const DataTypeDaily = "daily"

const parseSystemPrompt = `你是一个股票分析助手，需要从用户提示词中提取以下信息：
1. 股票标识（名称或代码，可能有多个）
2. 日期信息（单日或日期区间，可能是绝对日期如"2024-06-01"或相对日期如"最近一年"）
3. 数据类型（日级/秒级，默认日级）
4. 分析需求（是否需要新闻、报告长度、需要计算的指标等）
5. 财务数据需求（是否需要财务报表，如资产负债表、利润表、现金流量表，以及时间段和频率）

请以JSON格式返回，格式如下：
{
    "stocks": ["股票名称或代码"],
    "date_start": "YYYY-MM-DD 或 null",
    "date_end": "YYYY-MM-DD 或 null",
    "relative_date": "相对日期描述，如'最近一年'，如果没有则为null",
    "data_type": "daily 或 second",
    "requirements": {
        "include_news": true/false,
        "search_query": "搜索关键词或句子（如果需要新闻时，AI应生成合适的搜索查询）",
        "report_length": 数字（字数要求）,
        "metrics": ["需要计算的指标列表"],
        "comparison": true/false（是否需要对比前一交易日）,
        "financial_data": {
            "needed": true/false,
            "types": ["balance_sheet", "profit_sheet", "cash_flow_sheet"] 或 ["all"],
            "period": 数字（需要获取的报告期数，默认4）,
            "frequency": "quarterly" (默认) 或 "yearly"
        }
    }
}

如果信息不明确，请合理推断。
- 关于财务数据：
  - 如果用户问"财务状况"、"基本面"等，通常意味着需要所有三张表。
  - 如果用户指定"过去3年"，frequency应为"yearly"，period为3。
  - 如果用户指定"过去4个季度"，frequency应为"quarterly"，period为4。
  - period字段请转换为具体的数字（报告期数）。`

// PromptParser extracts a structured intent from a free-form analysis
// request via the low-temperature call profile.
type PromptParser struct {
	ai     *AIClient
	logger *slog.Logger
}

// NewPromptParser builds a parser on top of the given AI client.
func NewPromptParser(ai *AIClient, logger *slog.Logger) *PromptParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptParser{ai: ai, logger: logger}
}

// defaultIntent is returned when the model's output cannot be decoded as
// JSON. Callers still get a usable, empty intent rather than an error.
func defaultIntent() *ParsedIntent {
	return &ParsedIntent{
		Stocks:   []string{},
		DataType: DataTypeDaily,
		Requirements: Requirements{
			IncludeNews:  false,
			ReportLength: DefaultReportLength,
			Metrics:      []string{},
		},
	}
}

// Parse extracts a ParsedIntent from the user's request text. Transport and
// credential failures from the model propagate as coded errors; a response
// that is not valid JSON degrades to the default intent.
func (p *PromptParser) Parse(ctx context.Context, text string) (*ParsedIntent, error) {
	response, err := p.ai.Complete(ctx, text, parseSystemPrompt, parseCallOptions)
	if err != nil {
		return nil, err
	}

	var intent ParsedIntent
	if err := json.Unmarshal([]byte(cleanupModelJSON(response)), &intent); err != nil {
		p.logger.Warn("intent json decode failed", "err", err, "response_len", len(response))
		return defaultIntent(), nil
	}

	if intent.RelativeDate != "" && intent.DateStart == "" {
		start, end := RelativeRange(intent.RelativeDate, timeNow())
		intent.DateStart = start
		intent.DateEnd = end
	}
	if strings.TrimSpace(intent.DataType) == "" {
		intent.DataType = DataTypeDaily
	}
	if intent.Requirements.ReportLength <= 0 {
		intent.Requirements.ReportLength = DefaultReportLength
	}
	if intent.Stocks == nil {
		intent.Stocks = []string{}
	}
	return &intent, nil
}
