package api

import "stockagent/pkg/stockagent"

type stockInfoPayload struct {
	NameOrCode string `json:"name_or_code"`
}

type dailyDataPayload struct {
	StockCode string `json:"stock_code"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type financialReportPayload struct {
	StockCode  string `json:"stock_code"`
	ReportType string `json:"report_type"`
	Limit      int    `json:"limit"`
}

type indicatorsPayload struct {
	DailyData []stockagent.Row `json:"daily_data"`
}

type textPayload struct {
	Text string `json:"text"`
}

type indicatorsResponse struct {
	Metrics stockagent.MetricsSnapshot `json:"metrics"`
	Trend   stockagent.TrendAssessment `json:"trend"`
}

// toolDescriptor describes one tool in the listing endpoint.
type toolDescriptor struct {
	Name        string `json:"name"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}
