package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// maxRequestBodySize bounds tool request bodies. The indicators tool can
// carry a year of daily rows; anything past this is abuse.
const maxRequestBodySize = 4 << 20

func decodeJSON(r *http.Request, target any) error {
	defer io.Copy(io.Discard, r.Body) //nolint:errcheck
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid json payload: %w", err)
	}
	return nil
}

// logInvocation tags each tool call with a fresh invocation id so multi-step
// pipelines can be traced across log lines.
func (h *handler) logInvocation(r *http.Request, tool string) string {
	id := uuid.NewString()
	h.logger.Info("tool invoked", "tool", tool, "invocation_id", id, "remote_ip", r.RemoteAddr)
	return id
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var toolListing = []toolDescriptor{
	{"stock_info", http.MethodPost, "/api/tools/stock_info", "查询股票基本信息（名称、代码、市场）"},
	{"daily", http.MethodPost, "/api/tools/daily", "获取股票日级历史数据"},
	{"financial_report", http.MethodPost, "/api/tools/financial_report", "获取股票年度财务指标"},
	{"indicators", http.MethodPost, "/api/tools/indicators", "根据日级数据计算技术指标与趋势"},
	{"parse_request", http.MethodPost, "/api/tools/parse_request", "解析自然语言分析请求"},
	{"report", http.MethodPost, "/api/tools/report", "执行完整分析流程并生成报告"},
}

func (h *handler) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": toolListing})
}

func (h *handler) stockInfo(w http.ResponseWriter, r *http.Request) {
	var payload stockInfoPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.NameOrCode) == "" {
		writeError(w, http.StatusBadRequest, "name_or_code 不能为空")
		return
	}
	h.logInvocation(r, "stock_info")

	stock, err := h.core.StockInfo(r.Context(), payload.NameOrCode)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (h *handler) dailyData(w http.ResponseWriter, r *http.Request) {
	var payload dailyDataPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.StockCode == "" || payload.StartDate == "" {
		writeError(w, http.StatusBadRequest, "stock_code 和 start_date 不能为空")
		return
	}
	h.logInvocation(r, "daily")

	// The daily tool emits the bar list itself, not an envelope.
	bars, err := h.core.DailyData(r.Context(), payload.StockCode, payload.StartDate, payload.EndDate)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bars)
}

func (h *handler) financialReport(w http.ResponseWriter, r *http.Request) {
	var payload financialReportPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.StockCode == "" {
		writeError(w, http.StatusBadRequest, "stock_code 不能为空")
		return
	}
	h.logInvocation(r, "financial_report")

	// Keyed by statement type; "all" fans out into the three statements.
	statements, err := h.core.FinancialReport(r.Context(), payload.StockCode, payload.ReportType, payload.Limit)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statements)
}

func (h *handler) indicators(w http.ResponseWriter, r *http.Request) {
	var payload indicatorsPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(payload.DailyData) == 0 {
		writeError(w, http.StatusBadRequest, "daily_data 不能为空")
		return
	}
	h.logInvocation(r, "indicators")

	metrics, trend := h.core.Indicators(payload.DailyData)
	writeJSON(w, http.StatusOK, indicatorsResponse{Metrics: metrics, Trend: trend})
}

func (h *handler) parseRequest(w http.ResponseWriter, r *http.Request) {
	var payload textPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		writeError(w, http.StatusBadRequest, "text 不能为空")
		return
	}
	h.logInvocation(r, "parse_request")

	intent, err := h.core.ParseRequest(r.Context(), payload.Text)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (h *handler) analyzeRequest(w http.ResponseWriter, r *http.Request) {
	var payload textPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		writeError(w, http.StatusBadRequest, "text 不能为空")
		return
	}
	id := h.logInvocation(r, "report")

	result, err := h.core.AnalyzeRequest(r.Context(), payload.Text)
	if err != nil {
		h.logger.Warn("analysis pipeline failed", "invocation_id", id, "err", err)
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if v := query.Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit) //nolint:errcheck
	}
	records, err := h.core.ListReports(r.Context(), query.Get("stock_code"), limit)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": records})
}
