package stockagent

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// periodsPerYear annualizes daily return volatility.
const periodsPerYear = 252

// Semantic fields recognized in daily rows. Each field carries an ordered
// alias list; a row key matches when it contains the alias (case-insensitive
// for latin aliases), which tolerates provider column variants such as
// "close_price" or "收盘价".
var fieldAliases = []struct {
	field   string
	aliases []string
}{
	{"date", []string{"date", "日期"}},
	{"open", []string{"open", "开盘"}},
	{"close", []string{"close", "收盘"}},
	{"high", []string{"high", "最高"}},
	{"low", []string{"low", "最低"}},
	{"volume", []string{"volume", "成交量"}},
}

// resolveColumns maps semantic field names to actual row keys, scanning the
// first row's keys in sorted order for determinism.
func resolveColumns(rows []Row) map[string]string {
	resolved := map[string]string{}
	if len(rows) == 0 {
		return resolved
	}
	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, f := range fieldAliases {
		for _, key := range keys {
			if matchesAlias(key, f.aliases) {
				resolved[f.field] = key
				break
			}
		}
	}
	return resolved
}

func matchesAlias(key string, aliases []string) bool {
	lower := strings.ToLower(key)
	for _, alias := range aliases {
		if strings.Contains(lower, alias) {
			return true
		}
	}
	return false
}

// asFloat coerces a loosely typed row value to float64.
func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case Price:
		return val.Float(), true
	}
	return 0, false
}

// columnValues extracts the numeric series for a resolved column, skipping
// rows where the value is missing or non-numeric.
func columnValues(rows []Row, key string) []float64 {
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		if f, ok := asFloat(row[key]); ok {
			values = append(values, f)
		}
	}
	return values
}

// ComputeMetrics derives descriptive statistics from a daily series. An
// unidentifiable close column or an empty series yields an empty snapshot.
func ComputeMetrics(rows []Row) MetricsSnapshot {
	metrics := MetricsSnapshot{}
	columns := resolveColumns(rows)
	closeKey, ok := columns["close"]
	if !ok {
		return metrics
	}
	closes := columnValues(rows, closeKey)
	if len(closes) == 0 {
		return metrics
	}

	metrics[MetricLatestClose] = closes[len(closes)-1]
	metrics[MetricMaxClose] = maxOf(closes)
	metrics[MetricMinClose] = minOf(closes)
	metrics[MetricMeanClose] = meanOf(closes)

	if len(closes) > 1 {
		first, last := closes[0], closes[len(closes)-1]
		metrics[MetricPeriodChange] = last - first
		metrics[MetricPeriodReturnPct] = (last - first) / first * 100

		returns := stepReturns(closes)
		metrics[MetricMaxDailyGainPct] = maxOf(returns) * 100
		metrics[MetricMaxDailyLossPct] = minOf(returns) * 100
		metrics[MetricMaxDrawdownPct] = maxDrawdown(returns) * 100
		metrics[MetricAnnVolPct] = sampleStd(returns) * math.Sqrt(periodsPerYear) * 100

		if runup, ok := maxRunup(closes); ok {
			metrics[MetricMaxRunupPct] = runup
		}
	}

	if volumeKey, ok := columns["volume"]; ok {
		volumes := columnValues(rows, volumeKey)
		if len(volumes) > 0 {
			metrics[MetricMeanVolume] = meanOf(volumes)
			metrics[MetricMaxVolume] = maxOf(volumes)
			metrics[MetricLatestVolume] = volumes[len(volumes)-1]
		}
	}

	return metrics
}

// stepReturns computes day-over-day percent changes as fractions.
func stepReturns(closes []float64) []float64 {
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	return returns
}

// maxDrawdown compounds the per-step returns and measures the deepest drop
// of the cumulative series below its running maximum, as a fraction <= 0.
func maxDrawdown(returns []float64) float64 {
	cumulative := 1.0
	runningMax := 1.0
	worst := 0.0
	for _, r := range returns {
		cumulative *= 1 + r
		if cumulative > runningMax {
			runningMax = cumulative
		}
		drawdown := cumulative/runningMax - 1
		if drawdown < worst {
			worst = drawdown
		}
	}
	return worst
}

// maxRunup returns the percentage gain from the minimum close at or before
// the overall maximum's index. Defined only when that minimum strictly
// precedes the maximum.
func maxRunup(closes []float64) (float64, bool) {
	maxIdx := 0
	for i, v := range closes {
		if v > closes[maxIdx] {
			maxIdx = i
		}
	}
	minIdx := 0
	for i := 0; i <= maxIdx; i++ {
		if closes[i] < closes[minIdx] {
			minIdx = i
		}
	}
	if minIdx >= maxIdx || closes[minIdx] == 0 {
		return 0, false
	}
	return (closes[maxIdx] - closes[minIdx]) / closes[minIdx] * 100, true
}

// ComputeTrend fits close price against the row index by ordinary least
// squares. The slope sign gives the direction and the fit's R-squared gives
// the strength. Fewer than 2 usable rows yields a neutral assessment.
func ComputeTrend(rows []Row) TrendAssessment {
	neutral := TrendAssessment{Direction: TrendFlat, Strength: StrengthWeak}
	columns := resolveColumns(rows)
	closeKey, ok := columns["close"]
	if !ok {
		return neutral
	}
	closes := columnValues(rows, closeKey)
	if len(closes) < 2 {
		return neutral
	}

	slope, rSquared := linearFit(closes)

	direction := TrendFlat
	switch {
	case slope > 0:
		direction = TrendUp
	case slope < 0:
		direction = TrendDown
	}

	strength := StrengthWeak
	switch {
	case math.Abs(rSquared) > 0.7:
		strength = StrengthStrong
	case math.Abs(rSquared) > 0.4:
		strength = StrengthMedium
	}

	changePct := (closes[len(closes)-1] - closes[0]) / closes[0] * 100
	return TrendAssessment{
		Direction: direction,
		Strength:  strength,
		Description: fmt.Sprintf("期间涨跌幅 %+.2f%%，趋势%s，强度%s",
			changePct, trendZh(direction), strengthZh(strength)),
	}
}

// linearFit returns the OLS slope and R-squared of values against their
// indices. R-squared is 0 when total variance is 0.
func linearFit(values []float64) (slope, rSquared float64) {
	n := float64(len(values))
	meanX := (n - 1) / 2
	meanY := meanOf(values)

	var covXY, varX float64
	for i, y := range values {
		dx := float64(i) - meanX
		covXY += dx * (y - meanY)
		varX += dx * dx
	}
	if varX == 0 {
		return 0, 0
	}
	slope = covXY / varX
	intercept := meanY - slope*meanX

	var ssRes, ssTot float64
	for i, y := range values {
		predicted := intercept + slope*float64(i)
		ssRes += (y - predicted) * (y - predicted)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return slope, 0
	}
	return slope, 1 - ssRes/ssTot
}

func trendZh(direction string) string {
	switch direction {
	case TrendUp:
		return "上涨"
	case TrendDown:
		return "下跌"
	default:
		return "横盘"
	}
}

func strengthZh(strength string) string {
	switch strength {
	case StrengthStrong:
		return "强"
	case StrengthMedium:
		return "中"
	default:
		return "弱"
	}
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd is the ddof=1 standard deviation; 0 when fewer than 2 samples.
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := meanOf(values)
	var sum float64
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// RowsFromBars converts typed daily bars into loose rows for the metrics
// engine.
func RowsFromBars(bars []DailyBar) []Row {
	rows := make([]Row, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, Row{
			"date":   b.Date,
			"open":   b.Open.Float(),
			"close":  b.Close.Float(),
			"high":   b.High.Float(),
			"low":    b.Low.Float(),
			"volume": float64(b.Volume),
		})
	}
	return rows
}
