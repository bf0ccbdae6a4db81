package stockagent

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Wire format for all date fields.
const DateLayout = "2006-01-02"

// Compact format used by the market-data provider.
const dateLayoutCompact = "20060102"

var dateLayouts = []string{DateLayout, "2006/01/02", dateLayoutCompact}

// timeNow is swapped in tests to pin the clock.
var timeNow = time.Now

// ParseDate parses a date string in any of the accepted layouts.
func ParseDate(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, NewError(ErrCodeInvalidInput, fmt.Sprintf("无法解析日期格式: %s", s))
}

// FormatDate formats a time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// CurrentDate returns today's date as YYYY-MM-DD.
func CurrentDate() string {
	return FormatDate(timeNow())
}

// relativeWindows maps Chinese relative-date phrases to day spans. Entries
// are ordered so that longer phrases win over their substrings (一个月 before
// 一周 is irrelevant, but 半年 must be checked before 一年 would match "年").
var relativeWindows = []struct {
	keys []string
	days int
}{
	{[]string{"半年", "6个月"}, 180},
	{[]string{"一年", "1年"}, 365},
	{[]string{"三个月", "3个月"}, 90},
	{[]string{"一个月", "1个月"}, 30},
	{[]string{"一周", "7天"}, 7},
}

// RelativeRange resolves a relative-date phrase such as "最近一个月" into an
// absolute (start, end) pair anchored at base. Unrecognized phrases default
// to one year, matching upstream behavior.
func RelativeRange(relative string, base time.Time) (string, string) {
	if base.IsZero() {
		base = timeNow()
	}
	days := 365
	for _, w := range relativeWindows {
		matched := false
		for _, k := range w.keys {
			if strings.Contains(relative, k) {
				matched = true
				break
			}
		}
		if matched {
			days = w.days
			break
		}
	}
	start := base.AddDate(0, 0, -days)
	return FormatDate(start), FormatDate(base)
}

// PrevTradeDate returns the trading day before the given date. When a trade
// calendar is available it is consulted; otherwise the date steps back to the
// nearest weekday. Holidays are invisible to the fallback, same as upstream.
func PrevTradeDate(dateStr string, calendar []time.Time) (string, error) {
	target, err := ParseDate(dateStr)
	if err != nil {
		return "", err
	}

	if len(calendar) > 0 {
		sorted := make([]time.Time, len(calendar))
		copy(sorted, calendar)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
		for i := len(sorted) - 1; i >= 0; i-- {
			if sorted[i].Before(target) {
				return FormatDate(sorted[i]), nil
			}
		}
	}

	for i := 1; i <= 3; i++ {
		prev := target.AddDate(0, 0, -i)
		if prev.Weekday() != time.Saturday && prev.Weekday() != time.Sunday {
			return FormatDate(prev), nil
		}
	}
	return FormatDate(target.AddDate(0, 0, -1)), nil
}

// IsTradeDate reports whether the date is a trading day. Without a calendar
// this degrades to a weekday check.
func IsTradeDate(dateStr string, calendar []time.Time) (bool, error) {
	target, err := ParseDate(dateStr)
	if err != nil {
		return false, err
	}
	if len(calendar) > 0 {
		for _, d := range calendar {
			if d.Equal(target) {
				return true, nil
			}
		}
		return false, nil
	}
	return target.Weekday() != time.Saturday && target.Weekday() != time.Sunday, nil
}

// NormalizeEndDate clamps a future or empty end date to today.
func NormalizeEndDate(endDate string) (string, error) {
	if strings.TrimSpace(endDate) == "" {
		return CurrentDate(), nil
	}
	end, err := ParseDate(endDate)
	if err != nil {
		return "", err
	}
	now := timeNow()
	if end.After(now) {
		return FormatDate(now), nil
	}
	return FormatDate(end), nil
}
