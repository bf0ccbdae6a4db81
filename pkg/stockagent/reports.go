package stockagent

import (
	"context"
	"time"
)

// ReportRecord is one archived analysis report.
type ReportRecord struct {
	ID        int64  `json:"id"`
	StockCode string `json:"stock_code"`
	StockName string `json:"stock_name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Model     string `json:"model"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// SaveReport archives a generated report and returns its id.
func (c *Core) SaveReport(ctx context.Context, record ReportRecord) (int64, error) {
	result, err := c.db.ExecContext(ctx, `
		INSERT INTO reports (stock_code, stock_name, start_date, end_date, model, content)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.StockCode, record.StockName, record.StartDate, record.EndDate, record.Model, record.Content,
	)
	if err != nil {
		return 0, WrapError(ErrCodeDatabase, "保存报告失败", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, WrapError(ErrCodeDatabase, "保存报告失败", err)
	}
	return id, nil
}

// ListReports returns archived reports, newest first. stockCode filters to
// one stock when non-empty; limit values <= 0 default to 50.
func (c *Core) ListReports(ctx context.Context, stockCode string, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, stock_code, stock_name, start_date, end_date, model, content, created_at
		FROM reports`
	args := []any{}
	if stockCode != "" {
		query += " WHERE stock_code = ?"
		args = append(args, stockCode)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "查询报告失败", err)
	}
	defer rows.Close()

	records := make([]ReportRecord, 0)
	for rows.Next() {
		var r ReportRecord
		if err := rows.Scan(&r.ID, &r.StockCode, &r.StockName, &r.StartDate, &r.EndDate, &r.Model, &r.Content, &r.CreatedAt); err != nil {
			return nil, WrapError(ErrCodeDatabase, "读取报告失败", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(ErrCodeDatabase, "读取报告失败", err)
	}
	return records, nil
}

// PruneReports deletes reports older than the retention window and returns
// the number removed.
func (c *Core) PruneReports(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := timeNow().Add(-retention).UTC().Format("2006-01-02 15:04:05")
	result, err := c.db.ExecContext(ctx, "DELETE FROM reports WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, WrapError(ErrCodeDatabase, "清理报告失败", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, WrapError(ErrCodeDatabase, "清理报告失败", err)
	}
	return removed, nil
}

func (c *Core) pruneReportsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := c.PruneReports(ctx, c.reportRetention)
	if err != nil {
		c.logger.Error("scheduled report pruning failed", "err", err)
		return
	}
	if removed > 0 {
		c.logger.Info("pruned old reports", "removed", removed)
	}
}
