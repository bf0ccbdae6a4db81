package stockagent

import (
	"context"
	"time"
)

const directoryRefreshTimeout = 2 * time.Minute

// loadDirectory is the Core's DirectoryLoader: fetch the live list, fall
// back to the last persisted snapshot when the provider is unreachable, and
// persist fresh lists for the next cold start.
func (c *Core) loadDirectory(ctx context.Context) ([]StockListing, error) {
	listings, err := c.market.ListStocks(ctx)
	if err != nil {
		snapshot, snapErr := c.directorySnapshot(ctx)
		if snapErr == nil && len(snapshot) > 0 {
			c.logger.Warn("using stock directory snapshot", "err", err, "count", len(snapshot))
			return snapshot, nil
		}
		return nil, err
	}
	if saveErr := c.saveDirectorySnapshot(ctx, listings); saveErr != nil {
		c.logger.Warn("persist stock directory failed", "err", saveErr)
	}
	return listings, nil
}

// RefreshDirectory force-fetches the live list and primes the in-memory
// directory, bypassing the snapshot fallback.
func (c *Core) RefreshDirectory(ctx context.Context) error {
	listings, err := c.market.ListStocks(ctx)
	if err != nil {
		return err
	}
	if saveErr := c.saveDirectorySnapshot(ctx, listings); saveErr != nil {
		c.logger.Warn("persist stock directory failed", "err", saveErr)
	}
	c.directory.Prime(listings)
	c.logger.Info("stock directory refreshed", "count", len(listings))
	return nil
}

func (c *Core) refreshDirectoryJob() {
	ctx, cancel := context.WithTimeout(context.Background(), directoryRefreshTimeout)
	defer cancel()
	if err := c.RefreshDirectory(ctx); err != nil {
		c.logger.Error("scheduled directory refresh failed", "err", err)
	}
}

func (c *Core) directorySnapshot(ctx context.Context) ([]StockListing, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT code, name FROM stock_directory ORDER BY code")
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "查询股票列表快照失败", err)
	}
	defer rows.Close()

	var listings []StockListing
	for rows.Next() {
		var l StockListing
		if err := rows.Scan(&l.Code, &l.Name); err != nil {
			return nil, WrapError(ErrCodeDatabase, "读取股票列表快照失败", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(ErrCodeDatabase, "读取股票列表快照失败", err)
	}
	return listings, nil
}

func (c *Core) saveDirectorySnapshot(ctx context.Context, listings []StockListing) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError(ErrCodeDatabase, "保存股票列表快照失败", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM stock_directory"); err != nil {
		return WrapError(ErrCodeDatabase, "保存股票列表快照失败", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO stock_directory (code, name, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)")
	if err != nil {
		return WrapError(ErrCodeDatabase, "保存股票列表快照失败", err)
	}
	defer stmt.Close()
	for _, l := range listings {
		if _, err := stmt.ExecContext(ctx, l.Code, l.Name); err != nil {
			return WrapError(ErrCodeDatabase, "保存股票列表快照失败", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return WrapError(ErrCodeDatabase, "保存股票列表快照失败", err)
	}
	return nil
}
