package stockagent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// StockListing is one (code, name) pair from the reference list.
type StockListing struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// DirectoryLoader fetches the full A-share reference list.
type DirectoryLoader func(ctx context.Context) ([]StockListing, error)

// StockDirectory resolves free-form stock names or codes against a cached
// reference list. The list is loaded once per process behind a lock; a failed
// load leaves the directory unpopulated so the next call re-fetches instead
// of pinning an empty list for the process lifetime.
type StockDirectory struct {
	loader DirectoryLoader
	logger *slog.Logger

	mu      sync.Mutex
	entries []StockListing
	loaded  bool
}

// NewStockDirectory builds a directory around the given loader.
func NewStockDirectory(loader DirectoryLoader, logger *slog.Logger) *StockDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockDirectory{loader: loader, logger: logger}
}

// load populates the cache on first use. The mutex is held across the fetch
// so concurrent first calls collapse into a single upstream request.
func (d *StockDirectory) load(ctx context.Context) ([]StockListing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return d.entries, nil
	}
	entries, err := d.loader(ctx)
	if err != nil {
		d.logger.Warn("stock directory load failed", "err", err)
		return nil, WrapError(ErrCodeUpstreamData, "获取股票列表失败", err)
	}
	d.entries = entries
	d.loaded = true
	d.logger.Info("stock directory loaded", "count", len(entries))
	return d.entries, nil
}

// Prime installs a freshly fetched list without going through the loader.
// Used by the scheduled refresh so lookups never pay a double fetch.
func (d *StockDirectory) Prime(entries []StockListing) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = entries
	d.loaded = len(entries) > 0
}

// Invalidate drops the cached list so the next lookup re-fetches.
func (d *StockDirectory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
	d.loaded = false
}

// marketForCode derives the exchange suffix from the code's leading digit.
func marketForCode(code string) string {
	switch {
	case strings.HasPrefix(code, "6"):
		return MarketShanghai
	case strings.HasPrefix(code, "0"), strings.HasPrefix(code, "3"):
		return MarketShenzhen
	default:
		return MarketShanghai
	}
}

// Normalize resolves a free-form identifier (name, code, or code.suffix) to
// a StockIdentifier. Absence of a match is a normal outcome and yields
// (nil, nil); only infrastructure failures produce an error.
//
// Matching order: dot-delimited inputs match by exact code with the given or
// derived suffix; otherwise exact name, then substring name in list order,
// then exact code.
func (d *StockDirectory) Normalize(ctx context.Context, identifier string) (*StockIdentifier, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return nil, nil
	}
	entries, err := d.load(ctx)
	if err != nil {
		return nil, err
	}

	if strings.Contains(id, ".") {
		parts := strings.SplitN(id, ".", 2)
		codePart := strings.TrimSpace(parts[0])
		suffix := strings.ToUpper(strings.TrimSpace(parts[1]))
		entry := findByCode(entries, codePart)
		if entry == nil {
			return nil, nil
		}
		if suffix != MarketShanghai && suffix != MarketShenzhen {
			suffix = marketForCode(entry.Code)
		}
		return &StockIdentifier{Code: entry.Code, Market: suffix, Name: entry.Name}, nil
	}

	if entry := findByName(entries, id); entry != nil {
		return &StockIdentifier{Code: entry.Code, Market: marketForCode(entry.Code), Name: entry.Name}, nil
	}
	if entry := findByCode(entries, id); entry != nil {
		return &StockIdentifier{Code: entry.Code, Market: marketForCode(entry.Code), Name: entry.Name}, nil
	}
	return nil, nil
}

// Validate reports whether the identifier resolves to a known stock.
func (d *StockDirectory) Validate(ctx context.Context, identifier string) bool {
	stock, err := d.Normalize(ctx, identifier)
	return err == nil && stock != nil
}

func findByCode(entries []StockListing, code string) *StockListing {
	for i := range entries {
		if entries[i].Code == code {
			return &entries[i]
		}
	}
	return nil
}

// findByName tries an exact name match first, then the first substring match
// in list order.
func findByName(entries []StockListing, name string) *StockListing {
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i]
		}
	}
	for i := range entries {
		if strings.Contains(entries[i].Name, name) {
			return &entries[i]
		}
	}
	return nil
}
