package stockagent

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"
)

// Options controls Core initialization.
type Options struct {
	DBPath string
	Logger *slog.Logger

	// Model endpoint settings.
	AIAPIKey  string
	AIBaseURL string
	AIModel   string
	AITimeout time.Duration

	// Market data settings.
	HTTPTimeout   time.Duration
	FailThreshold int
	FailWindow    time.Duration
	Cooldown      time.Duration

	// HTTPClient overrides the HTTP client for both the model and market
	// clients. Used in tests.
	HTTPClient HTTPDoer

	// Scheduled maintenance. Cron specs are six-field (with seconds).
	RefreshSchedule string
	PruneSchedule   string
	ReportRetention time.Duration
}

// Core provides access to stock analysis business logic and storage.
type Core struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger

	ai        *AIClient
	market    *MarketClient
	directory *StockDirectory
	parser    *PromptParser
	reports   *ReportGenerator

	cron            *cron.Cron
	refreshSchedule string
	pruneSchedule   string
	reportRetention time.Duration
}

// Open initializes a Core using the provided database path.
func Open(dbPath string) (*Core, error) {
	return OpenWithOptions(Options{DBPath: dbPath})
}

// OpenWithOptions initializes a Core using the provided options.
func OpenWithOptions(opts Options) (*Core, error) {
	if opts.DBPath == "" {
		return nil, errors.New("db path is required")
	}
	cleanPath := filepath.Clean(opts.DBPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite performs best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Warn("pragma busy_timeout failed", "err", err)
	}

	if err := initDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	ai := NewAIClient(AIClientOptions{
		BaseURL:    opts.AIBaseURL,
		APIKey:     opts.AIAPIKey,
		Model:      opts.AIModel,
		Logger:     logger,
		HTTPClient: opts.HTTPClient,
		Timeout:    defaultDuration(opts.AITimeout, aiRequestTimeout),
	})
	market := NewMarketClient(MarketClientOptions{
		Logger:        logger,
		HTTPClient:    opts.HTTPClient,
		Timeout:       defaultDuration(opts.HTTPTimeout, defaultFetchTimeout),
		FailThreshold: defaultInt(opts.FailThreshold, defaultFailThreshold),
		FailWindow:    defaultDuration(opts.FailWindow, defaultFailWindow),
		Cooldown:      defaultDuration(opts.Cooldown, defaultCooldown),
	})

	c := &Core{
		db:              db,
		dbPath:          cleanPath,
		logger:          logger,
		ai:              ai,
		market:          market,
		parser:          NewPromptParser(ai, logger),
		reports:         NewReportGenerator(ai, logger),
		refreshSchedule: defaultString(opts.RefreshSchedule, "0 30 8 * * 1-5"),
		pruneSchedule:   defaultString(opts.PruneSchedule, "0 0 3 * * *"),
		reportRetention: defaultDuration(opts.ReportRetention, 90*24*time.Hour),
	}
	c.directory = NewStockDirectory(c.loadDirectory, logger)
	return c, nil
}

// Close stops background jobs and releases database resources.
func (c *Core) Close() error {
	if c == nil {
		return nil
	}
	if c.cron != nil {
		c.cron.Stop()
	}
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DBPath returns the underlying database path.
func (c *Core) DBPath() string {
	return c.dbPath
}

// Model returns the configured model name.
func (c *Core) Model() string {
	return c.ai.Model()
}

func defaultDuration(v time.Duration, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultInt(v int, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// StartScheduler registers the directory refresh and report pruning jobs
// and starts the cron loop. Safe to skip entirely for one-shot usage.
func (c *Core) StartScheduler() error {
	c.cron = cron.New(cron.WithSeconds())
	if _, err := c.cron.AddFunc(c.refreshSchedule, c.refreshDirectoryJob); err != nil {
		return fmt.Errorf("register directory refresh: %w", err)
	}
	if _, err := c.cron.AddFunc(c.pruneSchedule, c.pruneReportsJob); err != nil {
		return fmt.Errorf("register report pruning: %w", err)
	}
	c.cron.Start()
	c.logger.Info("scheduler started",
		"refresh_schedule", c.refreshSchedule,
		"prune_schedule", c.pruneSchedule,
	)
	return nil
}
