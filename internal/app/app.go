package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vault-keeper/internal/alerting"
	"vault-keeper/internal/config"
	"vault-keeper/internal/gateway"
	"vault-keeper/internal/oracle"
	"vault-keeper/internal/penalty"
	"vault-keeper/internal/scanner"
	"vault-keeper/internal/scheduler"
	"vault-keeper/internal/service"
	"vault-keeper/internal/storage"
	"vault-keeper/internal/vault"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// Engine bundles the wired custody core.
type Engine struct {
	Store   *vault.Store
	Prices  *oracle.Adapter
	Scanner *scanner.Scanner
	Ledger  *penalty.Ledger
	Gateway gateway.AssetTransferGateway
}

// newEngine wires the custody core over the given transfer gateway and feed
// querier, applying the configured asset registry and price feeds.
func (a *App) newEngine(ctx context.Context, gw gateway.AssetTransferGateway, querier oracle.Querier) (*Engine, error) {
	prices := oracle.NewAdapter(querier, a.Logger)
	store := vault.NewStore(gw, prices, a.Logger)

	for _, asset := range a.Config.Assets.Supported {
		store.SetAssetSupported(asset, true)
	}

	for _, feed := range a.Config.Oracle.Feeds {
		cfg := oracle.FeedConfig{
			Handle:    feed.Address,
			Heartbeat: feed.Heartbeat,
			MinValue:  decimal.NewFromFloat(feed.MinValue),
			MaxValue:  decimal.NewFromFloat(feed.MaxValue),
		}
		if err := prices.SetPriceFeed(ctx, feed.Asset, cfg); err != nil {
			a.Logger.Warn().Err(err).Str("asset", feed.Asset).Msg("skipping feed that failed its probe")
		}
	}

	scan, err := scanner.New(store, prices, a.Config.Scanner.CheckInterval, a.Logger)
	if err != nil {
		return nil, err
	}

	ledger := penalty.NewLedger(store, gw, penalty.Options{
		PenaltyBps: a.Config.Penalty.PenaltyBps,
		ClaimDelay: a.Config.Penalty.ClaimDelay,
	}, a.Logger)

	return &Engine{
		Store:   store,
		Prices:  prices,
		Scanner: scan,
		Ledger:  ledger,
		Gateway: gw,
	}, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running upkeep service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; journaling disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	querier := oracle.NewChainlink(oracle.ChainlinkOptions{
		RPCURL:  a.Config.Oracle.RPCURL,
		Timeout: a.Config.Oracle.RequestTimeout,
	}, a.Logger)

	// The in-process ledger stands in for the external settlement rail;
	// embedding applications supply their own gateway through the engine API.
	engine, err := a.newEngine(ctx, gateway.NewLedger(), querier)
	if err != nil {
		return err
	}

	var snapshots storage.SnapshotJournal
	if store != nil {
		snapshots = store
		engine.Store.SetJournal(store)
		engine.Ledger.SetJournal(store)
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	notifier := a.newNotifier()

	svc := service.New(a.Config, sched, engine.Scanner, engine.Store, engine.Prices, snapshots, notifier, a.Logger)

	a.Logger.Info().Msg("starting upkeep service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("upkeep service stopped")
	return nil
}

// ExportOptions hold parameters for exporting journaled price snapshots.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit     int
	Penalties bool
}
