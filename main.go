package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KNICEX/paper-trader/internal/repo"
	"github.com/KNICEX/paper-trader/internal/schedule"
	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/exchange/binance"
	"github.com/KNICEX/paper-trader/internal/service/feed"
	"github.com/KNICEX/paper-trader/internal/service/notification"
	"github.com/KNICEX/paper-trader/internal/service/report"
	"github.com/KNICEX/paper-trader/internal/service/strategy"
	"github.com/KNICEX/paper-trader/internal/service/trader"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/KNICEX/paper-trader/ioc"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var resume = pflag.Bool("resume", false, "resume the latest unfinished session from its snapshot")

func initViper() {
	// --config=./config/xxx.yaml
	file := pflag.String("config", "./config/config.dev.yaml", "specify config file")
	pflag.Parse()

	viper.SetConfigFile(*file)
	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s \n", err))
	}
}

func initLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func main() {
	initViper()
	logger := initLogger()

	settings := ioc.InitSettings()
	feedCfg := ioc.InitFeedConfig()
	notifyCfg := ioc.InitNotifyConfig()

	db := ioc.InitDB()
	if err := repo.InitTables(db); err != nil {
		panic(err)
	}
	tradeRepo := repo.NewTradeRepo(db)
	sessionRepo := repo.NewSessionRepo(db)

	senders := []notification.Sender{notification.NewLogSender(logger)}
	if notifyCfg.WebhookURL != "" {
		senders = append(senders, notification.NewWebhookSender(notifyCfg.WebhookURL))
	}
	notifier := notification.NewNotifier(senders, notifyCfg.Events, logger)

	store := report.NewSnapshotStore(afero.NewOsFs(), settings.ResultsDir, settings.FallbackDir, logger)

	marketSvc := binance.NewMarketService(ioc.InitBinanceCli())
	vt, err := trader.New(settings,
		trader.WithLogger(logger),
		trader.WithSnapshotStore(store),
		trader.WithJournal(tradeRepo),
		trader.WithSessionRepo(sessionRepo),
		trader.WithNotifier(notifier),
		trader.WithPrecision(binance.NewPrecisionProvider(nil)),
	)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *resume {
		resumeSession(ctx, vt, store, tradeRepo, logger)
	}
	if n, err := trader.AbortStaleSessions(ctx, sessionRepo, vt.SessionID()); err != nil {
		logger.Error("abort stale sessions failed", "error", err)
	} else if n > 0 {
		logger.Warn("stale sessions marked aborted", "count", n)
	}

	factories, err := strategy.Factories(feedCfg.Strategies...)
	if err != nil {
		panic(err)
	}
	set := strategy.NewSet(factories, logger)

	signals := make(chan trading.Signal)
	ticks := make(chan trading.PriceTick)
	interval := exchange.Interval(feedCfg.Interval)

	eg, ctx := errgroup.WithContext(ctx)
	switch feedCfg.Mode {
	case ioc.FeedModeReplay:
		reqs := make([]exchange.GetKlinesReq, 0, len(feedCfg.Symbols))
		for _, pair := range feedCfg.Pairs() {
			reqs = append(reqs, exchange.GetKlinesReq{
				TradingPair: pair,
				Interval:    interval,
				StartTime:   feedCfg.StartTime,
				EndTime:     feedCfg.EndTime,
			})
		}
		opts := []feed.ReplayOption{feed.WithSignals(set.OnBar, signals), feed.WithReplayLogger(logger)}
		if feedCfg.IntraBar {
			opts = append(opts, feed.WithIntraBar())
		}
		replay := feed.NewKlineReplay(marketSvc, reqs, opts...)
		eg.Go(func() error {
			defer close(ticks)
			defer close(signals)
			return replay.Run(ctx, ticks)
		})
	case ioc.FeedModeLive:
		poller := feed.NewTickerPoller(marketSvc, feedCfg.Pairs(), feedCfg.PollInterval, logger)
		watcher := strategy.NewWatcher(marketSvc, feedCfg.Pairs(), interval, set, signals, logger)
		eg.Go(func() error {
			return poller.Run(ctx, ticks)
		})
		eg.Go(func() error {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("initial strategy scan failed", "error", err)
			}
			return schedule.Every(ctx, interval.Duration(), watcher, logger)
		})
	default:
		panic(fmt.Sprintf("unsupported feed mode %q", feedCfg.Mode))
	}

	eg.Go(func() error {
		return vt.Run(ctx, signals, ticks)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("virtual trading stopped with error", "error", err)
	}

	final, _ := vt.Shutdown(context.Background(), "main exit")
	fmt.Println(final.Text())
}

// resumeSession 恢复最近一次未正常结束的会话
func resumeSession(ctx context.Context, vt *trader.VirtualTrader, store *report.SnapshotStore, trades repo.TradeRepo, logger *slog.Logger) {
	snap, path, err := store.LoadLatest()
	switch {
	case errors.Is(err, report.ErrNoSnapshot):
		logger.Info("no snapshot found, starting a new session")
		return
	case err != nil:
		panic(err)
	case snap.Reason == report.SnapshotFinal:
		logger.Info("latest session already finished, starting a new session", "snapshot", path)
		return
	}

	history, err := trader.LoadHistory(ctx, trades, snap.SessionID)
	if err != nil {
		panic(err)
	}
	if err := vt.Restore(snap, history); err != nil {
		panic(err)
	}
	logger.Info("session resumed", "session", snap.SessionID, "snapshot", path)
}
