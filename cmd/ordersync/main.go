package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ordersync/bot"
	"ordersync/impl/core"
	"ordersync/internal/config"
	"ordersync/internal/database"
	"ordersync/internal/database/memory"
	repository "ordersync/internal/database/mongo"
	"ordersync/internal/dispatch"
	"ordersync/internal/http-server/api"
	"ordersync/internal/ledger"
	"ordersync/internal/lib/logger"
	"ordersync/internal/lib/sl"
	"ordersync/internal/normalize"
	"ordersync/internal/outbox"
	"ordersync/internal/reconcile"
	"ordersync/internal/services"

	"github.com/shopspring/decimal"
)

type store interface {
	ledger.Store
	ledger.Outbox
}

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)

	// accounting expects plain numbers for money
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tgBot *bot.TgBot
	if conf.Telegram.Enabled {
		var err error
		tgBot, err = bot.NewTgBot(conf.Telegram.BotName, conf.Telegram.ApiKey, conf.Telegram.AdminId, lg)
		if err != nil {
			lg.Error("failed to initialize telegram bot", sl.Err(err))
		} else {
			lg = logger.SetupTelegramHandler(lg, tgBot, slog.LevelDebug)
			lg.With(
				slog.String("bot_name", conf.Telegram.BotName),
			).Info("telegram bot initialized")

			go func() {
				if err := tgBot.Start(); err != nil {
					lg.Error("telegram bot error", sl.Err(err))
				}
			}()
		}
	}

	lg.Info("starting ordersync", slog.String("config", *configPath), slog.String("env", conf.Env))
	lg.Debug("debug messages enabled")

	var db store
	if conf.SQL.Enabled {
		sqlDb, err := database.NewSQLClient(conf, lg)
		if err != nil {
			lg.With(sl.Err(err)).Error("mysql client")
			os.Exit(1)
		}
		lg.With(
			slog.String("host", conf.SQL.HostName),
			slog.String("port", conf.SQL.Port),
			slog.String("user", conf.SQL.UserName),
			slog.String("database", conf.SQL.Database),
		).Info("mysql client initialized")
		defer sqlDb.Close()
		go mysqlStats(ctx, sqlDb, lg)
		db = sqlDb
	} else {
		lg.Warn("sql disabled, ledger kept in memory")
		db = memory.New()
	}

	writer, err := outbox.NewWriter(conf.Outbox.ProcessingDir, conf.Outbox.ArchiveDir, lg)
	if err != nil {
		lg.With(sl.Err(err)).Error("outbox writer")
		os.Exit(1)
	}

	dispatcher := dispatch.New(writer, db, lg)
	dispatcher.SetRouting(conf.Notify.Managers, conf.Notify.Finance, conf.Notify.Currency)
	dispatcher.SetRedeliverAfter(conf.Poll.RedeliverAfter)
	if tgBot != nil {
		dispatcher.SetNotifier(tgBot)
	}

	engine := reconcile.New(db, lg)
	engine.SetAccounting(conf.Accounting.SupplierFormat, conf.Accounting.Manager)

	tables := normalize.DefaultTables().WithLabels(
		conf.Accounting.Managers,
		conf.Accounting.Payments,
		conf.Accounting.Shops,
		conf.Accounting.CardPayments,
	)

	handler := core.New(lg, conf)
	handler.SetEngine(engine)
	handler.SetNormalizer(normalize.New(tables, conf.Phone.DefaultCountry))
	handler.SetDispatcher(dispatcher)

	mongo, err := repository.NewMongoClient(conf, lg)
	if err != nil {
		lg.With(sl.Err(err)).Error("mongo client")
	}
	if mongo != nil {
		dispatcher.SetArchive(mongo)
		handler.SetArchive(mongo)
		lg.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("database", conf.Mongo.Database),
		).Info("mongo archive initialized")
	}

	for _, shop := range conf.EnabledShops() {
		fetcher, err := services.New(shop, lg)
		if err != nil {
			lg.With(sl.Err(err), slog.String("shop", shop.Name)).Error("shop client")
			continue
		}
		handler.AddShop(shop, fetcher)
		dispatcher.SetRecipients(shop.Name, shop.Recipients)
		lg.With(
			slog.String("shop", shop.Name),
			slog.String("source", shop.Source),
			slog.String("documents", shop.Documents),
		).Info("shop initialized")
	}

	if conf.Listen.Enabled {
		go func() {
			if err := api.New(ctx, conf, lg, handler); err != nil {
				lg.With(sl.Err(err)).Error("api server")
			}
		}()
	}

	if err = handler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lg.With(sl.Err(err)).Error("service stopped")
		os.Exit(1)
	}
	lg.Info("service stopped")
}

func mysqlStats(ctx context.Context, db *database.MySql, lg *slog.Logger) {
	lg.Info("mysql stats", slog.String("connections", db.Stats()))
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lg.Info("mysql", slog.String("stats", db.Stats()))
		}
	}
}
