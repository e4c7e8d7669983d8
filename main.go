package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/audit"
	"trading-core/internal/dispatch"
	"trading-core/internal/events"
	"trading-core/internal/ingress"
	"trading-core/internal/pending"
	"trading-core/internal/quote"
	"trading-core/internal/seq"
	"trading-core/internal/trigger"
	"trading-core/pkg/config"
	"trading-core/pkg/db"
	"trading-core/pkg/i18n"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	yamlPath := os.Getenv("ENGINE_CONFIG")
	if yamlPath == "" {
		yamlPath = "engine.yaml"
	}
	cfg, err := config.Load(yamlPath)
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}

	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}

	counter := &seq.Counter{}
	auditCfg := audit.DefaultConfig(cfg.AuditServer, time.Now())
	logger := audit.New(auditCfg, database, bus)

	accounts := account.New(database)
	pendings := pending.New(database)
	quotes := quote.NewClient(cfg.OracleAddr)

	pendings.StartSweeper(ctx, cfg.SweepInterval, func(ctx context.Context, intent pending.Intent) {
		switch intent.Side {
		case pending.Buy:
			// Nothing was reserved at BUY time, so expiry is a pure no-op
			// against account state.
			log.Printf(i18n.Get("IntentExpired"), intent.Side, intent.UserID, pending.TTL)
		case pending.Sell:
			log.Printf(i18n.Get("IntentExpired"), intent.Side, intent.UserID, pending.TTL)
		}
	})
	log.Printf(i18n.Get("SweeperStarted"), cfg.SweepInterval)

	triggerLoop := trigger.New(database, accounts, quotes, logger, bus, counter, cfg.TriggerPollInterval)
	triggerLoop.Start(ctx)
	log.Printf(i18n.Get("TriggerLoopStarted"), cfg.TriggerPollInterval)

	dispatcher := dispatch.New(ctx, accounts, pendings, quotes, logger, counter, dispatch.Config{
		QueueDepth: cfg.QueueDepth,
	})

	server := ingress.NewServer(dispatcher, bus)
	go func() {
		log.Printf(i18n.Get("IngressStarted"), cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))
}
