package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/logger"
)

func main() {
	defer logger.Init("chara_realm", true, false, os.Stderr).Close()

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	var store Store
	if cfg.DevMode {
		logger.Info("DEV_MODE: using in-memory store")
		store = NewMemStore()
	} else {
		pg, err := OpenPgStore(cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		store = pg
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warningf("redis unreachable, leaderboard cache disabled: %v", err)
			rdb = nil
		}
	}

	gateway := NewWSGateway(nil)
	leaderboard := NewLeaderboard(store, rdb)
	ledger := NewLedger(store)
	ledger.leaderboard = leaderboard
	catalog := NewCatalog(store)
	auctions := NewAuctionCoordinator(store, gateway, leaderboard)
	auctions.window = cfg.AuctionWindow
	auctions.deadline = cfg.AuctionDeadline()
	claims := NewClaimResolver(store, leaderboard)
	spawns := NewSpawnCoordinator(store, gateway, auctions)
	spawns.threshold = cfg.SpawnThreshold
	spawns.auctionAfter = cfg.AuctionAfter
	if cfg.SpawnRarityMin > 0 && cfg.SpawnRarityMax >= cfg.SpawnRarityMin {
		spawns.rarityMin = Rarity(cfg.SpawnRarityMin)
		spawns.rarityMax = Rarity(cfg.SpawnRarityMax)
	}
	dispatcher := NewDispatcher(store, gateway, DefaultPacing())

	router := NewRouter(ledger, catalog, spawns, claims, auctions, dispatcher, leaderboard, cfg.OperatorIDs())
	gateway.SetHandler(router.HandleEvent)

	if err := leaderboard.Rebuild(context.Background()); err != nil {
		logger.Warningf("leaderboard rebuild: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go auctions.Run(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: newAPIMux(gateway, dispatcher, leaderboard, catalog),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("listening on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server: %v", err)
	}
}
