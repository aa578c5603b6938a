package main

import (
	"context"
	"time"

	"github.com/quietriver/chatrelay/internal/ai"
	"github.com/quietriver/chatrelay/internal/config"
	"github.com/quietriver/chatrelay/internal/db"
	"github.com/quietriver/chatrelay/internal/gateway"
	"github.com/quietriver/chatrelay/internal/httpapi"
	"github.com/quietriver/chatrelay/internal/httpapi/handlers"
	"github.com/quietriver/chatrelay/internal/logger"
	"github.com/quietriver/chatrelay/internal/relay"
	"github.com/quietriver/chatrelay/internal/room"
	"github.com/quietriver/chatrelay/internal/store/rabbitmq"
	"github.com/quietriver/chatrelay/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Warn("redis unavailable, captcha and config snapshot degraded", "err", err)
		rds = nil
	}
	cancel()

	var rabbit *rabbitmq.Publisher
	rabbit, err = rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Warn("rabbitmq unavailable, async regenerate disabled", "err", err)
		rabbit = nil
	} else {
		defer rabbit.Close()
	}

	reg := ai.NewRegistry()
	reg.Register("thread", func(p ai.Params) (ai.Provider, error) {
		return ai.NewThreadProvider(p)
	})

	rooms := room.NewRepo(gdb)
	gw := gateway.New(cfg, rds)
	relaySvc := relay.NewService(rooms, reg, "thread", gw, log)

	h := handlers.NewHandler(gdb, cfg, log, rds, rabbit, relaySvc)
	r := httpapi.NewRouter(h)

	log.Info("server starting", "addr", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal("server stopped", "err", err)
	}
}
