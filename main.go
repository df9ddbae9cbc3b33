// main.go - Entry point
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := LoadConfig()

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	pubNub, err := NewPubnub(&cfg.PubNub)
	if err != nil {
		log.Fatal("PubNub setup failed:", err)
	}

	queueService := NewQueueService(redisClient, cfg.TxMaxRetries)
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	handlers := &Handlers{
		store:  queueService,
		pubNub: pubNub,
	}

	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	dispatcher := NewDispatcher(redisClient, queueService, asynqClient, cfg.Lookahead)
	go dispatcher.Run(dispatcherCtx)

	go startAsynqServer(redisOpt, handlers)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	setupRoutes(e, handlers)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopDispatcher()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
}
