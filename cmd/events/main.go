package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	app "github.com/glkeru/rewards/internal/app"
	config "github.com/glkeru/rewards/internal/config"
	kafka "github.com/glkeru/rewards/internal/external/kafka"
	services "github.com/glkeru/rewards/internal/services"
	"go.uber.org/zap"
)

// Job - Обработка событий-триггеров для правил
func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// kafka
	reader, err := kafka.GetNewReader(config.String("KAFKA_TRIGGERS_TOPIC", "triggers"))
	if err != nil {
		panic(err)
	}
	defer reader.CloseReader()

	// database
	storage, err := app.NewStorage(ctx, logger)
	if err != nil {
		panic(err)
	}
	defer storage.Close()

	// services
	serv := services.NewRewardsService(storage.Deps(nil), logger)

	semcount := config.Int("REWARDS_EVENTS_COUNT", 5)
	wg := &sync.WaitGroup{}
	semaphore := make(chan struct{}, semcount)

	for {
		body, err := reader.GetNewMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error(err.Error())
			}
			break
		}
		req, err := kafka.ParseTrigger(body)
		if err != nil {
			logger.Error("skip message", zap.Error(err))
			continue
		}

		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(req services.EvaluateRequest) {
			defer wg.Done()
			defer func() { <-semaphore }()
			resp := serv.EvaluateRules(ctx, req)
			if resp.Error != "" {
				logger.Error("evaluate rules",
					zap.String("trigger", req.TriggerEvent),
					zap.String("student", req.Student),
					zap.String("code", resp.Code),
					zap.String("error", resp.Error),
				)
				return
			}
			logger.Info("rules evaluated",
				zap.String("trigger", req.TriggerEvent),
				zap.String("student", req.Student),
				zap.Int("granted", len(resp.RewardsGranted)),
			)
		}(req)
	}
	wg.Wait()
}
