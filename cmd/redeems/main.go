package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	app "github.com/glkeru/rewards/internal/app"
	config "github.com/glkeru/rewards/internal/config"
	rabbit "github.com/glkeru/rewards/internal/external/rabbitmq"
	services "github.com/glkeru/rewards/internal/services"
	"go.uber.org/zap"
)

// Job - Обработка заявок на награды из очереди
func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// rabbitmq
	reader, err := rabbit.NewRabbitConsumer()
	if err != nil {
		logger.Error(err.Error())
		panic(err)
	}
	defer reader.Close()

	reloads, err := rabbit.NewRabbitReloads()
	if err != nil {
		logger.Error(err.Error())
		panic(err)
	}
	defer reloads.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// database
	storage, err := app.NewStorage(ctx, logger)
	if err != nil {
		logger.Error(err.Error())
		panic(err)
	}
	defer storage.Close()

	// services
	serv := services.NewRewardsService(storage.Deps(reloads), logger)

	// workers
	semcount := config.Int("REWARDS_REDEEM_COUNT", 5)
	wg := &sync.WaitGroup{}
	wg.Add(semcount)
	for i := 0; i < semcount; i++ {
		go worker(ctx, serv, wg, logger, reader)
	}
	wg.Wait()
}

// worker for rabbitmq messages
func worker(ctx context.Context, serv *services.RewardsService, wg *sync.WaitGroup, logger *zap.Logger, reader *rabbit.RabbitConsumer) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-reader.Msg:
			if !ok {
				return
			}
			_ = rabbit.HandleRedeem(ctx, msg, serv.RedeemReward, reader.Processed, logger)
		}
	}
}
