package rewards

import (
	"context"
	"fmt"
	"time"

	config "github.com/glkeru/rewards/internal/config"
	db "github.com/glkeru/rewards/internal/db"
	interf "github.com/glkeru/rewards/internal/interfaces"
	services "github.com/glkeru/rewards/internal/services"
	"go.uber.org/zap"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Хранилища сервиса
type Storage struct {
	Students interf.StudentStorage
	Catalog  interf.CatalogStorage
	Rules    interf.RuleStorage
	Ledger   interf.LedgerStorage
	Cache    interf.CacheStorage
	closers  []func()
}

func (s *Storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *Storage) Deps(dispatcher interf.ReloadDispatcher) services.Deps {
	return services.Deps{
		Students:   s.Students,
		Catalog:    s.Catalog,
		Rules:      s.Rules,
		Ledger:     s.Ledger,
		Cache:      s.Cache,
		Dispatcher: dispatcher,
	}
}

// REWARDS_STORAGE: memory (по умолчанию) или postgres + mongo
func NewStorage(ctx context.Context, logger *zap.Logger) (*Storage, error) {
	kind := config.String("REWARDS_STORAGE", StorageMemory)
	switch kind {
	case StorageMemory:
		return newMemoryStorage(ctx, logger)
	case StoragePostgres:
		return newPersistentStorage(ctx, logger)
	}
	return nil, fmt.Errorf("env REWARDS_STORAGE: unknown storage %q", kind)
}

func newMemoryStorage(ctx context.Context, logger *zap.Logger) (*Storage, error) {
	store := db.NewMemoryStore()
	s := &Storage{
		Students: store,
		Catalog:  store,
		Rules:    store,
		Ledger:   store,
		Cache:    db.NewMemoryCache(),
	}
	// начальные данные
	if path := config.String("REWARDS_SEED", ""); path != "" {
		seed, err := LoadSeed(path)
		if err != nil {
			return nil, err
		}
		if err := seed.Apply(ctx, s); err != nil {
			return nil, err
		}
		logger.Info("seed loaded", zap.String("path", path))
	}
	return s, nil
}

func newPersistentStorage(ctx context.Context, logger *zap.Logger) (*Storage, error) {
	s := &Storage{}

	// database
	ledger, err := db.NewLedgerDB(logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, ledger.Close)
	if config.String("REWARDS_DB_MIGRATE", "false") == "true" {
		if err := ledger.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	s.Students = ledger
	s.Ledger = ledger

	// rules and catalog
	mongo, err := db.NewMongoDB(logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongo.Close(cctx)
	})
	s.Rules = mongo
	s.Catalog = mongo

	// cache
	redis, err := db.NewCacheService()
	if err != nil {
		logger.Error("cache is disabled", zap.Error(err))
	} else {
		s.Cache = redis
	}
	return s, nil
}
