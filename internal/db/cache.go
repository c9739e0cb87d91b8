package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	interf "github.com/glkeru/rewards/internal/interfaces"
	models "github.com/glkeru/rewards/internal/models"
	redis "github.com/redis/go-redis/v9"
)

type CacheService struct {
	client *redis.Client
}

func NewCacheService() (serv *CacheService, err error) {
	// config
	addr := os.Getenv("REWARDS_CACHE_URL")
	if addr == "" {
		return nil, fmt.Errorf("env REWARDS_CACHE_URL is not set")
	}
	user := os.Getenv("REWARDS_CACHE_USER")
	pwd := os.Getenv("REWARDS_CACHE_PWD")

	// redis
	db := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    pwd,
		Username:    user,
		DB:          0,
		MaxRetries:  5,
		DialTimeout: 10 * time.Second,
	})
	err = db.Ping(context.Background()).Err()
	if err != nil {
		return nil, err
	}

	return &CacheService{db}, nil
}

func balanceKey(studentID string) string {
	return "balance:" + studentID
}

func confirmationKey(token string) string {
	return "confirm:" + token
}

func (c *CacheService) GetBalance(ctx context.Context, studentID string) (models.Balance, error) {
	var balance models.Balance
	val, err := c.client.Get(ctx, balanceKey(studentID)).Bytes()
	if err == redis.Nil {
		return balance, models.ErrNotFound
	} else if err != nil {
		return balance, err
	}
	err = json.Unmarshal(val, &balance)
	return balance, err
}

func (c *CacheService) SetBalance(ctx context.Context, studentID string, balance models.Balance) error {
	val, err := json.Marshal(balance)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, balanceKey(studentID), val, 5*time.Minute).Err()
}

func (c *CacheService) InvalidateBalance(ctx context.Context, studentID string) error {
	return c.client.Del(ctx, balanceKey(studentID)).Err()
}

func (c *CacheService) SaveConfirmation(ctx context.Context, conf interf.Confirmation, ttl time.Duration) error {
	val, err := json.Marshal(conf)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, confirmationKey(conf.Token), val, ttl).Err()
}

// GETDEL: токен можно использовать только один раз
func (c *CacheService) TakeConfirmation(ctx context.Context, token string) (interf.Confirmation, error) {
	var conf interf.Confirmation
	val, err := c.client.GetDel(ctx, confirmationKey(token)).Bytes()
	if err == redis.Nil {
		return conf, models.ErrNotFound
	} else if err != nil {
		return conf, err
	}
	err = json.Unmarshal(val, &conf)
	return conf, err
}
