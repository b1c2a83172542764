package cache

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
)

type RedisClient struct {
	logger log.Logger
	client *redis.Client
	expiry time.Duration
}

func (r *RedisClient) GetKey(k Keyer) ([]byte, error) {
	v, err := r.client.Get(k.Key()).Bytes()
	if err == redis.Nil {
		// cache miss, no need of logging
		return nil, ErrNotCached
	} else if err != nil {
		_ = r.logger.Log("err", errors.Wrap(err, "fetching digest from redis"))
		return nil, err
	}
	return v, nil
}

func (r *RedisClient) SetKey(k Keyer, v []byte) error {
	if _, err := r.client.Set(k.Key(), v, r.expiry).Result(); err != nil {
		_ = r.logger.Log("err", errors.Wrap(err, "storing in redis"))
		return err
	}
	return nil
}

type RedisConfig struct {
	Service  string
	Port     int
	Timeout  time.Duration
	MaxConns int
	// Expiry given to entries; zero means they never expire. Entries
	// are content-addressed so there is nothing to refresh, expiry
	// only bounds how much the cache holds.
	Expiry time.Duration
	Logger log.Logger
}

func NewRedisClient(config RedisConfig) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Service, config.Port),
		Password:     "", // no password set
		DB:           0,  // use default DB
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		PoolSize:     config.MaxConns,
	})

	return &RedisClient{
		logger: config.Logger,
		client: client,
		expiry: config.Expiry,
	}
}
