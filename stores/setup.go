package stores

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/spf13/viper"
	rt "wuyrush.io/wave/common/retry"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
)

const (
	defaultAllyCacheSize   = 1 << 12
	defaultAllyCacheExpiry = 30 * time.Second
)

// NewRedisClient connects to the Redis instance configured by env vars, waiting for it to come
// online for a few seconds.
func NewRedisClient() (*redis.Client, *se.Err) {
	retryOpts := []rt.RetryOption{
		rt.WithTimeout(3 * time.Second),
		rt.WithBaseDelay(100 * time.Millisecond),
		rt.WithExp(2.0),
		rt.WithRetryOn(rt.IsDepOffline),
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%s", viper.GetString(cst.EnvRedisHost), viper.GetString(cst.EnvRedisPort)),
		Password:   viper.GetString(cst.EnvRedisPasswd),
		DB:         viper.GetInt(cst.EnvRedisDB),
		MaxRetries: 3,
	})
	// verify the client is up correctly
	pingFn := func() error {
		_, err := redisClient.Ping().Result()
		return err
	}
	if err := rt.Retry(pingFn, retryOpts...); err != nil {
		_ = redisClient.Close()
		return nil, se.NewDependencyFailure("failed initializing Redis").WithCause(err)
	}
	return redisClient, nil
}

// SetupRedisWaveDAO assembles the RedisWaveDAO configured by env vars
func SetupRedisWaveDAO() (*RedisWaveDAO, *se.Err) {
	db, err := NewRedisClient()
	if err != nil {
		return nil, err
	}
	size := viper.GetInt(cst.EnvAllyCacheSize)
	if size <= 0 {
		size = defaultAllyCacheSize
	}
	expiry := viper.GetDuration(cst.EnvAllyCacheEntryTTL)
	if expiry <= 0 {
		expiry = defaultAllyCacheExpiry
	}
	return NewRedisWaveDAO(db, NewAllyCache(db, size, expiry)), nil
}
