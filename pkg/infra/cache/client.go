package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	defaultPingTimeout = 5 * time.Second
	defaultPoolSize    = 64
)

type Client interface {
	Ping(ctx context.Context) error
	RedisClient() *redis.Client
	Name() string
	Close() error
}

type Config struct {
	// Name identifies the pool in logs and metrics.
	Name     string
	Host     string
	Port     int
	Password string
	DB       int
	// TLSConfig enables TLS when set.
	TLSConfig *tls.Config
	// Timeout bounds every socket read and write of the pool.
	Timeout  time.Duration
	PoolSize int
}

type client struct {
	name        string
	redisClient *redis.Client
}

// NewClient opens a connection pool and checks it with a PING. Each pool
// carries its own socket timeouts, so two pools against the same server can
// be tuned independently.
func NewClient(config Config, logger *logrus.Logger) (Client, error) {
	redisClient := redis.NewClient(newOptions(config))

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithFields(logrus.Fields{
			"pool":  config.Name,
			"host":  config.Host,
			"port":  config.Port,
			"error": err.Error(),
		}).Error("failed to connect to redis")
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis (%s pool): %w", config.Name, err)
	}

	logger.WithFields(logrus.Fields{
		"pool":    config.Name,
		"host":    config.Host,
		"port":    config.Port,
		"timeout": config.Timeout.String(),
	}).Info("redis connected successfully")

	return NewFromRedis(config.Name, redisClient), nil
}

// NewFromRedis wraps an existing client without checking connectivity.
func NewFromRedis(name string, redisClient *redis.Client) Client {
	return &client{name: name, redisClient: redisClient}
}

func newOptions(config Config) *redis.Options {
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	options := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     poolSize,
		MaxRetries:   -1,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		PoolTimeout:  config.Timeout,
	}
	if config.TLSConfig != nil {
		options.TLSConfig = config.TLSConfig.Clone()
	}
	return options
}

func (c *client) Ping(ctx context.Context) error {
	return c.redisClient.Ping(ctx).Err()
}

func (c *client) RedisClient() *redis.Client {
	return c.redisClient
}

func (c *client) Name() string {
	return c.name
}

func (c *client) Close() error {
	return c.redisClient.Close()
}
