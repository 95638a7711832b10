package repositories

import (
	"medlink/internal/core/ports"
	"medlink/internal/infrastructure/repositories/memory"
	redisrepo "medlink/internal/infrastructure/repositories/redis"
	"medlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory selects document-store backends, falling back to memory when
// Redis is disabled or unreachable.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	f := &Factory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory store",
				"error", err,
			)
			f.useRedis = false
		} else {
			f.redisClient = client
		}
	}

	if !f.useRedis {
		logger.Info("using in-memory consultation store")
	}

	return f
}

func (f *Factory) ConsultationRepository() ports.ConsultationRepository {
	if f.useRedis {
		return redisrepo.NewRedisConsultationRepository(f.redisClient)
	}
	return memory.NewMemoryConsultationRepository()
}

// RedisClient returns the shared client, or nil when memory repositories are
// in use. Used by the health checker.
func (f *Factory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
