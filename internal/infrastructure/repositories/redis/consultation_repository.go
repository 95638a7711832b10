package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"medlink/internal/core/domain"
	"medlink/internal/core/ports"
	"medlink/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

type RedisConsultationRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisConsultationRepository(client *redis.Client) ports.ConsultationRepository {
	return &RedisConsultationRepository{
		client: client,
		prefix: "medlink:consultation:",
	}
}

func (r *RedisConsultationRepository) key(id domain.CallID) string {
	return r.prefix + string(id)
}

func (r *RedisConsultationRepository) Get(ctx context.Context, id domain.CallID) (*domain.Consultation, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "get", r.key(id))
	defer span.End()

	data, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrConsultationNotFound
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to get consultation from Redis: %w", err)
	}

	var c domain.Consultation
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal consultation: %w", err)
	}

	return &c, nil
}

func (r *RedisConsultationRepository) Update(ctx context.Context, c *domain.Consultation) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "update", r.key(c.AppointmentID))
	defer span.End()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal consultation: %w", err)
	}

	if err := r.client.Set(ctx, r.key(c.AppointmentID), data, 0).Err(); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to set consultation in Redis: %w", err)
	}

	return nil
}
