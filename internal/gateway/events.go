package gateway

import (
	"context"
	"fmt"

	"github.com/gabrielauvo/autonomo/internal/domain"
	"github.com/gabrielauvo/autonomo/internal/infra"

	"github.com/redis/go-redis/v9"
)

// RedisEventPublisher транслирует решения по планам в Pub/Sub.
// Формат сигнала — "planID:STATUS", симметричен suspend-сигналам.
type RedisEventPublisher struct {
	rdb *redis.Client
}

func NewRedisEventPublisher(rdb *redis.Client) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb}
}

func (p *RedisEventPublisher) PublishPlanEvent(ctx context.Context, planID string, status domain.PlanStatus) error {
	payload := fmt.Sprintf("%s:%s", planID, status)
	return p.rdb.Publish(ctx, infra.RedisChanPlanEvents, payload).Err()
}
