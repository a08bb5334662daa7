package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gabrielauvo/autonomo/internal/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SuspendManager — рубильник аккаунта. Приостановленный tenant получает 403
// на любой запрос к ассистенту еще до входа в ядро оркестрации.
//
// Состояние трехслойное: L1 — локальная мапа (горячий путь, без сети),
// L2 — Redis Set (общий для инстансов), L3 — Postgres (источник правды).
// Сигналы включения/снятия летят по Pub/Sub в формате "userID:on|off".
type SuspendManager struct {
	mu        sync.RWMutex
	suspended map[string]struct{}

	rdb    *redis.Client
	source SuspendedSource
	logger *zap.Logger
}

// SuspendedSource отдает приостановленных пользователей из источника правды
type SuspendedSource interface {
	ListSuspendedUserIDs(ctx context.Context) ([]string, error)
}

func NewSuspendManager(rdb *redis.Client, source SuspendedSource, logger *zap.Logger) *SuspendManager {
	return &SuspendManager{
		suspended: make(map[string]struct{}),
		rdb:       rdb,
		source:    source,
		logger:    logger.Named("suspend"),
	}
}

// IsSuspended — проверка на горячем пути, только L1
func (m *SuspendManager) IsSuspended(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.suspended[userID]
	return ok
}

func (m *SuspendManager) mark(userID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.suspended[userID] = struct{}{}
	} else {
		delete(m.suspended, userID)
	}
}

func (m *SuspendManager) replaceAll(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	m.mu.Lock()
	m.suspended = next
	m.mu.Unlock()
}

// Suspend включает блокировку: Postgres уже обновлен вызывающим, здесь — L2 и сигнал
func (m *SuspendManager) Suspend(ctx context.Context, userID string) error {
	m.mark(userID, true)
	if err := m.rdb.SAdd(ctx, infra.RedisKeySuspendedUsers, userID).Err(); err != nil {
		return fmt.Errorf("suspend: redis sadd: %w", err)
	}
	return m.rdb.Publish(ctx, infra.RedisChanSuspendSignal, userID+":on").Err()
}

// Resume снимает блокировку
func (m *SuspendManager) Resume(ctx context.Context, userID string) error {
	m.mark(userID, false)
	if err := m.rdb.SRem(ctx, infra.RedisKeySuspendedUsers, userID).Err(); err != nil {
		return fmt.Errorf("suspend: redis srem: %w", err)
	}
	return m.rdb.Publish(ctx, infra.RedisChanSuspendSignal, userID+":off").Err()
}

// Warmup загружает состояние при старте: L1 из источника правды,
// и под распределенной блокировкой доливает пустой Redis.
func (m *SuspendManager) Warmup(ctx context.Context) error {
	ids, err := m.source.ListSuspendedUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("suspend: warmup source: %w", err)
	}
	m.replaceAll(ids)

	// SetNX: только один инстанс греет Redis
	ok, err := m.rdb.SetNX(ctx, infra.RedisKeyLockWarmupSuspended, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой инстанс уже греет
	}

	count, err := m.rdb.SCard(ctx, infra.RedisKeySuspendedUsers).Result()
	if err != nil {
		count = 0
		m.logger.Warn("could not check Redis set size, proceeding with warm-up", zap.Error(err))
	}

	if count == 0 && len(ids) > 0 {
		m.logger.Info("Redis suspended set is empty, performing warm-up from DB",
			zap.Int("count", len(ids)))
		pipe := m.rdb.Pipeline()
		for _, id := range ids {
			pipe.SAdd(ctx, infra.RedisKeySuspendedUsers, id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("suspend: warmup pipeline: %w", err)
		}
	}

	return nil
}

// StartListener держит L1 в синхроне с сигналами других инстансов.
// Блокирующий вызов, запускается в отдельной горутине.
func (m *SuspendManager) StartListener(ctx context.Context) {
	m.logger.Info("suspend-signal listener started")
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanSuspendSignal,
		func() error {
			// При реконнекте могли пропустить сигналы — полная пересинхронизация
			ids, err := m.source.ListSuspendedUserIDs(ctx)
			if err != nil {
				return err
			}
			m.replaceAll(ids)
			return nil
		},
		func(userID, value string) {
			on := value == "on" || value == "true"
			m.logger.Info("suspend signal received",
				zap.String("user_id", userID), zap.Bool("suspended", on))
			m.mark(userID, on)
		},
	)
}
