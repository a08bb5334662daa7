package sweep

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task — одна фоновая зачистка. Возвращает количество обработанных строк.
type Task func(ctx context.Context) (int64, error)

// Sweeper запускает фоновые зачистки по расписанию. Каждая задача берет
// распределенную блокировку (SetNX): в много-инстансной раскатке каждый
// проход исполняет ровно один инстанс.
type Sweeper struct {
	cron   *cron.Cron
	rdb    *redis.Client
	logger *zap.Logger
}

func New(rdb *redis.Client, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cron:   cron.New(),
		rdb:    rdb,
		logger: logger.Named("sweep"),
	}
}

// Register ставит задачу на расписание (формат robfig/cron, включая "@every 1m")
func (s *Sweeper) Register(name, schedule, lockKey string, task Task) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.run(ctx, name, lockKey, task)
	})
	return err
}

func (s *Sweeper) run(ctx context.Context, name, lockKey string, task Task) {
	// TTL блокировки больше таймаута задачи: лок не протухнет посреди прохода
	ok, err := s.rdb.SetNX(ctx, lockKey, "processing", time.Minute).Result()
	if err != nil {
		s.logger.Warn("sweep lock unavailable, skipping round",
			zap.String("sweep", name), zap.Error(err))
		return
	}
	if !ok {
		return // Другой инстанс уже обрабатывает этот проход
	}
	defer s.rdb.Del(ctx, lockKey)

	n, err := task(ctx)
	if err != nil {
		s.logger.Error("sweep failed", zap.String("sweep", name), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("sweep completed", zap.String("sweep", name), zap.Int64("affected", n))
	}
}

// Start запускает планировщик (не блокирует)
func (s *Sweeper) Start() { s.cron.Start() }

// Stop останавливает планировщик и ждет завершения текущих задач
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
