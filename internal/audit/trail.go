package audit

/*
Файл trail.go реализует асинхронный движок персистентности журнала аудита.

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят из Hot Path через неблокирующий канал,
  задержки записи в БД не влияют на Response Time основного запроса.
- Batching & Efficiency: накопление в памяти и пакетная запись (Bulk Insert)
  в PostgreSQL по таймеру или при достижении лимита пачки.
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью; закрытие входного канала — единственный сигнал завершения воркера,
  финальный flush гарантирует отсутствие потерь при перезагрузке.
- Reliability: ошибка записи пачки логируется и не распространяется наверх —
  аудит никогда не роняет операцию, которая его породила.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BatchWriter определяет, куда физически сохраняются записи
type BatchWriter interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, entries []Entry) error
}

const (
	defaultBufferSize = 10000
	batchLimit        = 100
	flushInterval     = 500 * time.Millisecond
)

type Trail struct {
	ch     chan Entry
	repo   BatchWriter
	logger *zap.Logger
	wg     sync.WaitGroup

	// Защита от Log после остановки: атомарный флаг вместо паники на закрытом канале
	isClosed int32

	// Опциональный датчик заполненности буфера (backpressure)
	bufferGauge func(n int)

	flushEvery time.Duration
}

func NewTrail(repo BatchWriter, logger *zap.Logger) *Trail {
	return NewTrailSized(repo, logger, defaultBufferSize, flushInterval)
}

// NewTrailSized — вариант с буфером и интервалом сброса из конфига
func NewTrailSized(repo BatchWriter, logger *zap.Logger, bufferSize int, interval time.Duration) *Trail {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if interval <= 0 {
		interval = flushInterval
	}
	return &Trail{
		ch:         make(chan Entry, bufferSize),
		repo:       repo,
		logger:     logger.Named("audit-trail"),
		flushEvery: interval,
	}
}

// SetBufferGauge подключает метрику заполненности буфера
func (t *Trail) SetBufferGauge(fn func(n int)) { t.bufferGauge = fn }

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы конкурентные Log успели проскочить до close
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit entry dropped: trail is stopping", zap.String("id", e.ID))
		return
	}

	// Load Shedding: при переполнении буфера не блокируемся, а пишем
	// факт потери в обычный логгер — данные аудита важнее латентности, но
	// зависший Hot Path хуже пропуска.
	select {
	case t.ch <- e:
		if t.bufferGauge != nil {
			t.bufferGauge(len(t.ch))
		}
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("user_id", e.UserID),
			zap.String("trace_id", e.TraceID),
			zap.String("category", string(e.Category)),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Entry, 0, batchLimit)
	ticker := time.NewTicker(t.flushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст приложения к этому моменту может быть закрыт
		if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Error(err), zap.Int("batch", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): дочитали остатки — финальный сброс и выход
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchLimit {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
