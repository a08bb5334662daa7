package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gabrielauvo/autonomo/internal/audit"

	"go.uber.org/zap"
)

// Registry — единственная привилегированная точка исполнения инструментов.
// Карта собирается composition root'ом до приема трафика; RWMutex оставлен
// на случай горячей перерегистрации, конкурентной с обработкой запросов.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	auditor audit.Auditor
	metrics *Metrics
	logger  *zap.Logger
}

func NewRegistry(auditor audit.Auditor, metrics *Metrics, logger *zap.Logger) *Registry {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Registry{
		tools:   make(map[string]Tool),
		auditor: auditor,
		metrics: metrics,
		logger:  logger.Named("tool-registry"),
	}
}

// Register добавляет инструмент. Повторная регистрация того же имени —
// перезапись с предупреждением, не ошибка: так устроена горячая перекомпоновка
// при старте (последняя регистрация выигрывает).
func (r *Registry) Register(t Tool) {
	name := t.Metadata().Name

	r.mu.Lock()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool re-registered, previous definition overwritten",
			zap.String("tool", name))
	}
	r.tools[name] = t
	r.mu.Unlock()

	r.logger.Debug("tool registered", zap.String("tool", name))
}

func (r *Registry) lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ListMetadata возвращает метаданные всех инструментов для рекламы возможностей LLM
func (r *Registry) ListMetadata() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Пустой слайс вместо nil, чтобы в JSON был []
	out := make([]Metadata, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Metadata())
	}
	return out
}

// AvailableTools — метаданные инструментов, доступных данному вызывающему.
// Отказ в правах на один инструмент не фатален для перечисления остальных.
func (r *Registry) AvailableTools(ctx context.Context, cc CallContext) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.tools))
	for _, t := range r.tools {
		if t.CheckPermission(ctx, cc) {
			out = append(out, t.Metadata())
		}
	}
	return out
}

// RequiresConfirmation — нужен ли план для инструмента.
// Неизвестное имя трактуем как "требует подтверждения" (fail-safe).
func (r *Registry) RequiresConfirmation(name string) bool {
	t, ok := r.lookup(name)
	if !ok {
		return true
	}
	return t.Metadata().Kind.RequiresConfirmation()
}

// RequiresPaymentPreview — объявлен ли у инструмента обязательный платежный превью
func (r *Registry) RequiresPaymentPreview(name string) bool {
	t, ok := r.lookup(name)
	if !ok {
		return false
	}
	return t.Metadata().RequiresPaymentPreview
}

// ExecuteTool — пайплайн validate -> authorize -> execute -> audit, единый для
// всех инструментов. Обрывается на первом провале; КАЖДАЯ ветка оставляет ровно
// одну запись аудита. Никогда не возвращает ошибку наружу и не пропускает панику
// инструмента: любой исход упакован в Result.
func (r *Registry) ExecuteTool(ctx context.Context, name string, params map[string]any, cc CallContext) *Result {
	start := time.Now()

	entry := audit.Entry{
		TraceID:        cc.TraceID,
		UserID:         cc.UserID,
		ConversationID: cc.ConversationID,
		PlanID:         cc.PlanID,
		ToolName:       name,
		Input:          params,
		IP:             cc.IP,
		UserAgent:      cc.UserAgent,
		Timestamp:      start,
	}
	finish := func(e audit.Entry, outcome string) {
		e.DurationMs = time.Since(start).Milliseconds()
		r.auditor.Log(e)
		r.metrics.Executions.WithLabelValues(name, outcome).Inc()
		r.metrics.ExecutionDuration.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())
	}

	// 1. Поиск по имени. Неизвестный инструмент — событие безопасности:
	// либо LLM галлюцинирует, либо кто-то щупает API.
	t, ok := r.lookup(name)
	if !ok {
		res := Fail("Tool '%s' not found", name)
		entry.Category = audit.CategorySecurityBlock
		entry.Action = "unknown_tool"
		entry.ErrorMessage = res.Error
		finish(entry, "blocked")
		return res
	}

	// 2. Проверка прав
	if !t.CheckPermission(ctx, cc) {
		res := Fail("Permission denied for tool '%s'", name)
		entry.Category = audit.CategorySecurityBlock
		entry.Action = "permission_denied"
		entry.ErrorMessage = res.Error
		finish(entry, "blocked")
		return res
	}

	// 3. Валидация параметров. Сообщение ошибки показывается пользователю как есть.
	if err := t.Validate(params, cc); err != nil {
		res := Fail("%s", err.Error())
		entry.Category = audit.CategoryToolCall
		entry.Action = "validation_failed"
		entry.ErrorMessage = res.Error
		finish(entry, "invalid")
		return res
	}

	// 4. Исполнение под recover: паника инструмента не должна покинуть реестр
	res, execErr := r.safeExecute(ctx, t, params, cc)
	if execErr != nil {
		res = Fail("tool execution failed: %v", execErr)
	}
	if res == nil {
		// Контрактный дефект инструмента, но наружу — обычный провал
		res = Fail("tool '%s' returned no result", name)
	}

	if res.Success {
		entry.Category = audit.CategoryActionSuccess
	} else {
		entry.Category = audit.CategoryActionFailed
		entry.ErrorMessage = res.Error
	}
	entry.Action = name
	entry.Success = res.Success
	entry.Output = res.Data
	if len(res.AffectedEntities) > 0 {
		entry.EntityKind = string(res.AffectedEntities[0].Kind)
		entry.EntityID = res.AffectedEntities[0].ID
	}

	outcome := "success"
	if !res.Success {
		outcome = "failed"
	}
	finish(entry, outcome)
	return res
}

func (r *Registry) safeExecute(ctx context.Context, t Tool, params map[string]any, cc CallContext) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked",
				zap.String("tool", t.Metadata().Name),
				zap.Any("panic", rec))
			res, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	return t.Execute(ctx, params, cc)
}
