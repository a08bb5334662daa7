package tools

import (
	"context"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"
)

// Узкие интерфейсы хранилища: каждый инструмент объявляет ровно те методы,
// которые зовет. Репозиторий реализует их все одной структурой,
// но тесты подменяют по одному.

type ClientStore interface {
	CreateClient(ctx context.Context, c *domain.Client) error
	GetClient(ctx context.Context, id, userID string) (*domain.Client, error)
	FindClientsByName(ctx context.Context, userID, name string) ([]domain.Client, error)
}

type QuoteStore interface {
	CreateQuote(ctx context.Context, q *domain.Quote) error
}

type WorkOrderStore interface {
	GetWorkOrder(ctx context.Context, id, userID string) (*domain.WorkOrder, error)
	UpdateWorkOrderStatus(ctx context.Context, id, userID, status string, scheduledAt *time.Time) error
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p *domain.ClientPayment) error
}

// PreviewConsumer привязывает превью к реальному платежу. Повторная привязка
// того же превью — ошибка уровня хранилища (conditional update по payment_id IS NULL).
type PreviewConsumer interface {
	GetPreview(ctx context.Context, planID, actionID string) (*domain.PaymentPreview, error)
	ConsumePreview(ctx context.Context, previewID, paymentID string) (bool, error)
}

// NotificationSender — внешний канал доставки (email, whatsapp).
// Ядро не знает про транспорт: коллаборатор.
type NotificationSender interface {
	Send(ctx context.Context, userID, clientID, channel, message string) error
}
