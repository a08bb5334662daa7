package domain

import (
	"fmt"
	"time"
)

// EntityKind — закрытое перечисление бизнес-сущностей, которыми владеет tenant.
// Выбор таблицы идет через явный switch в репозитории, а не через динамический
// доступ по имени: набор типов закрыт и проверяется компилятором.
type EntityKind string

const (
	EntityClient        EntityKind = "client"
	EntityQuote         EntityKind = "quote"
	EntityWorkOrder     EntityKind = "work_order"
	EntityClientPayment EntityKind = "client_payment"
)

// ParseEntityKind валидирует строку из параметров инструмента
func ParseEntityKind(s string) (EntityKind, error) {
	switch EntityKind(s) {
	case EntityClient, EntityQuote, EntityWorkOrder, EntityClientPayment:
		return EntityKind(s), nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Client — клиент малого бизнеса. Поля минимальны: детальная валидация
// живет в инструментах-коллабораторах, ядру нужна только принадлежность.
type Client struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Quote struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ClientID    string    `json:"client_id"`
	Description string    `json:"description"`
	Total       float64   `json:"total"`
	Status      string    `json:"status"` // DRAFT, SENT, APPROVED
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type WorkOrder struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ClientID    string    `json:"client_id"`
	Description string    `json:"description"`
	Status      string    `json:"status"` // SCHEDULED, IN_PROGRESS, DONE, CANCELLED
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ClientPayment — локальная запись о платеже, созданном через шлюз.
// GatewayRef хранит id на стороне платежного провайдера.
type ClientPayment struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ClientID    string    `json:"client_id"`
	BillingType string    `json:"billing_type"`
	Value       float64   `json:"value"`
	DueDate     time.Time `json:"due_date"`
	Status      string    `json:"status"` // PENDING, CONFIRMED, RECEIVED
	GatewayRef  string    `json:"gateway_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
