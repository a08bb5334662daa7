package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gabrielauvo/autonomo/internal/audit"
	"github.com/gabrielauvo/autonomo/internal/conversation"
	"github.com/gabrielauvo/autonomo/internal/domain"
	"github.com/gabrielauvo/autonomo/internal/infra/auth"
	"github.com/gabrielauvo/autonomo/internal/tool"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// tierFeatures — фичи тарифа для CallContext.Features
func tierFeatures(tier string) map[string]bool {
	switch tier {
	case "PRO":
		return map[string]bool{"payments": true, "unlimited": true}
	default:
		return map[string]bool{}
	}
}

// AuthHandler — POST /auth/token
type AuthHandler struct {
	service *AuthService
	logger  *zap.Logger
}

func NewAuthHandler(s *AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: s, logger: logger.Named("auth-handler")}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.service.GenerateToken(r.Context(), req.Username, req.Password)
	if err != nil {
		// Не уточняем причину: юзер не существует и неверный пароль неразличимы
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, token)
}

// ChatHandler — POST /v1/chat, вход в ассистента
type ChatHandler struct {
	assistant *Assistant
	users     UserProvider
	logger    *zap.Logger
}

func NewChatHandler(a *Assistant, users UserProvider, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{assistant: a, users: users, logger: logger.Named("chat-handler")}
}

// callContext собирает контекст вызова из аутентифицированного запроса
func (h *ChatHandler) callContext(r *http.Request) (tool.CallContext, error) {
	userID := auth.UserIDFromContext(r.Context())
	user, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		return tool.CallContext{}, err
	}
	return tool.CallContext{
		UserID:    userID,
		TraceID:   TraceIDFromContext(r.Context()),
		Scopes:    auth.ScopesFromContext(r.Context()),
		Features:  tierFeatures(user.PlanTier),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}, nil
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cc, err := h.callContext(r)
	if err != nil {
		h.logger.Error("failed to resolve caller", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp, err := h.assistant.Chat(r.Context(), cc, req)
	if err != nil {
		h.logger.Error("chat turn failed", zap.String("user_id", cc.UserID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Частичный провал исполнения — все равно 200: клиент смотрит в report
	writeJSON(w, http.StatusOK, resp)
}

// PlanHandler — управление планами напрямую, мимо чата
type PlanHandler struct {
	plans  PlanService
	users  UserProvider
	logger *zap.Logger
}

// PlanService — то, что хендлеру нужно от Plan Service
type PlanService interface {
	GetPendingPlans(ctx context.Context, userID string) ([]*domain.Plan, error)
	ConfirmPlan(ctx context.Context, id, userID string, cc tool.CallContext) (*domain.ExecutionReport, error)
	RejectPlan(ctx context.Context, id, userID string, cc tool.CallContext) error
}

func NewPlanHandler(plans PlanService, users UserProvider, logger *zap.Logger) *PlanHandler {
	return &PlanHandler{plans: plans, users: users, logger: logger.Named("plan-handler")}
}

func (h *PlanHandler) callContext(r *http.Request) tool.CallContext {
	cc := tool.CallContext{
		UserID:    auth.UserIDFromContext(r.Context()),
		TraceID:   TraceIDFromContext(r.Context()),
		Scopes:    auth.ScopesFromContext(r.Context()),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	if user, err := h.users.GetUserByID(r.Context(), cc.UserID); err == nil {
		cc.Features = tierFeatures(user.PlanTier)
	}
	return cc
}

func (h *PlanHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	plans, err := h.plans.GetPendingPlans(r.Context(), userID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (h *PlanHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cc := h.callContext(r)

	report, err := h.plans.ConfirmPlan(r.Context(), id, cc.UserID, cc)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPlanExpired):
			http.Error(w, "plan expired", http.StatusGone)
		case errors.Is(err, domain.ErrNotFound):
			http.Error(w, "plan not found", http.StatusNotFound)
		default:
			h.logger.Error("confirm failed", zap.String("plan_id", id), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *PlanHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cc := h.callContext(r)

	if err := h.plans.RejectPlan(r.Context(), id, cc.UserID, cc); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "plan not found", http.StatusNotFound)
			return
		}
		h.logger.Error("reject failed", zap.String("plan_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ConversationHandler — чтение диалогов и их состояния
type ConversationHandler struct {
	machine *conversation.Machine
	logger  *zap.Logger
}

func NewConversationHandler(m *conversation.Machine, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{machine: m, logger: logger.Named("conversation-handler")}
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	list, err := h.machine.List(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := auth.UserIDFromContext(r.Context())

	conv, err := h.machine.Get(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	state, err := h.machine.GetState(r.Context(), id, userID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"state":        state,
	})
}

// AuditHandler — GET /v1/audit. Обычный пользователь видит только свой журнал,
// scope "admin" дает выборку по security-категориям любого пользователя.
type AuditHandler struct {
	service *audit.Service
	logger  *zap.Logger
}

func NewAuditHandler(s *audit.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger.Named("audit-handler")}
}

func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	callerID := auth.UserIDFromContext(r.Context())
	scopes := auth.ScopesFromContext(r.Context())

	q := r.URL.Query()
	targetID := callerID
	if requested := q.Get("user_id"); requested != "" && requested != callerID {
		if !scopes["admin"] {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		targetID = requested
	}

	f := audit.Filter{Category: audit.Category(q.Get("category"))}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			f.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			f.Offset = n
		}
	}
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.From = t
		}
	}
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.To = t
		}
	}

	var (
		logs []audit.Entry
		err  error
	)
	if q.Get("security") == "true" {
		logs, err = h.service.SecurityLogs(r.Context(), targetID, f)
	} else {
		logs, err = h.service.LogsByUser(r.Context(), targetID, f)
	}
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

// SuspensionStore — источник правды рубильника (Postgres)
type SuspensionStore interface {
	SetSuspended(ctx context.Context, id string, suspended bool) error
}

// AdminHandler — рубильник аккаунтов, только scope "admin".
// Порядок: сначала Postgres (источник правды), потом Redis и сигнал.
type AdminHandler struct {
	suspend *SuspendManager
	store   SuspensionStore
	logger  *zap.Logger
}

func NewAdminHandler(suspend *SuspendManager, store SuspensionStore, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{suspend: suspend, store: store, logger: logger.Named("admin-handler")}
}

func (h *AdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !auth.ScopesFromContext(r.Context())["admin"] {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (h *AdminHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.store.SetSuspended(r.Context(), id, true); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.suspend.Suspend(r.Context(), id); err != nil {
		h.logger.Error("suspend failed", zap.String("user_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.store.SetSuspended(r.Context(), id, false); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.suspend.Resume(r.Context(), id); err != nil {
		h.logger.Error("resume failed", zap.String("user_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToolsHandler — GET /v1/tools: какие инструменты доступны вызывающему
type ToolsHandler struct {
	tools ToolRunner
	users UserProvider
}

func NewToolsHandler(tools ToolRunner, users UserProvider) *ToolsHandler {
	return &ToolsHandler{tools: tools, users: users}
}

func (h *ToolsHandler) List(w http.ResponseWriter, r *http.Request) {
	cc := tool.CallContext{
		UserID: auth.UserIDFromContext(r.Context()),
		Scopes: auth.ScopesFromContext(r.Context()),
	}
	if user, err := h.users.GetUserByID(r.Context(), cc.UserID); err == nil {
		cc.Features = tierFeatures(user.PlanTier)
	}
	writeJSON(w, http.StatusOK, h.tools.AvailableTools(r.Context(), cc))
}
