package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gabrielauvo/autonomo/internal/conversation"
	"github.com/gabrielauvo/autonomo/internal/domain"
	"github.com/gabrielauvo/autonomo/internal/plan"
	"github.com/gabrielauvo/autonomo/internal/tool"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatRequest — один ход диалога. Ядро отвязано от LLM: фронтовый слой
// (или сама модель через function calling) присылает уже разобранные вызовы
// инструментов в Actions, а свободный текст используется только для
// подтверждения/отклонения ранее предложенного плана.
type ChatRequest struct {
	ConversationID string              `json:"conversation_id"`
	Message        string              `json:"message"`
	Actions        []ChatActionRequest `json:"actions,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

type ChatActionRequest struct {
	ToolName    string         `json:"tool_name"`
	Params      map[string]any `json:"params"`
	Description string         `json:"description,omitempty"`
}

type ChatResponse struct {
	ConversationID string                  `json:"conversation_id"`
	Reply          string                  `json:"reply"`
	State          conversation.State      `json:"state"`
	Plan           *domain.Plan            `json:"plan,omitempty"`
	Report         *domain.ExecutionReport `json:"report,omitempty"`
	ToolResult     *tool.Result            `json:"tool_result,omitempty"`
}

// Ключевые слова подтверждения/отклонения (en + pt-BR: основная аудитория — Бразилия)
var (
	confirmWords = map[string]bool{"confirm": true, "yes": true, "sim": true, "confirmar": true, "ok": true}
	rejectWords  = map[string]bool{"reject": true, "no": true, "cancel": true, "nao": true, "não": true, "cancelar": true}
)

// PlanOrchestrator — то, что ассистенту нужно от Plan Service
type PlanOrchestrator interface {
	CreatePlan(ctx context.Context, in plan.CreateInput) (*domain.Plan, error)
	ConfirmPlan(ctx context.Context, id, userID string, cc tool.CallContext) (*domain.ExecutionReport, error)
	RejectPlan(ctx context.Context, id, userID string, cc tool.CallContext) error
}

// ToolRunner — то, что ассистенту нужно от реестра
type ToolRunner interface {
	ExecuteTool(ctx context.Context, name string, params map[string]any, cc tool.CallContext) *tool.Result
	RequiresConfirmation(name string) bool
	AvailableTools(ctx context.Context, cc tool.CallContext) []tool.Metadata
}

// Assistant превращает ход диалога в операции ядра: READ исполняется сразу,
// любая мутация собирается в план и ждет подтверждения человеком.
type Assistant struct {
	plans  PlanOrchestrator
	tools  ToolRunner
	conv   *conversation.Machine
	logger *zap.Logger
	now    func() time.Time
}

func NewAssistant(plans PlanOrchestrator, tools ToolRunner, conv *conversation.Machine, logger *zap.Logger) *Assistant {
	return &Assistant{
		plans:  plans,
		tools:  tools,
		conv:   conv,
		logger: logger.Named("assistant"),
		now:    time.Now,
	}
}

// Chat — один ход диалога целиком: разбор намерения, машина состояний,
// планирование или исполнение.
func (a *Assistant) Chat(ctx context.Context, cc tool.CallContext, req ChatRequest) (*ChatResponse, error) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}
	cc.ConversationID = req.ConversationID

	state, err := a.conv.GetState(ctx, req.ConversationID, cc.UserID)
	if err != nil {
		return nil, err
	}

	// 1. Ответ на ранее предложенный план
	if state.State == conversation.StateAwaitingConfirmation && state.PendingDraft != nil && state.PendingDraft.PlanID != "" {
		word := strings.ToLower(strings.TrimSpace(req.Message))
		switch {
		case confirmWords[word]:
			return a.confirmPending(ctx, cc, req.ConversationID, state.PendingDraft.PlanID)
		case rejectWords[word]:
			return a.rejectPending(ctx, cc, req.ConversationID, state.PendingDraft.PlanID)
		}
		// Не подтверждение и не отказ — напоминаем, план остается в ожидании
		return &ChatResponse{
			ConversationID: req.ConversationID,
			State:          state.State,
			Reply:          "There is a plan awaiting your confirmation. Reply 'confirm' to execute it or 'reject' to discard it.",
		}, nil
	}

	// 2. Новый запрос без действий — нечего оркестрировать
	if len(req.Actions) == 0 {
		return &ChatResponse{
			ConversationID: req.ConversationID,
			State:          state.State,
			Reply:          "Tell me what you need: I can manage clients, quotes, work orders, payments and notifications.",
		}, nil
	}

	// 3. Единственное READ-действие исполняется немедленно, без плана
	if len(req.Actions) == 1 && !a.tools.RequiresConfirmation(req.Actions[0].ToolName) {
		return a.runRead(ctx, cc, req.ConversationID, req.Actions[0])
	}

	// 4. Мутации — всегда через план
	return a.proposePlan(ctx, cc, req)
}

func (a *Assistant) runRead(ctx context.Context, cc tool.CallContext, conversationID string, ar ChatActionRequest) (*ChatResponse, error) {
	res := a.tools.ExecuteTool(ctx, ar.ToolName, ar.Params, cc)

	data, _ := a.conv.SetState(ctx, conversationID, cc.UserID, conversation.StateIdle, func(d *conversation.StateData) {
		if raw, err := json.Marshal(res); err == nil {
			d.LastToolResult = raw
		}
	})

	reply := "Here is what I found."
	if !res.Success {
		reply = res.Error
	}
	return &ChatResponse{
		ConversationID: conversationID,
		State:          data.State,
		Reply:          reply,
		ToolResult:     res,
	}, nil
}

func (a *Assistant) proposePlan(ctx context.Context, cc tool.CallContext, req ChatRequest) (*ChatResponse, error) {
	available := make(map[string]tool.Metadata)
	for _, md := range a.tools.AvailableTools(ctx, cc) {
		available[md.Name] = md
	}

	in := plan.CreateInput{
		UserID:         cc.UserID,
		ConversationID: req.ConversationID,
		Summary:        req.Message,
		IdempotencyKey: req.IdempotencyKey,
		TraceID:        cc.TraceID,
	}
	for _, ar := range req.Actions {
		md, ok := available[ar.ToolName]
		if !ok {
			return &ChatResponse{
				ConversationID: req.ConversationID,
				State:          conversation.StateIdle,
				Reply:          fmt.Sprintf("Tool '%s' is not available on your account.", ar.ToolName),
			}, nil
		}
		ai := plan.ActionInput{
			ToolName:    ar.ToolName,
			Params:      ar.Params,
			Description: ar.Description,
			Kind:        md.Kind,
		}
		if md.RequiresPaymentPreview {
			preview, err := paymentPreviewInput(ar.Params)
			if err != nil {
				return &ChatResponse{
					ConversationID: req.ConversationID,
					State:          conversation.StateIdle,
					Reply:          err.Error(),
				}, nil
			}
			ai.Preview = preview
		}
		in.Actions = append(in.Actions, ai)
	}

	// Переход в PLANNING фиксируем до создания, AWAITING_CONFIRMATION — после
	if _, err := a.conv.SetState(ctx, req.ConversationID, cc.UserID, conversation.StatePlanning, nil); err != nil {
		return nil, err
	}

	p, err := a.plans.CreatePlan(ctx, in)
	if err != nil {
		a.logger.Error("plan creation failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		_, _ = a.conv.SetState(ctx, req.ConversationID, cc.UserID, conversation.StateIdle, nil)
		return nil, err
	}

	data, err := a.conv.SetState(ctx, req.ConversationID, cc.UserID, conversation.StateAwaitingConfirmation, func(d *conversation.StateData) {
		draft := conversation.NewDraft(a.now())
		draft.PlanID = p.ID
		draft.Summary = p.Summary
		draft.ExpiresAt = p.ExpiresAt // Дедлайны двух механизмов обязаны совпадать
		d.PendingDraft = draft
	})
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		ConversationID: req.ConversationID,
		State:          data.State,
		Plan:           p,
		Reply: fmt.Sprintf("I prepared a plan with %d action(s): %s. Reply 'confirm' within %d minutes to execute it.",
			len(p.Actions), p.Summary, int(domain.ConfirmationWindow.Minutes())),
	}, nil
}

func (a *Assistant) confirmPending(ctx context.Context, cc tool.CallContext, conversationID, planID string) (*ChatResponse, error) {
	_, _ = a.conv.SetState(ctx, conversationID, cc.UserID, conversation.StateExecuting, nil)

	report, err := a.plans.ConfirmPlan(ctx, planID, cc.UserID, cc)

	// Диалог возвращается в IDLE независимо от исхода: план финализирован
	data, _ := a.conv.SetState(ctx, conversationID, cc.UserID, conversation.StateIdle, func(d *conversation.StateData) {
		d.PendingDraft = nil
	})

	if err != nil {
		reply := "I could not execute that plan."
		switch {
		case err == domain.ErrPlanExpired:
			reply = "That plan expired before it was confirmed. Let's start over."
		case err == domain.ErrNotFound:
			reply = "That plan is no longer pending."
		}
		return &ChatResponse{ConversationID: conversationID, State: data.State, Reply: reply}, nil
	}

	return &ChatResponse{
		ConversationID: conversationID,
		State:          data.State,
		Reply:          report.ResultSummary,
		Report:         report,
	}, nil
}

func (a *Assistant) rejectPending(ctx context.Context, cc tool.CallContext, conversationID, planID string) (*ChatResponse, error) {
	err := a.plans.RejectPlan(ctx, planID, cc.UserID, cc)

	data, _ := a.conv.SetState(ctx, conversationID, cc.UserID, conversation.StateIdle, func(d *conversation.StateData) {
		d.PendingDraft = nil
	})

	reply := "Understood, I discarded that plan."
	if err == domain.ErrNotFound {
		reply = "That plan was no longer pending."
	} else if err != nil {
		return nil, err
	}

	return &ChatResponse{ConversationID: conversationID, State: data.State, Reply: reply}, nil
}

// paymentPreviewInput собирает превью платежа из параметров действия.
// Платежное действие без полного превью в план не попадает.
func paymentPreviewInput(params map[string]any) (*plan.PreviewInput, error) {
	clientID, _ := params["client_id"].(string)
	billingType, _ := params["billing_type"].(string)
	value, _ := params["value"].(float64)
	rawDue, _ := params["due_date"].(string)
	if clientID == "" || billingType == "" || value <= 0 || rawDue == "" {
		return nil, fmt.Errorf("a payment action needs client_id, billing_type, value and due_date before I can preview it")
	}
	dueDate, err := time.Parse("2006-01-02", rawDue)
	if err != nil {
		return nil, fmt.Errorf("'due_date' must be a YYYY-MM-DD date")
	}
	return &plan.PreviewInput{
		ClientID:    clientID,
		BillingType: billingType,
		Value:       value,
		DueDate:     dueDate,
	}, nil
}
