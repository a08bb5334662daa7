package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/gabrielauvo/autonomo/internal/conversation"
	"github.com/gabrielauvo/autonomo/internal/domain"
	"github.com/gabrielauvo/autonomo/internal/plan"
	"github.com/gabrielauvo/autonomo/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStateRepo struct {
	states map[string][]byte
}

func (r *memStateRepo) GetStateData(ctx context.Context, conversationID, userID string) ([]byte, error) {
	return r.states[conversationID+"|"+userID], nil
}

func (r *memStateRepo) SetStateData(ctx context.Context, conversationID, userID string, data []byte) error {
	r.states[conversationID+"|"+userID] = data
	return nil
}

func (r *memStateRepo) List(ctx context.Context, userID string, limit int) ([]*conversation.Conversation, error) {
	return nil, nil
}

func (r *memStateRepo) Get(ctx context.Context, conversationID, userID string) (*conversation.Conversation, error) {
	return nil, nil
}

type fakePlans struct {
	created    []plan.CreateInput
	confirmed  []string
	rejected   []string
	confirmErr error
	rejectErr  error
	report     *domain.ExecutionReport
}

func (f *fakePlans) CreatePlan(ctx context.Context, in plan.CreateInput) (*domain.Plan, error) {
	f.created = append(f.created, in)
	p := &domain.Plan{
		ID:        "p-1",
		UserID:    in.UserID,
		Summary:   in.Summary,
		Status:    domain.PlanPendingConfirmation,
		ExpiresAt: time.Now().Add(domain.ConfirmationWindow),
	}
	for i, a := range in.Actions {
		p.Actions = append(p.Actions, domain.Action{ID: "a-" + a.ToolName, Position: i, ToolName: a.ToolName})
	}
	return p, nil
}

func (f *fakePlans) ConfirmPlan(ctx context.Context, id, userID string, cc tool.CallContext) (*domain.ExecutionReport, error) {
	f.confirmed = append(f.confirmed, id)
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	if f.report != nil {
		return f.report, nil
	}
	return &domain.ExecutionReport{PlanID: id, Status: domain.PlanCompleted, ResultSummary: "Executed 1/1 actions successfully"}, nil
}

func (f *fakePlans) RejectPlan(ctx context.Context, id, userID string, cc tool.CallContext) error {
	f.rejected = append(f.rejected, id)
	return f.rejectErr
}

type fakeTools struct {
	metadata []tool.Metadata
	readOnly map[string]bool
	result   *tool.Result
	executed []string
}

func (f *fakeTools) ExecuteTool(ctx context.Context, name string, params map[string]any, cc tool.CallContext) *tool.Result {
	f.executed = append(f.executed, name)
	if f.result != nil {
		return f.result
	}
	return tool.OK("data")
}

func (f *fakeTools) RequiresConfirmation(name string) bool { return !f.readOnly[name] }

func (f *fakeTools) AvailableTools(ctx context.Context, cc tool.CallContext) []tool.Metadata {
	return f.metadata
}

type assistantFixture struct {
	assistant *Assistant
	plans     *fakePlans
	tools     *fakeTools
	cc        tool.CallContext
}

func newAssistantFixture() *assistantFixture {
	f := &assistantFixture{
		plans: &fakePlans{},
		tools: &fakeTools{
			readOnly: map[string]bool{"clients.get": true},
			metadata: []tool.Metadata{
				{Name: "clients.create", Kind: domain.KindCreate},
				{Name: "clients.get", Kind: domain.KindRead},
				{Name: "payments.create", Kind: domain.KindPaymentCreate, RequiresPaymentPreview: true},
			},
		},
		cc: tool.CallContext{UserID: "u1", TraceID: "t-1"},
	}
	conv := conversation.NewMachine(&memStateRepo{states: make(map[string][]byte)}, zap.NewNop())
	f.assistant = NewAssistant(f.plans, f.tools, conv, zap.NewNop())
	return f
}

func TestChat_NoActionsGetsHelp(t *testing.T) {
	f := newAssistantFixture()

	resp, err := f.assistant.Chat(context.Background(), f.cc, ChatRequest{Message: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ConversationID, "a fresh conversation is minted")
	assert.Equal(t, conversation.StateIdle, resp.State)
	assert.Empty(t, f.plans.created)
}

func TestChat_SingleReadRunsImmediately(t *testing.T) {
	f := newAssistantFixture()

	resp, err := f.assistant.Chat(context.Background(), f.cc, ChatRequest{
		ConversationID: "conv-1",
		Actions:        []ChatActionRequest{{ToolName: "clients.get", Params: map[string]any{"name": "Ana"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"clients.get"}, f.tools.executed)
	assert.Empty(t, f.plans.created, "a read must not spawn a plan")
	require.NotNil(t, resp.ToolResult)
	assert.True(t, resp.ToolResult.Success)
	assert.Equal(t, conversation.StateIdle, resp.State)
}

func TestChat_MutationProposesPlan(t *testing.T) {
	f := newAssistantFixture()

	resp, err := f.assistant.Chat(context.Background(), f.cc, ChatRequest{
		ConversationID: "conv-1",
		Message:        "create client Ana",
		IdempotencyKey: "chat-1",
		Actions:        []ChatActionRequest{{ToolName: "clients.create", Params: map[string]any{"name": "Ana"}}},
	})
	require.NoError(t, err)

	require.Len(t, f.plans.created, 1)
	assert.Equal(t, "chat-1", f.plans.created[0].IdempotencyKey)
	assert.Equal(t, domain.KindCreate, f.plans.created[0].Actions[0].Kind)
	assert.Empty(t, f.tools.executed, "nothing runs before confirmation")
	require.NotNil(t, resp.Plan)
	assert.Equal(t, conversation.StateAwaitingConfirmation, resp.State)
}

func TestChat_ConfirmKeywordExecutesPendingPlan(t *testing.T) {
	f := newAssistantFixture()
	ctx := context.Background()

	_, err := f.assistant.Chat(ctx, f.cc, ChatRequest{
		ConversationID: "conv-1",
		Actions:        []ChatActionRequest{{ToolName: "clients.create", Params: map[string]any{"name": "Ana"}}},
	})
	require.NoError(t, err)

	resp, err := f.assistant.Chat(ctx, f.cc, ChatRequest{ConversationID: "conv-1", Message: "Confirm"})
	require.NoError(t, err)

	assert.Equal(t, []string{"p-1"}, f.plans.confirmed)
	require.NotNil(t, resp.Report)
	assert.Equal(t, "Executed 1/1 actions successfully", resp.Reply)
	assert.Equal(t, conversation.StateIdle, resp.State)
}

func TestChat_PortugueseConfirmWorks(t *testing.T) {
	f := newAssistantFixture()
	ctx := context.Background()

	_, err := f.assistant.Chat(ctx, f.cc, ChatRequest{
		ConversationID: "conv-1",
		Actions:        []ChatActionRequest{{ToolName: "clients.create", Params: map[string]any{"name": "Ana"}}},
	})
	require.NoError(t, err)

	_, err = f.assistant.Chat(ctx, f.cc, ChatRequest{ConversationID: "conv-1", Message: "sim"})
	require.NoError(t, err)
	assert.Len(t, f.plans.confirmed, 1)
}

func TestChat_RejectKeywordDiscardsPlan(t *testing.T) {
	f := newAssistantFixture()
	ctx := context.Background()

	_, err := f.assistant.Chat(ctx, f.cc, ChatRequest{
		ConversationID: "conv-1",
		Actions:        []ChatActionRequest{{ToolName: "clients.create", Params: map[string]any{"name": "Ana"}}},
	})
	require.NoError(t, err)

	resp, err := f.assistant.Chat(ctx, f.cc, ChatRequest{ConversationID: "conv-1", Message: "cancelar"})
	require.NoError(t, err)

	assert.Equal(t, []string{"p-1"}, f.plans.rejected)
	assert.Empty(t, f.plans.confirmed)
	assert.Equal(t, conversation.StateIdle, resp.State)
}

func TestChat_UnrelatedMessageKeepsPlanPending(t *testing.T) {
	f := newAssistantFixture()
	ctx := context.Background()

	_, err := f.assistant.Chat(ctx, f.cc, ChatRequest{
		ConversationID: "conv-1",
		Actions:        []ChatActionRequest{{ToolName: "clients.create", Params: map[string]any{"name": "Ana"}}},
	})
	require.NoError(t, err)

	resp, err := f.assistant.Chat(ctx, f.cc, ChatRequest{ConversationID: "conv-1", Message: "what was that again?"})
	require.NoError(t, err)

	assert.Empty(t, f.plans.confirmed)
	assert.Empty(t, f.plans.rejected)
	assert.Equal(t, conversation.StateAwaitingConfirmation, resp.State)
	assert.Contains(t, resp.Reply, "confirm")
}

func TestChat_ExpiredPlanGetsFriendlyReply(t *testing.T) {
	f := newAssistantFixture()
	f.plans.confirmErr = domain.ErrPlanExpired
	ctx := context.Background()

	_, err := f.assistant.Chat(ctx, f.cc, ChatRequest{
		ConversationID: "conv-1",
		Actions:        []ChatActionRequest{{ToolName: "clients.create", Params: map[string]any{"name": "Ana"}}},
	})
	require.NoError(t, err)

	resp, err := f.assistant.Chat(ctx, f.cc, ChatRequest{ConversationID: "conv-1", Message: "confirm"})
	require.NoError(t, err, "an expired plan is a conversational answer, not a transport error")
	assert.Contains(t, resp.Reply, "expired")
	assert.Equal(t, conversation.StateIdle, resp.State)
}

func TestChat_UnavailableToolIsRefused(t *testing.T) {
	f := newAssistantFixture()

	resp, err := f.assistant.Chat(context.Background(), f.cc, ChatRequest{
		ConversationID: "conv-1",
		Actions:        []ChatActionRequest{{ToolName: "payments.refund", Params: map[string]any{}}},
	})
	require.NoError(t, err)

	assert.Empty(t, f.plans.created)
	assert.Equal(t, "Tool 'payments.refund' is not available on your account.", resp.Reply)
}

func TestChat_PaymentActionBuildsPreview(t *testing.T) {
	f := newAssistantFixture()

	_, err := f.assistant.Chat(context.Background(), f.cc, ChatRequest{
		ConversationID: "conv-1",
		Actions: []ChatActionRequest{{
			ToolName: "payments.create",
			Params: map[string]any{
				"client_id":    "c-1",
				"billing_type": "PIX",
				"value":        150.0,
				"due_date":     "2026-03-15",
			},
		}},
	})
	require.NoError(t, err)

	require.Len(t, f.plans.created, 1)
	preview := f.plans.created[0].Actions[0].Preview
	require.NotNil(t, preview)
	assert.Equal(t, "c-1", preview.ClientID)
	assert.Equal(t, "PIX", preview.BillingType)
	assert.Equal(t, 150.0, preview.Value)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), preview.DueDate)
}

func TestChat_PaymentActionWithoutPreviewFieldsIsRefused(t *testing.T) {
	f := newAssistantFixture()

	resp, err := f.assistant.Chat(context.Background(), f.cc, ChatRequest{
		ConversationID: "conv-1",
		Actions: []ChatActionRequest{{
			ToolName: "payments.create",
			Params:   map[string]any{"client_id": "c-1", "value": 150.0},
		}},
	})
	require.NoError(t, err)

	assert.Empty(t, f.plans.created)
	assert.Contains(t, resp.Reply, "billing_type")
}
