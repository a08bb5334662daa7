package conversation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memConvRepo struct {
	states map[string][]byte // conversationID|userID
	convs  map[string]*Conversation
	sets   int
}

func newMemConvRepo() *memConvRepo {
	return &memConvRepo{states: make(map[string][]byte), convs: make(map[string]*Conversation)}
}

func ckey(conversationID, userID string) string { return conversationID + "|" + userID }

func (r *memConvRepo) GetStateData(ctx context.Context, conversationID, userID string) ([]byte, error) {
	return r.states[ckey(conversationID, userID)], nil
}

func (r *memConvRepo) SetStateData(ctx context.Context, conversationID, userID string, data []byte) error {
	r.sets++
	r.states[ckey(conversationID, userID)] = data
	return nil
}

func (r *memConvRepo) List(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	return nil, nil
}

func (r *memConvRepo) Get(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	return r.convs[ckey(conversationID, userID)], nil
}

func newTestMachine(repo Repository) (*Machine, *time.Time) {
	m := NewMachine(repo, zap.NewNop())
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }
	return m, &current
}

func TestDecodeStateData_Defensive(t *testing.T) {
	cases := map[string][]byte{
		"empty":           nil,
		"garbage":         []byte("{not json at all"),
		"wrong version":   []byte(`{"version":99,"state":"PLANNING"}`),
		"unknown state":   []byte(`{"version":1,"state":"HALTED"}`),
		"missing state":   []byte(`{"version":1}`),
		"scalar payload":  []byte(`42`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			data := DecodeStateData(raw)
			assert.Equal(t, DefaultStateData(), data)
		})
	}
}

func TestDecodeStateData_ValidRoundTrip(t *testing.T) {
	orig := StateData{
		Version: 1,
		State:   StateAwaitingConfirmation,
		PendingDraft: &PlanDraft{
			PlanID:    "p-1",
			Summary:   "create quote",
			ExpiresAt: time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		},
	}
	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	got := DecodeStateData(raw)
	assert.Equal(t, StateAwaitingConfirmation, got.State)
	require.NotNil(t, got.PendingDraft)
	assert.Equal(t, "p-1", got.PendingDraft.PlanID)
}

func TestGetState_FreshConversationIsIdle(t *testing.T) {
	repo := newMemConvRepo()
	m, _ := newTestMachine(repo)

	data, err := m.GetState(context.Background(), "conv-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, data.State)
	assert.Nil(t, data.PendingDraft)
}

func TestGetState_ExpiredDraftResetsToIdle(t *testing.T) {
	repo := newMemConvRepo()
	m, current := newTestMachine(repo)

	_, err := m.SetState(context.Background(), "conv-1", "u1", StateAwaitingConfirmation, func(d *StateData) {
		draft := NewDraft(*current)
		draft.PlanID = "p-1"
		d.PendingDraft = draft
		d.BillingPreviewID = "pv-1"
	})
	require.NoError(t, err)

	*current = current.Add(domain.ConfirmationWindow + time.Second)

	data, err := m.GetState(context.Background(), "conv-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, data.State)
	assert.Nil(t, data.PendingDraft)
	assert.Empty(t, data.BillingPreviewID)

	// Зачистка персистентна: повторное чтение видит уже IDLE
	reread := DecodeStateData(repo.states[ckey("conv-1", "u1")])
	assert.Equal(t, StateIdle, reread.State)
	assert.Nil(t, reread.PendingDraft)
}

func TestGetState_LiveDraftSurvives(t *testing.T) {
	repo := newMemConvRepo()
	m, current := newTestMachine(repo)

	_, err := m.SetState(context.Background(), "conv-1", "u1", StateAwaitingConfirmation, func(d *StateData) {
		d.PendingDraft = NewDraft(*current)
	})
	require.NoError(t, err)

	*current = current.Add(domain.ConfirmationWindow - time.Second)

	data, err := m.GetState(context.Background(), "conv-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, data.State)
	assert.NotNil(t, data.PendingDraft)
}

func TestSetState_PreservesUntouchedFields(t *testing.T) {
	repo := newMemConvRepo()
	m, current := newTestMachine(repo)

	_, err := m.SetState(context.Background(), "conv-1", "u1", StatePlanning, func(d *StateData) {
		draft := NewDraft(*current)
		draft.Summary = "quote for Ana"
		d.PendingDraft = draft
	})
	require.NoError(t, err)

	// Переход без mutate не должен стереть черновик
	data, err := m.SetState(context.Background(), "conv-1", "u1", StateAwaitingConfirmation, nil)
	require.NoError(t, err)
	require.NotNil(t, data.PendingDraft)
	assert.Equal(t, "quote for Ana", data.PendingDraft.Summary)
	assert.Equal(t, *current, data.UpdatedAt)
}

func TestSetState_UnexpectedTransitionIsAppliedAnyway(t *testing.T) {
	repo := newMemConvRepo()
	m, _ := newTestMachine(repo)

	// IDLE -> EXECUTING отсутствует в таблице ожидаемых переходов
	data, err := m.SetState(context.Background(), "conv-1", "u1", StateExecuting, nil)
	require.NoError(t, err)
	assert.Equal(t, StateExecuting, data.State)
}

func TestMachine_Get_NotFoundForOtherTenant(t *testing.T) {
	repo := newMemConvRepo()
	repo.convs[ckey("conv-1", "u1")] = &Conversation{ID: "conv-1", UserID: "u1"}
	m, _ := newTestMachine(repo)

	_, err := m.Get(context.Background(), "conv-1", "u2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c, err := m.Get(context.Background(), "conv-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", c.ID)
}

func TestMachine_List_NeverNil(t *testing.T) {
	m, _ := newTestMachine(newMemConvRepo())
	convs, err := m.List(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)
}

func TestNewDraft_DeadlineMatchesConfirmationWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDraft(now)
	assert.Equal(t, now.Add(domain.ConfirmationWindow), d.ExpiresAt)
	assert.False(t, d.Expired(now.Add(domain.ConfirmationWindow)))
	assert.True(t, d.Expired(now.Add(domain.ConfirmationWindow+time.Nanosecond)))
}
