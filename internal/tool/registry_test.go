package tool

import (
	"context"
	"fmt"
	"testing"

	"github.com/gabrielauvo/autonomo/internal/audit"
	"github.com/gabrielauvo/autonomo/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memAuditor struct {
	entries []audit.Entry
}

func (a *memAuditor) Log(e audit.Entry) { a.entries = append(a.entries, e) }

// fakeTool — конфигурируемый инструмент для прогона пайплайна реестра
type fakeTool struct {
	meta       Metadata
	permit     bool
	invalidMsg string
	result     *Result
	execErr    error
	panicMsg   string
	executed   int
}

func (t *fakeTool) Metadata() Metadata { return t.meta }

func (t *fakeTool) CheckPermission(ctx context.Context, cc CallContext) bool { return t.permit }

func (t *fakeTool) Validate(params map[string]any, cc CallContext) error {
	if t.invalidMsg != "" {
		return fmt.Errorf("%s", t.invalidMsg)
	}
	return nil
}

func (t *fakeTool) Execute(ctx context.Context, params map[string]any, cc CallContext) (*Result, error) {
	t.executed++
	if t.panicMsg != "" {
		panic(t.panicMsg)
	}
	return t.result, t.execErr
}

func newTestRegistry(t *testing.T) (*Registry, *memAuditor) {
	t.Helper()
	auditor := &memAuditor{}
	return NewRegistry(auditor, nil, zap.NewNop()), auditor
}

func TestExecuteTool_UnknownTool(t *testing.T) {
	r, auditor := newTestRegistry(t)

	res := r.ExecuteTool(context.Background(), "nonexistent.tool", nil, CallContext{UserID: "u1"})

	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, "Tool 'nonexistent.tool' not found", res.Error)

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.CategorySecurityBlock, auditor.entries[0].Category)
	assert.Equal(t, "unknown_tool", auditor.entries[0].Action)
}

func TestExecuteTool_PermissionDenied(t *testing.T) {
	r, auditor := newTestRegistry(t)
	ft := &fakeTool{meta: Metadata{Name: "clients.create", Kind: domain.KindCreate}, permit: false}
	r.Register(ft)

	res := r.ExecuteTool(context.Background(), "clients.create", nil, CallContext{UserID: "u1"})

	assert.False(t, res.Success)
	assert.Equal(t, 0, ft.executed, "execution must not be reached")

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.CategorySecurityBlock, auditor.entries[0].Category)
	assert.Equal(t, "permission_denied", auditor.entries[0].Action)
}

func TestExecuteTool_ValidationFailureIsUserVisible(t *testing.T) {
	r, auditor := newTestRegistry(t)
	ft := &fakeTool{
		meta:       Metadata{Name: "clients.create", Kind: domain.KindCreate},
		permit:     true,
		invalidMsg: "parameter 'name' is required",
	}
	r.Register(ft)

	res := r.ExecuteTool(context.Background(), "clients.create", map[string]any{}, CallContext{UserID: "u1"})

	assert.False(t, res.Success)
	assert.Equal(t, "parameter 'name' is required", res.Error)
	assert.Equal(t, 0, ft.executed)

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.CategoryToolCall, auditor.entries[0].Category)
	assert.Equal(t, "validation_failed", auditor.entries[0].Action)
}

func TestExecuteTool_SuccessRecordsEntity(t *testing.T) {
	r, auditor := newTestRegistry(t)
	ft := &fakeTool{
		meta:   Metadata{Name: "clients.create", Kind: domain.KindCreate},
		permit: true,
		result: OK(map[string]any{"id": "c-1"}, EntityRef{Kind: domain.EntityClient, ID: "c-1"}),
	}
	r.Register(ft)

	res := r.ExecuteTool(context.Background(), "clients.create", map[string]any{"name": "Ana"}, CallContext{UserID: "u1"})

	assert.True(t, res.Success)
	assert.Equal(t, 1, ft.executed)

	require.Len(t, auditor.entries, 1)
	e := auditor.entries[0]
	assert.Equal(t, audit.CategoryActionSuccess, e.Category)
	assert.True(t, e.Success)
	assert.Equal(t, string(domain.EntityClient), e.EntityKind)
	assert.Equal(t, "c-1", e.EntityID)
}

func TestExecuteTool_BusinessFailure(t *testing.T) {
	r, auditor := newTestRegistry(t)
	ft := &fakeTool{
		meta:   Metadata{Name: "quotes.create", Kind: domain.KindCreate},
		permit: true,
		result: Fail("client not found"),
	}
	r.Register(ft)

	res := r.ExecuteTool(context.Background(), "quotes.create", nil, CallContext{UserID: "u1"})

	assert.False(t, res.Success)
	assert.Equal(t, "client not found", res.Error)

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.CategoryActionFailed, auditor.entries[0].Category)
}

func TestExecuteTool_PanicIsContained(t *testing.T) {
	r, auditor := newTestRegistry(t)
	ft := &fakeTool{
		meta:     Metadata{Name: "workorders.update", Kind: domain.KindUpdate},
		permit:   true,
		panicMsg: "nil map write",
	}
	r.Register(ft)

	var res *Result
	require.NotPanics(t, func() {
		res = r.ExecuteTool(context.Background(), "workorders.update", nil, CallContext{UserID: "u1"})
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "tool execution failed")

	// Ровно одна запись аудита на любой исход
	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.CategoryActionFailed, auditor.entries[0].Category)
}

func TestExecuteTool_NilResultContract(t *testing.T) {
	r, _ := newTestRegistry(t)
	ft := &fakeTool{
		meta:   Metadata{Name: "broken.tool", Kind: domain.KindRead},
		permit: true,
		result: nil,
	}
	r.Register(ft)

	res := r.ExecuteTool(context.Background(), "broken.tool", nil, CallContext{UserID: "u1"})

	require.NotNil(t, res)
	assert.False(t, res.Success)
}

func TestRequiresConfirmation_UnknownToolFailsSafe(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.True(t, r.RequiresConfirmation("does.not.exist"))

	r.Register(&fakeTool{meta: Metadata{Name: "clients.get", Kind: domain.KindRead}})
	r.Register(&fakeTool{meta: Metadata{Name: "clients.create", Kind: domain.KindCreate}})

	assert.False(t, r.RequiresConfirmation("clients.get"))
	assert.True(t, r.RequiresConfirmation("clients.create"))
}

func TestAvailableTools_FiltersByPermission(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(&fakeTool{meta: Metadata{Name: "clients.get", Kind: domain.KindRead}, permit: true})
	r.Register(&fakeTool{meta: Metadata{Name: "payments.create", Kind: domain.KindPaymentCreate}, permit: false})

	out := r.AvailableTools(context.Background(), CallContext{UserID: "u1"})

	require.Len(t, out, 1)
	assert.Equal(t, "clients.get", out[0].Name)
}

func TestAvailableTools_EmptyIsNotNil(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.AvailableTools(context.Background(), CallContext{})
	require.NotNil(t, out)
	assert.Len(t, out, 0)
}

func TestRegister_OverwriteLastWins(t *testing.T) {
	r, _ := newTestRegistry(t)
	first := &fakeTool{meta: Metadata{Name: "clients.get", Kind: domain.KindRead}, permit: true, result: OK("v1")}
	second := &fakeTool{meta: Metadata{Name: "clients.get", Kind: domain.KindRead}, permit: true, result: OK("v2")}
	r.Register(first)
	r.Register(second)

	res := r.ExecuteTool(context.Background(), "clients.get", nil, CallContext{UserID: "u1"})
	assert.Equal(t, "v2", res.Data)
	assert.Equal(t, 0, first.executed)
}
