package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRepo struct {
	records map[string]*domain.IdempotencyRecord // userID|tool|key
	getErr  error
	deleted []string
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*domain.IdempotencyRecord)}
}

func rkey(userID, tool, key string) string { return userID + "|" + tool + "|" + key }

func (r *memRepo) Get(ctx context.Context, userID, toolName, key string) (*domain.IdempotencyRecord, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.records[rkey(userID, toolName, key)], nil
}

func (r *memRepo) Upsert(ctx context.Context, rec *domain.IdempotencyRecord) error {
	r.records[rkey(rec.UserID, rec.ToolName, rec.Key)] = rec
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id string) error {
	for k, rec := range r.records {
		if rec.ID == id {
			delete(r.records, k)
			r.deleted = append(r.deleted, id)
			return nil
		}
	}
	return nil
}

func (r *memRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for k, rec := range r.records {
		if now.After(rec.ExpiresAt) {
			delete(r.records, k)
			n++
		}
	}
	return n, nil
}

func newTestService(repo Repository) *Service {
	return NewService(repo, zap.NewNop())
}

func TestHashParams_FieldOrderIndependent(t *testing.T) {
	a := map[string]any{"name": "Ana", "value": 150.0, "nested": map[string]any{"x": 1.0, "y": 2.0}}
	b := map[string]any{"nested": map[string]any{"y": 2.0, "x": 1.0}, "value": 150.0, "name": "Ana"}

	assert.Equal(t, HashParams(a), HashParams(b))
}

func TestHashParams_DifferentValuesDiffer(t *testing.T) {
	a := map[string]any{"value": 150.0}
	b := map[string]any{"value": 151.0}
	assert.NotEqual(t, HashParams(a), HashParams(b))
}

func TestExecuteWithIdempotency_ExecutorRunsOnce(t *testing.T) {
	svc := newTestService(newMemRepo())
	ctx := context.Background()
	params := map[string]any{"name": "Ana"}

	calls := 0
	executor := func(ctx context.Context) Response {
		calls++
		return Response{Success: true, Data: "created", EntityIDs: []string{"c-1"}}
	}

	first, err := svc.ExecuteWithIdempotency(ctx, "u1", "clients.create", "key-1", params, executor)
	require.NoError(t, err)
	assert.False(t, first.WasIdempotent)
	assert.True(t, first.Response.Success)

	second, err := svc.ExecuteWithIdempotency(ctx, "u1", "clients.create", "key-1", params, executor)
	require.NoError(t, err)
	assert.True(t, second.WasIdempotent)
	assert.Equal(t, 1, calls, "executor must run exactly once")

	// Повтор отдает дословную копию первого ответа
	assert.Equal(t, first.Response.Data, second.Response.Data)
	assert.Equal(t, []string{"c-1"}, second.Response.EntityIDs)
}

func TestExecuteWithIdempotency_FailureIsAlsoRecorded(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	calls := 0
	executor := func(ctx context.Context) Response {
		calls++
		return Response{Success: false, Error: "gateway down"}
	}

	_, err := svc.ExecuteWithIdempotency(ctx, "u1", "payments.create", "key-1", nil, executor)
	require.NoError(t, err)

	rec := repo.records[rkey("u1", "payments.create", "key-1")]
	require.NotNil(t, rec)
	assert.Equal(t, domain.IdemFailed, rec.Status)

	// Ретрай упавшего вызова — hit, не повторное исполнение
	out, err := svc.ExecuteWithIdempotency(ctx, "u1", "payments.create", "key-1", nil, executor)
	require.NoError(t, err)
	assert.True(t, out.WasIdempotent)
	assert.Equal(t, "gateway down", out.Response.Error)
	assert.Equal(t, 1, calls)
}

func TestCheck_KeyConflictOnDifferentParams(t *testing.T) {
	svc := newTestService(newMemRepo())
	ctx := context.Background()

	_, err := svc.ExecuteWithIdempotency(ctx, "u1", "quotes.create", "key-1",
		map[string]any{"total": 100.0},
		func(ctx context.Context) Response { return Response{Success: true} })
	require.NoError(t, err)

	_, err = svc.ExecuteWithIdempotency(ctx, "u1", "quotes.create", "key-1",
		map[string]any{"total": 999.0},
		func(ctx context.Context) Response { return Response{Success: true} })

	require.Error(t, err)
	assert.True(t, IsKeyConflict(err))
	assert.ErrorIs(t, err, domain.ErrKeyConflict)
}

func TestCheck_TenantScoped(t *testing.T) {
	svc := newTestService(newMemRepo())
	ctx := context.Background()
	params := map[string]any{"name": "Ana"}

	calls := 0
	executor := func(ctx context.Context) Response {
		calls++
		return Response{Success: true}
	}

	_, err := svc.ExecuteWithIdempotency(ctx, "u1", "clients.create", "shared-key", params, executor)
	require.NoError(t, err)

	// Тот же ключ у другого tenant'а — независимое исполнение
	out, err := svc.ExecuteWithIdempotency(ctx, "u2", "clients.create", "shared-key", params, executor)
	require.NoError(t, err)
	assert.False(t, out.WasIdempotent)
	assert.Equal(t, 2, calls)
}

func TestCheck_LazyExpiry(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	params := map[string]any{"name": "Ana"}

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }

	_, err := svc.ExecuteWithIdempotency(ctx, "u1", "clients.create", "key-1", params,
		func(ctx context.Context) Response { return Response{Success: true} })
	require.NoError(t, err)

	// За пределами TTL запись мертва: ретрай исполняется заново
	current = current.Add(RecordTTL + time.Minute)

	calls := 0
	out, err := svc.ExecuteWithIdempotency(ctx, "u1", "clients.create", "key-1", params,
		func(ctx context.Context) Response { calls++; return Response{Success: true} })
	require.NoError(t, err)
	assert.False(t, out.WasIdempotent)
	assert.Equal(t, 1, calls)
	assert.Len(t, repo.deleted, 1, "expired record must be lazily removed")
}

func TestCheck_FailOpenOnStoreError(t *testing.T) {
	repo := newMemRepo()
	repo.getErr = errors.New("connection refused")
	svc := newTestService(repo)

	calls := 0
	out, err := svc.ExecuteWithIdempotency(context.Background(), "u1", "clients.create", "key-1", nil,
		func(ctx context.Context) Response { calls++; return Response{Success: true} })

	require.NoError(t, err, "store failure must not block execution")
	assert.Equal(t, 1, calls)
	assert.True(t, out.Response.Success)
}

func TestCheck_CorruptResponseDropsRecord(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	now := time.Now()
	repo.records[rkey("u1", "clients.get", "key-1")] = &domain.IdempotencyRecord{
		ID:          "rec-1",
		UserID:      "u1",
		ToolName:    "clients.get",
		Key:         "key-1",
		RequestHash: HashParams(nil),
		Response:    []byte("{not json"),
		Status:      domain.IdemSuccess,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}

	check, err := svc.Check(ctx, "u1", "clients.get", "key-1", nil)
	require.NoError(t, err)
	assert.False(t, check.Idempotent)
	assert.Len(t, repo.deleted, 1)
}

func TestCleanupExpired(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }

	for _, key := range []string{"a", "b", "c"} {
		_, err := svc.ExecuteWithIdempotency(ctx, "u1", "clients.create", key, nil,
			func(ctx context.Context) Response { return Response{Success: true} })
		require.NoError(t, err)
	}

	current = current.Add(RecordTTL + time.Minute)
	n, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Empty(t, repo.records)
}
