package settlement

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "settlement.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

type fakeSettler struct {
	subtractErr error
	charged     map[uuid.UUID]decimal.Decimal
	paid        []uuid.UUID
}

func (f *fakeSettler) SubtractBalance(_ context.Context, customerID uuid.UUID, amount decimal.Decimal) error {
	if f.subtractErr != nil {
		return f.subtractErr
	}
	if f.charged == nil {
		f.charged = map[uuid.UUID]decimal.Decimal{}
	}
	f.charged[customerID] = f.charged[customerID].Add(amount)
	return nil
}

func (f *fakeSettler) MarkSessionPaid(_ context.Context, id uuid.UUID) error {
	f.paid = append(f.paid, id)
	return nil
}

func TestJournal_RecordAndTransitions(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	entry := Entry{
		SessionID:  uuid.New(),
		CustomerID: uuid.New(),
		Amount:     decimal.RequireFromString("60.00"),
		Shortfall:  decimal.RequireFromString("30.00"),
	}
	require.NoError(t, j.Record(ctx, entry))

	got, err := j.Get(ctx, entry.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, entry.Amount.Equal(got.Amount))
	assert.True(t, entry.Shortfall.Equal(got.Shortfall))
	assert.Equal(t, entry.CustomerID, got.CustomerID)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, j.MarkFailed(ctx, entry.SessionID, errors.New("backend down")))
	got, err = j.Get(ctx, entry.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "backend down", got.LastError)

	require.NoError(t, j.MarkDone(ctx, entry.SessionID))
	got, err = j.Get(ctx, entry.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.LastError)
}

func TestJournal_RecordIsIdempotentPerSession(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, j.Record(ctx, Entry{SessionID: id, CustomerID: uuid.New(), Amount: decimal.NewFromInt(30)}))
	require.NoError(t, j.MarkDone(ctx, id))
	require.NoError(t, j.Record(ctx, Entry{SessionID: id, CustomerID: uuid.New(), Amount: decimal.NewFromInt(90)}))

	got, err := j.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.True(t, decimal.NewFromInt(30).Equal(got.Amount))
}

func TestJournal_UnknownSession(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	_, err := j.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrEntryNotFound))
	assert.True(t, errors.Is(j.MarkDone(ctx, uuid.New()), ErrEntryNotFound))
}

func TestJournal_ReplayRetriesFailedOnly(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	failedCustomer := uuid.New()
	failed := Entry{SessionID: uuid.New(), CustomerID: failedCustomer, Amount: decimal.NewFromInt(60)}
	pending := Entry{SessionID: uuid.New(), CustomerID: uuid.New(), Amount: decimal.NewFromInt(30)}
	done := Entry{SessionID: uuid.New(), CustomerID: uuid.New(), Amount: decimal.NewFromInt(90)}

	for _, e := range []Entry{failed, pending, done} {
		require.NoError(t, j.Record(ctx, e))
	}
	require.NoError(t, j.MarkFailed(ctx, failed.SessionID, errors.New("timeout")))
	require.NoError(t, j.MarkDone(ctx, done.SessionID))

	settler := &fakeSettler{}
	result, err := j.Replay(ctx, settler)
	require.NoError(t, err)

	assert.Equal(t, ReplayResult{Settled: 1, Failed: 0, Unresolved: 1}, result)
	assert.Len(t, settler.charged, 1)
	assert.True(t, decimal.NewFromInt(60).Equal(settler.charged[failedCustomer]))
	assert.Equal(t, []uuid.UUID{failed.SessionID}, settler.paid)

	got, err := j.Get(ctx, failed.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)

	got, err = j.Get(ctx, pending.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestJournal_ReplayKeepsFailing(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	e := Entry{SessionID: uuid.New(), CustomerID: uuid.New(), Amount: decimal.NewFromInt(60)}
	require.NoError(t, j.Record(ctx, e))
	require.NoError(t, j.MarkFailed(ctx, e.SessionID, errors.New("timeout")))

	result, err := j.Replay(ctx, &fakeSettler{subtractErr: errors.New("still down")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	got, err := j.Get(ctx, e.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "still down", got.LastError)
}

func TestJournal_ListOrdersByCreation(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		j.now = func() time.Time { return ts }
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, j.Record(ctx, Entry{SessionID: id, CustomerID: uuid.New(), Amount: decimal.NewFromInt(30)}))
	}

	entries, err := j.List(ctx, StatusPending)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, ids[i], e.SessionID)
	}
}
